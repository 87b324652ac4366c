package inproc

import (
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// flowReturn is the result of pushing an item downstream.
type flowReturn int

const (
	flowOK flowReturn = iota
	flowNotLinked
	flowFlushing
	flowEOS
	flowError
)

func (f flowReturn) String() string {
	switch f {
	case flowOK:
		return "ok"
	case flowNotLinked:
		return "not-linked"
	case flowFlushing:
		return "flushing"
	case flowEOS:
		return "eos"
	default:
		return "error"
	}
}

// item is either a buffer or an event travelling through a pad.
type item struct {
	buf *media.Buffer
	ev  *media.Event
}

func (it item) mask() media.ProbeType {
	if it.ev != nil {
		return media.ProbeEventDownstream
	}
	return media.ProbeBuffer
}

type probe struct {
	id    media.ProbeID
	mask  media.ProbeType
	fn    media.ProbeFunc
	fired bool
}

func (p *probe) blocking() bool {
	return p.mask&media.ProbeIdle != 0
}

type pad struct {
	name    string
	dir     media.Direction
	owner   *element
	request bool

	// chain delivers an item into the owner (sink pads only).
	chain func(it item) flowReturn

	mu       sync.Mutex
	cond     *sync.Cond
	peer     *pad
	offset   time.Duration
	probes   []*probe
	nextID   media.ProbeID
	busy     bool
	flushing bool
}

func newPad(name string, dir media.Direction, owner *element) *pad {
	p := &pad{name: name, dir: dir, owner: owner, flushing: true}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pad) Name() string               { return p.name }
func (p *pad) Direction() media.Direction { return p.dir }

func (p *pad) Parent() media.Element {
	if p.owner == nil {
		return nil
	}
	return p.owner.self
}

func (p *pad) String() string {
	if p.owner == nil {
		return p.name
	}
	return p.owner.name + ":" + p.name
}

func (p *pad) Link(sink media.Pad) error {
	s, ok := sink.(*pad)
	if !ok {
		return fmt.Errorf("%w: %s is not an inproc pad", media.ErrLink, sink.Name())
	}
	if p.dir != media.DirectionSrc || s.dir != media.DirectionSink {
		return fmt.Errorf("%w: %s -> %s wrong direction", media.ErrLink, p, s)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.peer != nil || s.peer != nil {
		return fmt.Errorf("%w: %s -> %s already linked", media.ErrLink, p, s)
	}
	p.peer = s
	s.peer = p
	return nil
}

func (p *pad) Unlink(sink media.Pad) error {
	s, ok := sink.(*pad)
	if !ok {
		return fmt.Errorf("%w: %s is not an inproc pad", media.ErrLink, sink.Name())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.peer != s {
		return fmt.Errorf("%w: %s is not linked to %s", media.ErrLink, p, s)
	}
	p.peer = nil
	s.peer = nil
	return nil
}

func (p *pad) Peer() media.Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peer == nil {
		return nil
	}
	return p.peer
}

func (p *pad) IsLinked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

func (p *pad) SetOffset(offset time.Duration) {
	p.mu.Lock()
	p.offset = offset
	p.mu.Unlock()
}

func (p *pad) Offset() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// AddProbe installs fn. An idle probe on an idle pad fires right away on the
// calling goroutine; otherwise it fires on the streaming goroutine as soon as
// the item in flight has been handed downstream.
func (p *pad) AddProbe(mask media.ProbeType, fn media.ProbeFunc) media.ProbeID {
	p.mu.Lock()
	p.nextID++
	pr := &probe{id: p.nextID, mask: mask, fn: fn}
	p.probes = append(p.probes, pr)
	fireNow := pr.blocking() && !p.busy
	if fireNow {
		pr.fired = true
	}
	p.mu.Unlock()

	if fireNow {
		p.callIdle(pr)
	}
	return pr.id
}

func (p *pad) RemoveProbe(id media.ProbeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pr := range p.probes {
		if pr.id == id {
			p.probes = append(p.probes[:i], p.probes[i+1:]...)
			break
		}
	}
	p.cond.Broadcast()
}

func (p *pad) SendEvent(ev media.Event) bool {
	it := item{ev: &ev}
	if p.dir == media.DirectionSink {
		return p.receive(it) == flowOK
	}
	return p.push(it) == flowOK
}

func (p *pad) setFlushing(flushing bool) {
	p.mu.Lock()
	p.flushing = flushing
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pad) isFlushing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushing
}

func (p *pad) blockedLocked() bool {
	for _, pr := range p.probes {
		if pr.blocking() && pr.fired {
			return true
		}
	}
	return false
}

// push sends it downstream from a src pad. It blocks while a fired idle
// probe holds the pad.
func (p *pad) push(it item) flowReturn {
	p.mu.Lock()
	for p.blockedLocked() && !p.flushing {
		p.cond.Wait()
	}
	if p.flushing && it.ev == nil {
		p.mu.Unlock()
		return flowFlushing
	}
	p.busy = true
	probes := p.matchingLocked(it.mask())
	offset := p.offset
	p.mu.Unlock()

	ret := flowOK
	if p.runProbes(probes, it) {
		ret = p.deliver(shift(it, offset))
	}
	p.idle()
	return ret
}

// receive hands it to the owner of a sink pad.
func (p *pad) receive(it item) flowReturn {
	p.mu.Lock()
	if p.flushing && it.ev == nil {
		p.mu.Unlock()
		return flowFlushing
	}
	probes := p.matchingLocked(it.mask())
	offset := p.offset
	p.mu.Unlock()

	if !p.runProbes(probes, it) {
		return flowOK
	}
	if p.chain == nil {
		return flowNotLinked
	}
	return p.chain(shift(it, offset))
}

func (p *pad) deliver(it item) flowReturn {
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()
	if peer == nil {
		if it.ev != nil {
			return flowOK
		}
		return flowNotLinked
	}
	return peer.receive(it)
}

func (p *pad) matchingLocked(mask media.ProbeType) []*probe {
	var out []*probe
	for _, pr := range p.probes {
		if pr.mask&mask != 0 {
			out = append(out, pr)
		}
	}
	return out
}

// runProbes reports whether the item may continue.
func (p *pad) runProbes(probes []*probe, it item) bool {
	for _, pr := range probes {
		info := media.ProbeInfo{Type: it.mask(), Buffer: it.buf, Event: it.ev}
		switch pr.fn(p, info) {
		case media.ProbeDrop:
			return false
		case media.ProbeRemove:
			p.RemoveProbe(pr.id)
		}
	}
	return true
}

func (p *pad) idle() {
	p.mu.Lock()
	p.busy = false
	var fire []*probe
	for _, pr := range p.probes {
		if pr.blocking() && !pr.fired {
			pr.fired = true
			fire = append(fire, pr)
		}
	}
	p.mu.Unlock()

	for _, pr := range fire {
		p.callIdle(pr)
	}
}

func (p *pad) callIdle(pr *probe) {
	switch pr.fn(p, media.ProbeInfo{Type: media.ProbeIdle}) {
	case media.ProbeRemove, media.ProbePass:
		p.RemoveProbe(pr.id)
	}
}

func shift(it item, offset time.Duration) item {
	if offset == 0 || it.buf == nil {
		return it
	}
	b := *it.buf
	b.PTS += offset
	return item{buf: &b}
}
