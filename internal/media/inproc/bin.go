package inproc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

type bin struct {
	*element

	cmu      sync.Mutex
	children []node
}

func newBin(rt *Runtime, factory, name string) *bin {
	b := &bin{}
	b.element = newElement(rt, factory, name, binBehavior{b})
	b.element.self = b
	return b
}

func (b *bin) Add(elems ...media.Element) error {
	b.cmu.Lock()
	defer b.cmu.Unlock()

	for _, me := range elems {
		n, ok := me.(node)
		if !ok {
			return fmt.Errorf("%w: %s is not an inproc element", media.ErrLink, me.Name())
		}
		child := n.base()
		child.mu.Lock()
		if child.parent != nil {
			child.mu.Unlock()
			return fmt.Errorf("%w: %s already has parent %s", media.ErrLink, child.name, child.parent.name)
		}
		for _, c := range b.children {
			if c.Name() == child.name {
				child.mu.Unlock()
				return fmt.Errorf("%w: %s already contains %s", media.ErrLink, b.name, child.name)
			}
		}
		child.parent = b
		child.mu.Unlock()
		b.children = append(b.children, n)
	}
	return nil
}

func (b *bin) Remove(elems ...media.Element) error {
	b.cmu.Lock()
	defer b.cmu.Unlock()

	for _, me := range elems {
		found := false
		for i, c := range b.children {
			if c.Name() == me.Name() {
				b.children = append(b.children[:i], b.children[i+1:]...)
				child := c.base()
				child.mu.Lock()
				child.parent = nil
				child.mu.Unlock()
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s not in %s", media.ErrLink, me.Name(), b.name)
		}
	}
	return nil
}

func (b *bin) ByName(name string) (media.Element, bool) {
	for _, c := range b.snapshot() {
		if c.Name() == name {
			return c, true
		}
		if sub, ok := c.(*bin); ok {
			if found, ok := sub.ByName(name); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func (b *bin) Children() []media.Element {
	var out []media.Element
	for _, c := range b.snapshot() {
		out = append(out, c)
	}
	return out
}

func (b *bin) snapshot() []node {
	b.cmu.Lock()
	defer b.cmu.Unlock()
	return append([]node(nil), b.children...)
}

// AddGhostPad exposes target on the bin. A ghost src pad is fed through an
// internal proxy so probes and offsets on the ghost see the data.
func (b *bin) AddGhostPad(name string, target media.Pad) (media.Pad, error) {
	t, ok := target.(*pad)
	if !ok {
		return nil, fmt.Errorf("%w: ghost target %s is not an inproc pad", media.ErrNoPad, target.Name())
	}
	if b.pad(name) != nil {
		return nil, fmt.Errorf("%w: %s already has pad %s", media.ErrLink, b.name, name)
	}

	g := newPad(name, t.dir, b.element)
	switch t.dir {
	case media.DirectionSink:
		g.chain = t.receive
	case media.DirectionSrc:
		proxy := newPad("proxy_"+name, media.DirectionSink, b.element)
		proxy.chain = g.push
		if err := t.Link(proxy); err != nil {
			return nil, err
		}
		proxy.setFlushing(false)
	}
	if b.CurrentState() >= media.StatePaused {
		g.setFlushing(false)
	}

	b.mu.Lock()
	b.pads = append(b.pads, g)
	b.mu.Unlock()
	return g, nil
}

// sinksEOS reports whether every leaf sink below b has seen EOS.
func (b *bin) sinksEOS() bool {
	for _, c := range b.snapshot() {
		if sub, ok := c.(*bin); ok {
			if !sub.sinksEOS() {
				return false
			}
			continue
		}
		if s, ok := c.base().impl.(eosTracker); ok && !s.gotEOS() {
			return false
		}
	}
	return true
}

type binBehavior struct {
	b *bin
}

func (binBehavior) handle(*element, *pad, item) flowReturn { return flowNotLinked }

func (bb binBehavior) transition(_ *element, from, to media.State) error {
	children := bb.b.snapshot()
	sortByRank(children, to > from)
	for _, c := range children {
		if _, err := c.SetState(to); err != nil {
			return err
		}
	}
	return nil
}

// eosTracker is implemented by sinks so the pipeline can aggregate EOS.
type eosTracker interface {
	gotEOS() bool
}

type pipeline struct {
	*bin
	bus *bus

	stateMu sync.Mutex
}

func newPipeline(rt *Runtime, name string) *pipeline {
	p := &pipeline{bus: newBus()}
	p.bin = newBin(rt, "pipeline", name)
	p.bin.element.self = p
	return p
}

func (p *pipeline) Bus() media.Bus { return p.bus }

// SetState completes asynchronously and posts a StateChanged message for
// every step, like a live GStreamer pipeline.
func (p *pipeline) SetState(target media.State) (media.StateChangeReturn, error) {
	if p.CurrentState() == target {
		return media.StateChangeSuccess, nil
	}
	go func() {
		p.stateMu.Lock()
		defer p.stateMu.Unlock()
		for {
			from := p.CurrentState()
			if from == target {
				return
			}
			to := from + 1
			if target < from {
				to = from - 1
			}
			if err := p.step(from, to); err != nil {
				slog.Warn("inproc: pipeline state change failed",
					"pipeline", p.name,
					"from", from,
					"to", to,
					"error", err,
				)
				p.bus.Post(media.NewErrorMessage(p.name, err, fmt.Sprintf("state change %s -> %s", from, to)))
				return
			}
			p.bus.Post(media.NewStateChangedMessage(p.name, from, to))
		}
	}()
	return media.StateChangeAsync, nil
}

// checkEOS posts the pipeline EOS once every sink has finished.
func (p *pipeline) checkEOS() {
	if p.sinksEOS() {
		p.bus.Post(media.NewEOSMessage(p.name))
	}
}

// bus is an unbounded FIFO. Posting never blocks a streaming goroutine.
type bus struct {
	mu     sync.Mutex
	queue  []*media.Message
	notify chan struct{}
}

func newBus() *bus {
	return &bus{notify: make(chan struct{}, 1)}
}

func (b *bus) Post(msg *media.Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *bus) Pop(timeout time.Duration) *media.Message {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			msg := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return msg
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-deadline.C:
			return nil
		}
	}
}
