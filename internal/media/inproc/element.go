package inproc

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// behavior is what distinguishes one element kind from another.
type behavior interface {
	// handle processes an item that arrived on sink pad in.
	handle(e *element, in *pad, it item) flowReturn
	// transition performs a single state step. Returning an error refuses it.
	transition(e *element, from, to media.State) error
}

// node is implemented by plain elements and bins.
type node interface {
	media.Element
	base() *element
}

type element struct {
	rt      *Runtime
	name    string
	factory string
	impl    behavior
	self    node

	mu        sync.Mutex
	props     map[string]any
	order     []string
	state     media.State
	parent    *bin
	pads      []*pad
	templates map[string]media.Direction
	requests  int
	padAdded  []func(media.Pad)
}

func newElement(rt *Runtime, factory, name string, impl behavior) *element {
	e := &element{
		rt:        rt,
		name:      name,
		factory:   factory,
		impl:      impl,
		props:     make(map[string]any),
		templates: make(map[string]media.Direction),
	}
	e.self = e
	return e
}

func (e *element) base() *element { return e }

func (e *element) Name() string    { return e.name }
func (e *element) Factory() string { return e.factory }

// declare registers a property with its default value. The default fixes the
// property type.
func (e *element) declare(name string, def any) {
	if _, ok := e.props[name]; !ok {
		e.order = append(e.order, name)
	}
	e.props[name] = def
}

func (e *element) Property(name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", media.ErrUnknownProperty, e.factory, name)
	}
	return v, nil
}

func (e *element) SetProperty(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.props[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", media.ErrUnknownProperty, e.factory, name)
	}
	v, err := coerce(cur, value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.factory, name, err)
	}
	e.props[name] = v
	return nil
}

func (e *element) Properties() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// setInternal updates a property from inside the element (read-only stats).
func (e *element) setInternal(name string, value any) {
	e.mu.Lock()
	e.props[name] = value
	e.mu.Unlock()
}

func (e *element) intProp(name string) int {
	v, _ := e.Property(name)
	n, _ := v.(int)
	return n
}

func (e *element) uintProp(name string) uint64 {
	v, _ := e.Property(name)
	n, _ := v.(uint64)
	return n
}

func (e *element) boolProp(name string) bool {
	v, _ := e.Property(name)
	b, _ := v.(bool)
	return b
}

func (e *element) stringProp(name string) string {
	v, _ := e.Property(name)
	s, _ := v.(string)
	return s
}

func (e *element) floatProp(name string) float64 {
	v, _ := e.Property(name)
	f, _ := v.(float64)
	return f
}

func (e *element) CurrentState() media.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetState walks one step at a time from the current state to target.
func (e *element) SetState(target media.State) (media.StateChangeReturn, error) {
	return e.self.base().changeState(target)
}

func (e *element) changeState(target media.State) (media.StateChangeReturn, error) {
	for {
		from := e.CurrentState()
		if from == target {
			return media.StateChangeSuccess, nil
		}
		to := from + 1
		if target < from {
			to = from - 1
		}
		if err := e.step(from, to); err != nil {
			return media.StateChangeFailure, err
		}
	}
}

func (e *element) step(from, to media.State) error {
	if from == media.StatePaused && to == media.StateReady {
		e.setPadsFlushing(true)
	}
	if err := e.impl.transition(e, from, to); err != nil {
		slog.Debug("inproc: state change refused",
			"element", e.name,
			"from", from,
			"to", to,
			"error", err,
		)
		e.post(media.NewErrorMessage(e.name, err, fmt.Sprintf("%s: %s -> %s", e.name, from, to)))
		return fmt.Errorf("%w: %s %s -> %s: %v", media.ErrStateChange, e.name, from, to, err)
	}
	if from == media.StateReady && to == media.StatePaused {
		e.setPadsFlushing(false)
	}
	e.mu.Lock()
	e.state = to
	e.mu.Unlock()
	return nil
}

func (e *element) SyncStateWithParent() error {
	e.mu.Lock()
	parent := e.parent
	e.mu.Unlock()
	if parent == nil {
		return fmt.Errorf("%w: %s has no parent", media.ErrStateChange, e.name)
	}
	_, err := e.self.SetState(parent.CurrentState())
	return err
}

func (e *element) setPadsFlushing(flushing bool) {
	e.mu.Lock()
	pads := append([]*pad(nil), e.pads...)
	e.mu.Unlock()
	for _, p := range pads {
		p.setFlushing(flushing)
	}
}

// post sends msg to the bus of the pipeline the element lives in, if any.
func (e *element) post(msg *media.Message) {
	if p := e.pipeline(); p != nil {
		p.bus.Post(msg)
	}
}

func (e *element) pipeline() *pipeline {
	var cur *element = e
	for cur != nil {
		cur.mu.Lock()
		parent := cur.parent
		cur.mu.Unlock()
		if parent == nil {
			if pl, ok := cur.self.(*pipeline); ok {
				return pl
			}
			return nil
		}
		cur = parent.element
	}
	return nil
}

func (e *element) addStaticPad(name string, dir media.Direction) *pad {
	p := newPad(name, dir, e)
	if dir == media.DirectionSink {
		p.chain = func(it item) flowReturn { return e.impl.handle(e, p, it) }
	}
	e.mu.Lock()
	e.pads = append(e.pads, p)
	e.mu.Unlock()
	return p
}

// addDynamicPad adds a src pad after construction and notifies listeners.
func (e *element) addDynamicPad(name string) *pad {
	p := e.addStaticPad(name, media.DirectionSrc)
	if e.CurrentState() >= media.StatePaused {
		p.setFlushing(false)
	}
	e.mu.Lock()
	listeners := slices.Clone(e.padAdded)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(p)
	}
	return p
}

func (e *element) OnPadAdded(fn func(media.Pad)) {
	e.mu.Lock()
	e.padAdded = append(e.padAdded, fn)
	e.mu.Unlock()
}

func (e *element) StaticPad(name string) media.Pad {
	if p := e.pad(name); p != nil {
		return p
	}
	return nil
}

func (e *element) pad(name string) *pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pads {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (e *element) RequestPad(template string) (media.Pad, error) {
	p, err := e.requestPad(template)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *element) requestPad(template string) (*pad, error) {
	e.mu.Lock()
	dir, ok := e.templates[template]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s has no template %q", media.ErrNoPad, e.name, template)
	}
	name := strings.Replace(template, "%u", strconv.Itoa(e.requests), 1)
	e.requests++
	running := e.state >= media.StatePaused
	e.mu.Unlock()

	p := e.addStaticPad(name, dir)
	p.request = true
	if running {
		p.setFlushing(false)
	}
	return p, nil
}

func (e *element) ReleaseRequestPad(mp media.Pad) {
	p, ok := mp.(*pad)
	if !ok || !p.request {
		return
	}
	if peer := p.Peer(); peer != nil {
		if p.dir == media.DirectionSrc {
			_ = p.Unlink(peer)
		} else {
			_ = peer.Unlink(p)
		}
	}
	p.setFlushing(true)

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.pads {
		if cur == p {
			e.pads = append(e.pads[:i], e.pads[i+1:]...)
			return
		}
	}
}

func (e *element) Pads(dir media.Direction) []media.Pad {
	var out []media.Pad
	for _, p := range e.padsOf(dir) {
		out = append(out, p)
	}
	return out
}

func (e *element) padsOf(dir media.Direction) []*pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*pad
	for _, p := range e.pads {
		if p.dir == dir {
			out = append(out, p)
		}
	}
	return out
}

// freePad returns an unlinked pad of dir, requesting one when the element
// only offers request pads.
func (e *element) freePad(dir media.Direction) (*pad, error) {
	for _, p := range e.padsOf(dir) {
		if !p.IsLinked() && !p.request {
			return p, nil
		}
	}
	e.mu.Lock()
	var template string
	for t, d := range e.templates {
		if d == dir {
			template = t
			break
		}
	}
	e.mu.Unlock()
	if template == "" {
		return nil, fmt.Errorf("%w: %s has no free %s pad", media.ErrNoPad, e.name, dir)
	}
	return e.requestPad(template)
}

func (e *element) Link(dst media.Element) error {
	d, ok := dst.(node)
	if !ok {
		return fmt.Errorf("%w: %s is not an inproc element", media.ErrLink, dst.Name())
	}
	src, err := e.self.base().freePad(media.DirectionSrc)
	if err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", media.ErrLink, e.name, dst.Name(), err)
	}
	sink, err := d.base().freePad(media.DirectionSink)
	if err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", media.ErrLink, e.name, dst.Name(), err)
	}
	return src.Link(sink)
}

// forward pushes it on every src pad and reports the best result.
func (e *element) forward(it item) flowReturn {
	ret := flowNotLinked
	for _, p := range e.padsOf(media.DirectionSrc) {
		if r := p.push(it); r == flowOK {
			ret = flowOK
		} else if ret != flowOK {
			ret = r
		}
	}
	if it.ev != nil {
		return flowOK
	}
	return ret
}

// rank orders children for upward state changes: sinks first, sources last.
func (e *element) rank() int {
	hasSrc := len(e.padsOf(media.DirectionSrc)) > 0 || e.hasTemplate(media.DirectionSrc)
	hasSink := len(e.padsOf(media.DirectionSink)) > 0 || e.hasTemplate(media.DirectionSink)
	switch {
	case hasSink && !hasSrc:
		return 0
	case hasSrc && !hasSink:
		return 2
	default:
		return 1
	}
}

func (e *element) hasTemplate(dir media.Direction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.templates {
		if d == dir {
			return true
		}
	}
	return false
}

func sortByRank(children []node, upward bool) {
	sort.SliceStable(children, func(i, j int) bool {
		ri, rj := children[i].base().rank(), children[j].base().rank()
		if upward {
			return ri < rj
		}
		return ri > rj
	})
}

// noop is embedded by behaviors without state side effects.
type noop struct{}

func (noop) transition(*element, media.State, media.State) error { return nil }
