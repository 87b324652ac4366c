// Package gstreamer implements the media runtime on top of GStreamer through
// go-gst. Element factories, properties and signals are the real GStreamer
// ones; this package only adapts the object model to internal/media.
package gstreamer

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

var initOnce sync.Once

// Runtime implements media.Runtime.
type Runtime struct{}

// New initializes GStreamer (once per process) and returns the runtime.
func New() *Runtime {
	initOnce.Do(func() { gst.Init(nil) })
	return &Runtime{}
}

func (r *Runtime) Name() string { return "gstreamer" }

func (r *Runtime) NewElement(factory, name string) (media.Element, error) {
	el, err := gst.NewElementWithName(factory, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", media.ErrUnknownFactory, factory, err)
	}
	return wrapElement(el), nil
}

func (r *Runtime) NewBin(name string) (media.Bin, error) {
	b := gst.NewBin(name)
	if b == nil {
		return nil, fmt.Errorf("gstreamer: could not create bin %q", name)
	}
	return &bin{element: element{el: b.Element}, b: b}, nil
}

func (r *Runtime) NewPipeline(name string) (media.Pipeline, error) {
	p, err := gst.NewPipeline(name)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: could not create pipeline: %w", err)
	}
	pl := &pipeline{
		bin: bin{element: element{el: p.Element}, b: p.Bin},
		p:   p,
	}
	pl.bus = newBus(p.GetPipelineBus())
	return pl, nil
}

func toGst(s media.State) gst.State {
	switch s {
	case media.StateReady:
		return gst.StateReady
	case media.StatePaused:
		return gst.StatePaused
	case media.StateRunning:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGst(s gst.State) media.State {
	switch s {
	case gst.StateReady:
		return media.StateReady
	case gst.StatePaused:
		return media.StatePaused
	case gst.StatePlaying:
		return media.StateRunning
	default:
		return media.StateIdle
	}
}

// element wraps a *gst.Element. Wrappers are created on demand, so two
// wrappers of the same element are not == comparable; compare names instead.
type element struct {
	el *gst.Element
}

func wrapElement(el *gst.Element) media.Element {
	if el == nil {
		return nil
	}
	return &element{el: el}
}

func unwrapElement(e media.Element) (*gst.Element, error) {
	switch v := e.(type) {
	case *element:
		return v.el, nil
	case *bin:
		return v.el, nil
	case *pipeline:
		return v.el, nil
	}
	return nil, fmt.Errorf("%w: %s is not a gstreamer element", media.ErrLink, e.Name())
}

func (e *element) Name() string { return e.el.GetName() }

func (e *element) Factory() string {
	if f := e.el.GetFactory(); f != nil {
		return f.GetName()
	}
	return ""
}

func (e *element) Property(name string) (any, error) {
	v, err := e.el.GetProperty(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", media.ErrUnknownProperty, e.Factory(), name, err)
	}
	return v, nil
}

func (e *element) SetProperty(name string, value any) error {
	if d, ok := value.(time.Duration); ok {
		value = uint64(d)
	}
	if err := e.el.SetProperty(name, value); err != nil {
		return fmt.Errorf("%w: %s.%s: %v", media.ErrUnknownProperty, e.Factory(), name, err)
	}
	return nil
}

func (e *element) Properties() []string {
	specs := e.el.ListProperties()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name())
	}
	return names
}

func (e *element) SetState(state media.State) (media.StateChangeReturn, error) {
	if err := e.el.SetState(toGst(state)); err != nil {
		return media.StateChangeFailure, fmt.Errorf("%w: %s -> %s: %v", media.ErrStateChange, e.Name(), state, err)
	}
	if fromGst(e.el.GetCurrentState()) == state {
		return media.StateChangeSuccess, nil
	}
	return media.StateChangeAsync, nil
}

func (e *element) CurrentState() media.State {
	return fromGst(e.el.GetCurrentState())
}

func (e *element) SyncStateWithParent() error {
	if !e.el.SyncStateWithParent() {
		return fmt.Errorf("%w: %s could not sync with its parent", media.ErrStateChange, e.Name())
	}
	return nil
}

func (e *element) StaticPad(name string) media.Pad {
	p := e.el.GetStaticPad(name)
	if p == nil {
		return nil
	}
	return &pad{p: p}
}

func (e *element) RequestPad(template string) (media.Pad, error) {
	p := e.el.GetRequestPad(template)
	if p == nil {
		return nil, fmt.Errorf("%w: %s has no request pad for %q", media.ErrNoPad, e.Name(), template)
	}
	return &pad{p: p}, nil
}

func (e *element) ReleaseRequestPad(p media.Pad) {
	if gp, ok := p.(*pad); ok {
		e.el.ReleaseRequestPad(gp.p)
	}
}

func (e *element) Pads(dir media.Direction) []media.Pad {
	var (
		pads []*gst.Pad
		err  error
	)
	if dir == media.DirectionSrc {
		pads, err = e.el.GetSrcPads()
	} else {
		pads, err = e.el.GetSinkPads()
	}
	if err != nil {
		return nil
	}
	out := make([]media.Pad, 0, len(pads))
	for _, p := range pads {
		out = append(out, &pad{p: p})
	}
	return out
}

func (e *element) Link(dst media.Element) error {
	d, err := unwrapElement(dst)
	if err != nil {
		return err
	}
	if err := e.el.Link(d); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", media.ErrLink, e.Name(), dst.Name(), err)
	}
	return nil
}

func (e *element) OnPadAdded(fn func(media.Pad)) {
	e.el.Connect("pad-added", func(self *gst.Element, p *gst.Pad) {
		fn(&pad{p: p})
	})
}

type bin struct {
	element
	b *gst.Bin
}

func (b *bin) Add(elems ...media.Element) error {
	for _, me := range elems {
		el, err := unwrapElement(me)
		if err != nil {
			return err
		}
		if err := b.b.Add(el); err != nil {
			return fmt.Errorf("%w: add %s to %s: %v", media.ErrLink, me.Name(), b.Name(), err)
		}
	}
	return nil
}

func (b *bin) Remove(elems ...media.Element) error {
	for _, me := range elems {
		el, err := unwrapElement(me)
		if err != nil {
			return err
		}
		if err := b.b.Remove(el); err != nil {
			return fmt.Errorf("%w: remove %s from %s: %v", media.ErrLink, me.Name(), b.Name(), err)
		}
	}
	return nil
}

func (b *bin) ByName(name string) (media.Element, bool) {
	el, err := b.b.GetElementByName(name)
	if err != nil || el == nil {
		return nil, false
	}
	return wrapElement(el), true
}

func (b *bin) Children() []media.Element {
	els, err := b.b.GetElements()
	if err != nil {
		return nil
	}
	out := make([]media.Element, 0, len(els))
	for _, el := range els {
		out = append(out, wrapElement(el))
	}
	return out
}

func (b *bin) AddGhostPad(name string, target media.Pad) (media.Pad, error) {
	t, ok := target.(*pad)
	if !ok {
		return nil, fmt.Errorf("%w: ghost target %s is not a gstreamer pad", media.ErrNoPad, target.Name())
	}
	ghost := gst.NewGhostPad(name, t.p)
	if ghost == nil {
		return nil, fmt.Errorf("%w: could not create ghost pad %s on %s", media.ErrNoPad, name, b.Name())
	}
	if !b.el.AddPad(ghost.Pad) {
		return nil, fmt.Errorf("%w: %s refused ghost pad %s", media.ErrLink, b.Name(), name)
	}
	return &pad{p: ghost.Pad}, nil
}

type pipeline struct {
	bin
	p   *gst.Pipeline
	bus *bus
}

func (p *pipeline) Bus() media.Bus { return p.bus }

// Add watches signals that the graph consumes as bus messages before adding
// the elements.
func (p *pipeline) Add(elems ...media.Element) error {
	for _, el := range elems {
		p.bus.watch(el)
	}
	return p.bin.Add(elems...)
}
