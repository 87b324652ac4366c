// Package media defines the processing-node boundary the graph controller is
// written against.
//
// The types mirror the GStreamer object model (elements, bins, pads, probes,
// a message bus) without depending on it. Two runtimes implement the
// interfaces: internal/media/gstreamer (go-gst, production) and
// internal/media/inproc (pure Go, synthetic source and tests).
package media

import (
	"errors"
	"time"
)

var (
	// ErrUnknownFactory is returned when a runtime has no element of the requested kind.
	ErrUnknownFactory = errors.New("media: unknown element factory")
	// ErrUnknownProperty is returned for properties the element does not declare.
	ErrUnknownProperty = errors.New("media: unknown property")
	// ErrNoPad is returned when a requested pad or pad template does not exist.
	ErrNoPad = errors.New("media: no such pad")
	// ErrLink is returned when two pads cannot be linked.
	ErrLink = errors.New("media: link failed")
	// ErrStateChange is returned when an element refuses a state transition.
	ErrStateChange = errors.New("media: state change failed")
)

// State is the lifecycle state of an element.
//
// StateIdle doubles as the stopped state: stopping an element drives it back
// to idle and releases its resources.
type State int

const (
	StateIdle State = iota
	StateReady
	StatePaused
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// StateChangeReturn is the immediate outcome of a state change request.
type StateChangeReturn int

const (
	StateChangeFailure StateChangeReturn = iota
	StateChangeSuccess
	StateChangeAsync
	StateChangeNoPreroll
)

func (r StateChangeReturn) String() string {
	switch r {
	case StateChangeFailure:
		return "failure"
	case StateChangeSuccess:
		return "success"
	case StateChangeAsync:
		return "async"
	case StateChangeNoPreroll:
		return "no-preroll"
	default:
		return "unknown"
	}
}

// Direction of a pad.
type Direction int

const (
	DirectionSrc Direction = iota
	DirectionSink
)

func (d Direction) String() string {
	if d == DirectionSink {
		return "sink"
	}
	return "src"
}

// Element is a named processing node with a typed property bag.
type Element interface {
	Name() string
	Factory() string

	Property(name string) (any, error)
	SetProperty(name string, value any) error
	// Properties lists the property names the element declares.
	Properties() []string

	SetState(state State) (StateChangeReturn, error)
	CurrentState() State
	// SyncStateWithParent moves the element to the state of the bin it lives in.
	SyncStateWithParent() error

	// StaticPad returns nil when the element has no such pad.
	StaticPad(name string) Pad
	RequestPad(template string) (Pad, error)
	ReleaseRequestPad(pad Pad)
	Pads(dir Direction) []Pad

	// Link connects the first free src pad of the element to the first free
	// sink pad of dst.
	Link(dst Element) error
	// OnPadAdded registers fn for pads that appear after construction.
	OnPadAdded(fn func(pad Pad))
}

// Bin is an element that contains other elements.
type Bin interface {
	Element

	Add(elems ...Element) error
	Remove(elems ...Element) error
	ByName(name string) (Element, bool)
	Children() []Element
	// AddGhostPad exposes target on the bin under name.
	AddGhostPad(name string, target Pad) (Pad, error)
}

// Pipeline is the top-level bin. It owns the message bus.
type Pipeline interface {
	Bin
	Bus() Bus
}

// Bus delivers asynchronous messages posted by elements.
type Bus interface {
	// Pop waits up to timeout for the next message and returns nil on timeout.
	Pop(timeout time.Duration) *Message
	Post(msg *Message)
}

// Runtime creates processing nodes.
type Runtime interface {
	Name() string
	NewElement(factory, name string) (Element, error)
	NewBin(name string) (Bin, error)
	NewPipeline(name string) (Pipeline, error)
}

// LinkMany links elems in order.
func LinkMany(elems ...Element) error {
	for i := 0; i+1 < len(elems); i++ {
		if err := elems[i].Link(elems[i+1]); err != nil {
			return err
		}
	}
	return nil
}
