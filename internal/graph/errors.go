package graph

import (
	"errors"
	"fmt"
)

// Kind classifies graph failures by the step that produced them.
type Kind int

const (
	// KindConstruction: a node or branch could not be created.
	KindConstruction Kind = iota
	// KindLinking: a structural add or link failed.
	KindLinking
	// KindStateChange: a state change failed or was not confirmed in time.
	KindStateChange
	// KindRuntime: the media runtime reported an error on the bus.
	KindRuntime
	// KindEOS: the root source ended.
	KindEOS
)

func (k Kind) String() string {
	switch k {
	case KindConstruction:
		return "construction"
	case KindLinking:
		return "linking"
	case KindStateChange:
		return "state-change"
	case KindRuntime:
		return "runtime"
	case KindEOS:
		return "eos"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownKey     = errors.New("graph: unknown branch key")
	ErrKeyExists      = errors.New("graph: branch key already attached")
	ErrOutletBusy     = errors.New("graph: outlet already feeds a branch")
	ErrStateTimeout   = errors.New("graph: state change not confirmed in time")
	ErrAlreadyStarted = errors.New("graph: already started")
	ErrNotStarted     = errors.New("graph: not started")
	ErrInterrupted    = errors.New("graph: pipeline interrupted")
	ErrClosed         = errors.New("graph: closed")
)

// Error is the typed failure surfaced by every structural or state-change
// operation.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("graph: %s %s: %s: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("graph: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}
