package graph

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// PipelineState is the externally observed state of the root graph.
type PipelineState int

const (
	StateStopped PipelineState = iota
	StatePending
	StatePaused
	StatePlaying
)

func (s PipelineState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StatePending:
		return "PENDING"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON documents.
func (s PipelineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PipelineState) UnmarshalText(b []byte) error {
	for _, st := range []PipelineState{StateStopped, StatePending, StatePaused, StatePlaying} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", b)
}

// EventType identifies an outward event.
type EventType int

const (
	EventMotionChanged EventType = iota
	EventStateChanged
	EventError
	EventEOS
	EventPeerIDReady
	EventRecordingStarted
	EventRecordingFinished
	EventBranchAdded
	EventBranchRemoved
)

func (t EventType) String() string {
	switch t {
	case EventMotionChanged:
		return "motion"
	case EventStateChanged:
		return "state-changed"
	case EventError:
		return "error"
	case EventEOS:
		return "eos"
	case EventPeerIDReady:
		return "peer-id-ready"
	case EventRecordingStarted:
		return "recording-started"
	case EventRecordingFinished:
		return "recording-finished"
	case EventBranchAdded:
		return "branch-added"
	case EventBranchRemoved:
		return "branch-removed"
	default:
		return "unknown"
	}
}

// Event is published by the controller's dispatch loop. Only the fields
// relevant to Type are set.
type Event struct {
	Type     EventType
	StreamID string
	Time     time.Time

	// MotionChanged
	InMotion bool
	// StateChanged
	State PipelineState
	// Error
	Err      error
	Kind     Kind
	Category media.ErrorCategory
	Source   string
	// PeerIDReady
	PeerID string
	// RecordingStarted / RecordingFinished
	Session *RecordingSession
	// BranchAdded / BranchRemoved
	Key string
}

func (e Event) String() string {
	switch e.Type {
	case EventMotionChanged:
		return fmt.Sprintf("%s in_motion=%t", e.Type, e.InMotion)
	case EventStateChanged:
		return fmt.Sprintf("%s %s", e.Type, e.State)
	case EventError:
		return fmt.Sprintf("%s [%s/%s] %v", e.Type, e.Kind, e.Category, e.Err)
	case EventPeerIDReady:
		return fmt.Sprintf("%s %s", e.Type, e.PeerID)
	case EventRecordingStarted, EventRecordingFinished:
		if e.Session != nil {
			return fmt.Sprintf("%s %s", e.Type, e.Session.Path)
		}
	case EventBranchAdded, EventBranchRemoved:
		return fmt.Sprintf("%s %s", e.Type, e.Key)
	}
	return e.Type.String()
}

// EventSink receives controller events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Publish(Event) {}
