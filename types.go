package motionrecorder

import (
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/eventbus"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

// State is the externally observed pipeline state.
type State = graph.PipelineState

const (
	StateStopped = graph.StateStopped
	StatePending = graph.StatePending
	StatePaused  = graph.StatePaused
	StatePlaying = graph.StatePlaying
)

// Event is published for motion changes, state changes, errors, EOS,
// transport peers, recordings and dynamic branches. Only the fields
// relevant to Type are set.
type Event = graph.Event

// EventType identifies an Event.
type EventType = graph.EventType

const (
	EventMotionChanged     = graph.EventMotionChanged
	EventStateChanged      = graph.EventStateChanged
	EventError             = graph.EventError
	EventEOS               = graph.EventEOS
	EventPeerIDReady       = graph.EventPeerIDReady
	EventRecordingStarted  = graph.EventRecordingStarted
	EventRecordingFinished = graph.EventRecordingFinished
	EventBranchAdded       = graph.EventBranchAdded
	EventBranchRemoved     = graph.EventBranchRemoved
)

// ErrorKind classifies failures by the step that produced them.
type ErrorKind = graph.Kind

const (
	KindConstruction = graph.KindConstruction
	KindLinking      = graph.KindLinking
	KindStateChange  = graph.KindStateChange
	KindRuntime      = graph.KindRuntime
	KindEOS          = graph.KindEOS
)

// Error is the typed failure returned by structural and state operations.
type Error = graph.Error

var (
	ErrUnknownKey     = graph.ErrUnknownKey
	ErrKeyExists      = graph.ErrKeyExists
	ErrStateTimeout   = graph.ErrStateTimeout
	ErrAlreadyStarted = graph.ErrAlreadyStarted
	ErrNotStarted     = graph.ErrNotStarted
	ErrInterrupted    = graph.ErrInterrupted
	ErrClosed         = graph.ErrClosed
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) { return graph.KindOf(err) }

type (
	// Diagnostics is a point-in-time view of the graph.
	Diagnostics = graph.Diagnostics
	// RecordingSession is one recording from attach to full detach.
	RecordingSession = graph.RecordingSession
	// Stats are cumulative recorder counters.
	Stats = graph.Stats
	// BranchRequest describes an outbound TCP branch keyed by its port.
	BranchRequest = graph.BranchRequest
	// EncoderOptions configures the H.264 encoder of a branch.
	EncoderOptions = graph.EncoderOptions
	// MotionState exposes the look-behind debouncer.
	MotionState = graph.MotionState
	// EncoderDiag describes a live encoder in Diagnostics.
	EncoderDiag = graph.EncoderDiag
	// TCPBinDiag describes one dynamic TCP branch in Diagnostics.
	TCPBinDiag = graph.TCPBinDiag
	// SubscriberStats counts deliveries to one event subscriber.
	SubscriberStats = eventbus.SubscriberStats
)
