package control

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

// EventMessage is the JSON shape of a controller event on MQTT and on the
// websocket stream.
type EventMessage struct {
	Type      string                  `json:"type"`
	StreamID  string                  `json:"stream_id"`
	Timestamp time.Time               `json:"timestamp"`
	InMotion  *bool                   `json:"in_motion,omitempty"`
	State     string                  `json:"state,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Kind      string                  `json:"kind,omitempty"`
	Category  string                  `json:"category,omitempty"`
	Source    string                  `json:"source,omitempty"`
	PeerID    string                  `json:"peer_id,omitempty"`
	Session   *graph.RecordingSession `json:"session,omitempty"`
	Key       string                  `json:"key,omitempty"`
}

// NewEventMessage converts e, keeping only the fields its type carries.
func NewEventMessage(e graph.Event) EventMessage {
	m := EventMessage{
		Type:      e.Type.String(),
		StreamID:  e.StreamID,
		Timestamp: e.Time,
	}
	switch e.Type {
	case graph.EventMotionChanged:
		in := e.InMotion
		m.InMotion = &in
	case graph.EventStateChanged:
		m.State = e.State.String()
	case graph.EventError:
		if e.Err != nil {
			m.Error = e.Err.Error()
		}
		m.Kind = e.Kind.String()
		m.Category = e.Category.String()
		m.Source = e.Source
	case graph.EventPeerIDReady:
		m.PeerID = e.PeerID
	case graph.EventRecordingStarted, graph.EventRecordingFinished:
		m.Session = e.Session
	case graph.EventBranchAdded, graph.EventBranchRemoved:
		m.Key = e.Key
	}
	return m
}
