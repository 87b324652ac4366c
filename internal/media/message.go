package media

import "fmt"

// MessageType of a bus message.
type MessageType int

const (
	MessageEOS MessageType = iota
	MessageError
	MessageWarning
	MessageStateChanged
	MessageElement
)

func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageStateChanged:
		return "state-changed"
	case MessageElement:
		return "element"
	default:
		return "unknown"
	}
}

// Message is posted on a pipeline bus.
//
// Element messages carry a structure name and fields, e.g. a motion detector
// posts "motion" with a "motion_begin" or "motion_finished" field and a
// network sink posts "client-added" and "client-removed" with a "peer-id"
// field.
type Message struct {
	Type   MessageType
	Source string

	// StateChanged
	OldState State
	NewState State

	// Error / Warning
	Err   error
	Debug string

	// Element
	Structure string
	Fields    map[string]any
}

func (m *Message) String() string {
	switch m.Type {
	case MessageStateChanged:
		return fmt.Sprintf("%s from %s: %s -> %s", m.Type, m.Source, m.OldState, m.NewState)
	case MessageError, MessageWarning:
		return fmt.Sprintf("%s from %s: %v", m.Type, m.Source, m.Err)
	case MessageElement:
		return fmt.Sprintf("%s from %s: %s %v", m.Type, m.Source, m.Structure, m.Fields)
	default:
		return fmt.Sprintf("%s from %s", m.Type, m.Source)
	}
}

// NewStateChangedMessage builds a StateChanged message.
func NewStateChangedMessage(src string, old, new State) *Message {
	return &Message{Type: MessageStateChanged, Source: src, OldState: old, NewState: new}
}

// NewErrorMessage builds an Error message.
func NewErrorMessage(src string, err error, debug string) *Message {
	return &Message{Type: MessageError, Source: src, Err: err, Debug: debug}
}

// NewWarningMessage builds a Warning message.
func NewWarningMessage(src string, err error, debug string) *Message {
	return &Message{Type: MessageWarning, Source: src, Err: err, Debug: debug}
}

// NewElementMessage builds an Element message.
func NewElementMessage(src, structure string, fields map[string]any) *Message {
	return &Message{Type: MessageElement, Source: src, Structure: structure, Fields: fields}
}

// NewEOSMessage builds an EOS message.
func NewEOSMessage(src string) *Message {
	return &Message{Type: MessageEOS, Source: src}
}
