package media

import "time"

// Pad is a typed port of an element.
type Pad interface {
	Name() string
	Direction() Direction
	// Parent returns the owning element, or nil for a detached ghost pad.
	Parent() Element

	// Link connects this src pad to sink.
	Link(sink Pad) error
	Unlink(sink Pad) error
	Peer() Pad
	IsLinked() bool

	AddProbe(mask ProbeType, fn ProbeFunc) ProbeID
	RemoveProbe(id ProbeID)

	// SendEvent injects ev into the pad. Events sent to a sink pad travel
	// downstream through the owning element.
	SendEvent(ev Event) bool

	// SetOffset shifts the timestamps of data leaving (or entering) the pad.
	SetOffset(offset time.Duration)
	Offset() time.Duration
}

// ProbeType is a bitmask selecting what a probe observes.
type ProbeType int

const (
	ProbeBuffer ProbeType = 1 << iota
	ProbeEventDownstream
	// ProbeIdle fires once no data is traversing the pad and keeps the pad
	// blocked until the probe is removed.
	ProbeIdle
)

// ProbeReturn tells the pad what to do with the probed item.
type ProbeReturn int

const (
	// ProbeOK leaves the probe installed and lets the item through.
	ProbeOK ProbeReturn = iota
	// ProbeDrop discards the item.
	ProbeDrop
	// ProbeRemove lets the item through and uninstalls the probe.
	ProbeRemove
	// ProbePass lets the item through without blocking.
	ProbePass
)

// ProbeID identifies an installed probe on its pad.
type ProbeID uint64

// ProbeInfo is handed to a probe callback. Buffer or Event is set depending
// on the item; both are nil for idle notifications.
type ProbeInfo struct {
	Type   ProbeType
	Buffer *Buffer
	Event  *Event
}

// ProbeFunc is called on the streaming goroutine that owns the pad, or on
// the caller of AddProbe for idle probes on an idle pad. It must not block.
type ProbeFunc func(pad Pad, info ProbeInfo) ProbeReturn

// BufferFlags describe a buffer.
type BufferFlags int

const (
	// BufferFlagDeltaUnit marks a buffer that cannot be decoded on its own.
	BufferFlagDeltaUnit BufferFlags = 1 << iota
	// BufferFlagHeader marks codec configuration data.
	BufferFlagHeader
)

// Buffer is a unit of media data.
type Buffer struct {
	PTS      time.Duration
	Duration time.Duration
	Flags    BufferFlags
	Data     []byte
}

// IsKeyFrame reports whether the buffer is independently decodable.
func (b *Buffer) IsKeyFrame() bool {
	return b.Flags&BufferFlagDeltaUnit == 0
}

// Copy returns a buffer sharing no payload memory with b.
func (b *Buffer) Copy() *Buffer {
	c := *b
	c.Data = append([]byte(nil), b.Data...)
	return &c
}

// EventType of an in-band event.
type EventType int

const (
	EventEOS EventType = iota
	EventFlushStart
	EventFlushStop
)

func (t EventType) String() string {
	switch t {
	case EventEOS:
		return "eos"
	case EventFlushStart:
		return "flush-start"
	case EventFlushStop:
		return "flush-stop"
	default:
		return "unknown"
	}
}

// Event travels in-band with buffers.
type Event struct {
	Type EventType
}

// NewEOSEvent returns an end-of-stream event.
func NewEOSEvent() Event {
	return Event{Type: EventEOS}
}
