package graph

import (
	"errors"
	"fmt"
	"time"
)

// SourceOptions configures the decoding source.
type SourceOptions struct {
	URI string
	// Decoder properties; zero values leave the runtime default.
	BufferDuration  time.Duration
	BufferSize      int
	ConnectionSpeed uint64
	UseBuffering    bool
	ForceSWDecoders bool
}

// MotionOptions configures the motion detector and the look-behind window.
type MotionOptions struct {
	LookBehind  time.Duration
	Sensitivity float64
	Threshold   float64
	Gap         int
	// Schedule scripts motion windows ("2s-8s,20s-25s"). Only the in-process
	// detector understands it.
	Schedule string
}

// ThumbnailOptions configures the rolling snapshot.
type ThumbnailOptions struct {
	Path     string
	Interval time.Duration
}

// TransportOptions configures the continuous outbound stream.
type TransportOptions struct {
	Host    string
	Port    int
	Encoder EncoderOptions
}

// Config is everything the controller needs to build and run the graph.
type Config struct {
	StreamID     string
	Source       SourceOptions
	ClockOverlay bool
	Motion       MotionOptions

	RecordingDir     string
	RecordingEncoder EncoderOptions

	Thumbnail ThumbnailOptions
	Transport TransportOptions

	// Defaults for dynamic egress branches.
	EgressHost    string
	EgressEncoder EncoderOptions

	StateTimeout time.Duration
	StopTimeout  time.Duration
	EOSTimeout   time.Duration

	Clock  Clock
	Events EventSink
}

const (
	DefaultLookBehind   = 10 * time.Second
	DefaultStateTimeout = 5 * time.Second
	DefaultStopTimeout  = time.Second
)

func (c *Config) setDefaults() {
	if c.Motion.LookBehind == 0 {
		c.Motion.LookBehind = DefaultLookBehind
	}
	if c.Thumbnail.Interval == 0 {
		c.Thumbnail.Interval = time.Second
	}
	if c.Transport.Host == "" {
		c.Transport.Host = "0.0.0.0"
	}
	if c.EgressHost == "" {
		c.EgressHost = "localhost"
	}
	if c.StateTimeout == 0 {
		c.StateTimeout = DefaultStateTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.EOSTimeout == 0 {
		c.EOSTimeout = DefaultEOSTimeout
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Events == nil {
		c.Events = discardSink{}
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.StreamID == "" {
		errs = append(errs, errors.New("stream id is required"))
	}
	if c.Source.URI == "" {
		errs = append(errs, errors.New("source uri is required"))
	}
	if c.RecordingDir == "" {
		errs = append(errs, errors.New("recording dir is required"))
	}
	if c.Thumbnail.Path == "" {
		errs = append(errs, errors.New("thumbnail path is required"))
	}
	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		errs = append(errs, fmt.Errorf("transport port %d out of range", c.Transport.Port))
	}
	if c.Motion.LookBehind < 0 {
		errs = append(errs, fmt.Errorf("look-behind must not be negative, got %s", c.Motion.LookBehind))
	}
	return errors.Join(errs...)
}
