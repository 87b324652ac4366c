package motionrecorder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

// Runtime names accepted in Config.Runtime.
const (
	RuntimeGStreamer = "gstreamer"
	RuntimeInProc    = "inproc"
)

// Config represents the complete recorder configuration.
type Config struct {
	StreamID        string          `yaml:"stream_id"`
	Runtime         string          `yaml:"runtime"` // gstreamer, inproc
	Source          SourceConfig    `yaml:"source"`
	Motion          MotionConfig    `yaml:"motion"`
	Recording       RecordingConfig `yaml:"recording"`
	Thumbnail       ThumbnailConfig `yaml:"thumbnail"`
	Transport       TransportConfig `yaml:"transport"`
	Egress          EgressConfig    `yaml:"egress"`
	StateTimeout    time.Duration   `yaml:"state_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	EOSTimeout      time.Duration   `yaml:"eos_timeout"`
	Control         ControlConfig   `yaml:"control"`
}

// SourceConfig configures the decoding source.
type SourceConfig struct {
	URI             string        `yaml:"uri"`
	BufferDuration  time.Duration `yaml:"buffer_duration"`
	BufferSize      int           `yaml:"buffer_size"`
	ConnectionSpeed uint64        `yaml:"connection_speed"` // kbps
	UseBuffering    bool          `yaml:"use_buffering"`
	ForceSWDecoders bool          `yaml:"force_sw_decoders"`
	ClockOverlay    bool          `yaml:"clock_overlay"`
}

// MotionConfig configures the detector and the look-behind window.
type MotionConfig struct {
	LookBehind  time.Duration `yaml:"look_behind"`
	Sensitivity float64       `yaml:"sensitivity"`
	Threshold   float64       `yaml:"threshold"`
	Gap         int           `yaml:"gap"`
	// Schedule scripts motion for the inproc runtime ("2s-8s,20s-25s").
	Schedule string `yaml:"schedule"`
}

type RecordingConfig struct {
	Dir     string         `yaml:"dir"`
	Encoder EncoderOptions `yaml:"encoder"`
}

type ThumbnailConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

type TransportConfig struct {
	Host    string         `yaml:"host"`
	Port    int            `yaml:"port"`
	Encoder EncoderOptions `yaml:"encoder"`
}

// EgressConfig holds the defaults of branches added with ActivateTCPClient.
type EgressConfig struct {
	Host    string         `yaml:"host"`
	Encoder EncoderOptions `yaml:"encoder"`
}

// ControlConfig enables the control plane. Both parts are optional.
type ControlConfig struct {
	MQTT *MQTTConfig `yaml:"mqtt,omitempty"`
	HTTP HTTPConfig  `yaml:"http"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the HTTP API
}

// MQTTConfig contains broker settings and topics.
type MQTTConfig = control.MQTTConfig

var streamIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

const (
	defaultRecordingDir    = "recordings"
	defaultShutdownTimeout = 5 * time.Second
)

// LoadConfig reads, parses and validates a YAML configuration file.
// Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("motion-recorder: failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a YAML document.
func ParseConfig(data []byte) (*Config, error) {
	cfg, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("motion-recorder: invalid configuration: %w", err)
	}
	return cfg, nil
}

// DecodeConfig parses a YAML document without validating it, so callers
// can apply overrides before New validates the result.
func DecodeConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("motion-recorder: failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and checks every value. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.StreamID == "" {
		errs = append(errs, errors.New("stream_id is required"))
	} else if !streamIDPattern.MatchString(c.StreamID) {
		errs = append(errs, errors.New("stream_id must match pattern [a-z0-9-]+"))
	}

	switch c.Runtime {
	case "":
		c.Runtime = RuntimeGStreamer
	case RuntimeGStreamer, RuntimeInProc:
	default:
		errs = append(errs, fmt.Errorf("runtime %q is not one of %s, %s", c.Runtime, RuntimeGStreamer, RuntimeInProc))
	}

	if c.Source.URI == "" {
		errs = append(errs, errors.New("source.uri is required"))
	}
	if c.Motion.LookBehind < 0 {
		errs = append(errs, errors.New("motion.look_behind must not be negative"))
	}
	if c.Motion.LookBehind == 0 {
		c.Motion.LookBehind = graph.DefaultLookBehind
	}
	if c.Motion.Sensitivity < 0 || c.Motion.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("motion.sensitivity must be within [0, 1], got %g", c.Motion.Sensitivity))
	}
	if c.Motion.Threshold < 0 || c.Motion.Threshold > 1 {
		errs = append(errs, fmt.Errorf("motion.threshold must be within [0, 1], got %g", c.Motion.Threshold))
	}

	if c.Recording.Dir == "" {
		c.Recording.Dir = defaultRecordingDir
	}
	if c.Thumbnail.Path == "" && c.StreamID != "" {
		c.Thumbnail.Path = filepath.Join(c.Recording.Dir, c.StreamID, "thumbnail.jpg")
	}
	if c.Thumbnail.Interval < 0 {
		errs = append(errs, errors.New("thumbnail.interval must not be negative"))
	}

	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		errs = append(errs, fmt.Errorf("transport.port %d out of range", c.Transport.Port))
	}

	for name, d := range map[string]time.Duration{
		"state_timeout":    c.StateTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
		"eos_timeout":      c.EOSTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.StateTimeout == 0 {
		c.StateTimeout = graph.DefaultStateTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.EOSTimeout == 0 {
		c.EOSTimeout = graph.DefaultEOSTimeout
	}

	if m := c.Control.MQTT; m != nil {
		if m.Broker == "" {
			errs = append(errs, errors.New("control.mqtt.broker is required"))
		}
		if m.QoS > 2 {
			errs = append(errs, fmt.Errorf("control.mqtt.qos must be 0, 1 or 2, got %d", m.QoS))
		}
		if m.ClientID == "" {
			m.ClientID = "motion-recorder-" + c.StreamID
		}
		prefix := "motion-recorder/" + c.StreamID
		if m.Topics.Commands == "" {
			m.Topics.Commands = prefix + "/commands"
		}
		if m.Topics.Responses == "" {
			m.Topics.Responses = prefix + "/responses"
		}
		if m.Topics.Events == "" {
			m.Topics.Events = prefix + "/events"
		}
	}

	return errors.Join(errs...)
}

// graphConfig maps the file layout onto the controller configuration.
func (c *Config) graphConfig(events graph.EventSink) graph.Config {
	return graph.Config{
		StreamID: c.StreamID,
		Source: graph.SourceOptions{
			URI:             c.Source.URI,
			BufferDuration:  c.Source.BufferDuration,
			BufferSize:      c.Source.BufferSize,
			ConnectionSpeed: c.Source.ConnectionSpeed,
			UseBuffering:    c.Source.UseBuffering,
			ForceSWDecoders: c.Source.ForceSWDecoders,
		},
		ClockOverlay: c.Source.ClockOverlay,
		Motion: graph.MotionOptions{
			LookBehind:  c.Motion.LookBehind,
			Sensitivity: c.Motion.Sensitivity,
			Threshold:   c.Motion.Threshold,
			Gap:         c.Motion.Gap,
			Schedule:    c.Motion.Schedule,
		},
		RecordingDir:     c.Recording.Dir,
		RecordingEncoder: c.Recording.Encoder,
		Thumbnail: graph.ThumbnailOptions{
			Path:     c.Thumbnail.Path,
			Interval: c.Thumbnail.Interval,
		},
		Transport: graph.TransportOptions{
			Host:    c.Transport.Host,
			Port:    c.Transport.Port,
			Encoder: c.Transport.Encoder,
		},
		EgressHost:    c.Egress.Host,
		EgressEncoder: c.Egress.Encoder,
		StateTimeout:  c.StateTimeout,
		StopTimeout:   c.ShutdownTimeout,
		EOSTimeout:    c.EOSTimeout,
		Events:        events,
	}
}
