package graph

import (
	"strconv"
	"time"
)

// EncoderOptions configures the H.264 encoder of a branch.
type EncoderOptions struct {
	Factory     string `mapstructure:"factory" yaml:"factory" json:"factory,omitempty"`
	Bitrate     int    `mapstructure:"bitrate" yaml:"bitrate" json:"bitrate,omitempty"`
	KeyIntMax   int    `mapstructure:"key_int_max" yaml:"key_int_max" json:"key_int_max,omitempty"`
	SpeedPreset int    `mapstructure:"speed_preset" yaml:"speed_preset" json:"speed_preset,omitempty"`
	Tune        int    `mapstructure:"tune" yaml:"tune" json:"tune,omitempty"`
}

func (e EncoderOptions) withDefaults() EncoderOptions {
	if e.Factory == "" {
		e.Factory = "x264enc"
	}
	if e.Bitrate == 0 {
		e.Bitrate = 2048
	}
	if e.KeyIntMax == 0 {
		e.KeyIntMax = 30
	}
	if e.SpeedPreset == 0 {
		e.SpeedPreset = 1
	}
	return e
}

func (e EncoderOptions) spec(name string) ElementSpec {
	e = e.withDefaults()
	return ElementSpec{
		Factory: e.Factory,
		Name:    name,
		Properties: []Property{
			{"bitrate", e.Bitrate},
			{"key-int-max", e.KeyIntMax},
			{"speed-preset", e.SpeedPreset},
			{"tune", e.Tune},
		},
	}
}

// BranchRequest asks for a dynamic egress branch pushing the stream to a
// remote TCP listener.
type BranchRequest struct {
	Host    string          `mapstructure:"host" json:"host"`
	Port    int             `mapstructure:"port" json:"port"`
	Encoder *EncoderOptions `mapstructure:"encoder" json:"encoder,omitempty"`
}

// Key returns the mapping key of the request: its port.
func (r BranchRequest) Key() string { return strconv.Itoa(r.Port) }

// Branch names. Keys of the tee fanout for the static branches are the same
// names, dynamic egress branches are keyed by port.
const (
	thumbnailBranch = "thumbnail"
	transportBranch = "transport"
	feedBranch      = "recording-feed"
	recordingBranch = "recording"
	egressBranch    = "egress"

	delayElement     = "delay"
	teeElement       = "fanout"
	motionElement    = "motion"
	sourceElement    = "source"
	encoderElement   = "encoder"
	muxElement       = "mux"
	fileSinkElement  = "filesink"
	tcpSinkElement   = "tcpsink"
	recordingFeedKey = "recording"
)

// thumbnailSpec caps the rate at videorate's resolution of one frame per
// second. Longer intervals are paced by thumbnailGate.
func thumbnailSpec(path string, interval time.Duration) BranchSpec {
	rate := 1
	if interval > 0 && interval < time.Second {
		rate = int(time.Second / interval)
	}
	return BranchSpec{
		Name: thumbnailBranch,
		Elements: []ElementSpec{
			{Factory: "queue", Name: "queue", Properties: []Property{
				{"leaky", leakyDownstream},
				{"max-size-buffers", 1},
			}},
			{Factory: "videorate", Name: "rate", Properties: []Property{{"max-rate", rate}}},
			{Factory: "videoconvert", Name: "convert"},
			{Factory: "jpegenc", Name: encoderElement},
			{Factory: "multifilesink", Name: "sink", Properties: []Property{{"location", path}}},
		},
	}
}

// thumbnailGate paces a thumbnail branch whose interval videorate cannot
// express. It returns nil when no gate is needed.
func thumbnailGate(interval time.Duration) func(*Branch) {
	if interval <= time.Second {
		return nil
	}
	return func(br *Branch) { InstallIntervalGate(br.Sink, interval) }
}

func transportSpec(host string, port int, enc EncoderOptions) BranchSpec {
	return BranchSpec{
		Name: transportBranch,
		Elements: []ElementSpec{
			{Factory: "queue", Name: "queue"},
			{Factory: "videoconvert", Name: "convert"},
			enc.spec(encoderElement),
			{Factory: "mpegtsmux", Name: muxElement},
			{Factory: "tcpserversink", Name: tcpSinkElement, Properties: []Property{
				{"host", host},
				{"port", port},
			}},
		},
	}
}

func feedSpec(enc EncoderOptions, depth time.Duration) BranchSpec {
	return BranchSpec{
		Name: feedBranch,
		Elements: []ElementSpec{
			{Factory: "queue", Name: "queue"},
			{Factory: "videoconvert", Name: "convert"},
			enc.spec(encoderElement),
			{Factory: "h264parse", Name: "parse"},
			{Factory: "queue", Name: delayElement, Properties: DelayProperties(depth)},
		},
		ExposeSrc: true,
	}
}

func recordingSpec(path string) BranchSpec {
	return BranchSpec{
		Name: recordingBranch,
		Elements: []ElementSpec{
			{Factory: "mp4mux", Name: muxElement},
			{Factory: "filesink", Name: fileSinkElement, Properties: []Property{{"location", path}}},
		},
		SinkTemplate: "video_%u",
		Finalizer:    muxElement,
	}
}

func egressSpec(req BranchRequest, enc EncoderOptions) BranchSpec {
	return BranchSpec{
		Name: egressBranch,
		Elements: []ElementSpec{
			{Factory: "queue", Name: "queue"},
			{Factory: "videoconvert", Name: "convert"},
			enc.spec(encoderElement),
			{Factory: "mpegtsmux", Name: muxElement},
			{Factory: "tcpclientsink", Name: tcpSinkElement, Properties: []Property{
				{"host", req.Host},
				{"port", req.Port},
			}},
		},
	}
}
