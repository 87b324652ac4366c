package graph

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/framerate"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// Diagnostics is a point-in-time view of the graph read from live node
// properties.
type Diagnostics struct {
	StreamID   string          `json:"stream-id"`
	Runtime    string          `json:"runtime"`
	State      PipelineState   `json:"state"`
	IsInMotion bool            `json:"is-in-motion"`
	Motion     MotionDiag      `json:"motion"`
	Decoder    DecoderDiag     `json:"decoder"`
	FrameRate  framerate.Stats `json:"frame-rate"`
	Transport  TransportDiag   `json:"transport"`
	Thumbnail  ThumbnailDiag   `json:"thumbnail"`
	// ActiveTCPBins lists dynamic egress branches ordered by key.
	ActiveTCPBins []TCPBinDiag `json:"active-tcp-bins"`
	ActiveFileBin *FileBinDiag `json:"active-file-bin,omitempty"`
	Peers         []string     `json:"peers"`
}

type MotionDiag struct {
	LookBehind  time.Duration `json:"look-behind"`
	PendingStop bool          `json:"pending-stop"`
	Recording   bool          `json:"recording"`
}

type DecoderDiag struct {
	URI               string `json:"uri"`
	BufferDuration    int64  `json:"buffer-duration"`
	BufferSize        int64  `json:"buffer-size"`
	ConnectionSpeed   int64  `json:"connection-speed"`
	RingBufferMaxSize int64  `json:"ring-buffer-max-size"`
	UseBuffering      bool   `json:"use-buffering"`
	ForceSWDecoders   bool   `json:"force-sw-decoders"`
}

type EncoderDiag struct {
	Factory     string `json:"factory"`
	Bitrate     int64  `json:"bitrate"`
	KeyIntMax   int64  `json:"key-int-max"`
	SpeedPreset int64  `json:"speed-preset"`
}

type TransportDiag struct {
	Host        string      `json:"host"`
	Port        int64       `json:"port"`
	CurrentPort int64       `json:"current-port"`
	NumHandles  int64       `json:"num-handles"`
	Encoder     EncoderDiag `json:"encoder"`
}

type ThumbnailDiag struct {
	Location string `json:"location"`
	MaxRate  int64  `json:"max-rate"`
}

type TCPBinDiag struct {
	Key     string      `json:"key"`
	Host    string      `json:"host"`
	Port    int64       `json:"port"`
	Encoder EncoderDiag `json:"encoder"`
}

type FileBinDiag struct {
	SessionID          string      `json:"session-id"`
	StartedAt          time.Time   `json:"started-at"`
	FileLocation       string      `json:"file-location"`
	FilesinkBufferSize int64       `json:"filesink-buffer-size"`
	Encoder            EncoderDiag `json:"encoder"`
}

// Diagnostics reads the current graph. Nothing is cached.
func (c *Controller) Diagnostics() Diagnostics {
	ms := c.debouncer.State()
	d := Diagnostics{
		StreamID:   c.cfg.StreamID,
		Runtime:    c.rt.Name(),
		State:      c.State(),
		IsInMotion: c.InMotion(),
		Motion: MotionDiag{
			LookBehind:  c.debouncer.Depth(),
			PendingStop: ms.PendingStop,
			Recording:   ms.Recording,
		},
		Decoder:   decoderDiag(c.source),
		FrameRate: c.rates.Stats(),
		Transport: TransportDiag{
			Host:        stringProp(c.transport.Last(), "host"),
			Port:        intProp(c.transport.Last(), "port"),
			CurrentPort: intProp(c.transport.Last(), "current-port"),
			NumHandles:  intProp(c.transport.Last(), "num-handles"),
			Encoder:     encoderDiag(c.transport.Element(encoderElement)),
		},
		Thumbnail: ThumbnailDiag{
			Location: stringProp(c.thumbnail.Last(), "location"),
			MaxRate:  intProp(c.thumbnail.Element("rate"), "max-rate"),
		},
		ActiveTCPBins: []TCPBinDiag{},
		Peers:         c.Peers(),
	}

	for _, key := range c.DynamicKeys() {
		br, ok := c.fanout.Branch(key)
		if !ok {
			continue
		}
		sink := br.Element(tcpSinkElement)
		d.ActiveTCPBins = append(d.ActiveTCPBins, TCPBinDiag{
			Key:     key,
			Host:    stringProp(sink, "host"),
			Port:    intProp(sink, "port"),
			Encoder: encoderDiag(br.Element(encoderElement)),
		})
	}

	if sess, ok := c.Session(); ok {
		fb := &FileBinDiag{
			SessionID: sess.ID,
			StartedAt: sess.StartedAt,
			Encoder:   encoderDiag(c.feed.Element(encoderElement)),
		}
		if br, ok := c.recorder.Branch(recordingFeedKey); ok {
			fb.FileLocation = stringProp(br.Element(fileSinkElement), "location")
			fb.FilesinkBufferSize = intProp(br.Element(fileSinkElement), "buffer-size")
		}
		d.ActiveFileBin = fb
	}
	return d
}

func decoderDiag(src media.Element) DecoderDiag {
	return DecoderDiag{
		URI:               stringProp(src, "uri"),
		BufferDuration:    intProp(src, "buffer-duration"),
		BufferSize:        intProp(src, "buffer-size"),
		ConnectionSpeed:   intProp(src, "connection-speed"),
		RingBufferMaxSize: intProp(src, "ring-buffer-max-size"),
		UseBuffering:      boolProp(src, "use-buffering"),
		ForceSWDecoders:   boolProp(src, "force-sw-decoders"),
	}
}

func encoderDiag(enc media.Element) EncoderDiag {
	if enc == nil {
		return EncoderDiag{}
	}
	return EncoderDiag{
		Factory:     enc.Factory(),
		Bitrate:     intProp(enc, "bitrate"),
		KeyIntMax:   intProp(enc, "key-int-max"),
		SpeedPreset: intProp(enc, "speed-preset"),
	}
}

// Properties a runtime does not support read as zero values.

func intProp(el media.Element, name string) int64 {
	if el == nil {
		return 0
	}
	v, err := el.Property(name)
	if err != nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case time.Duration:
		return int64(n)
	}
	return 0
}

func stringProp(el media.Element, name string) string {
	if el == nil {
		return ""
	}
	v, err := el.Property(name)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolProp(el media.Element, name string) bool {
	if el == nil {
		return false
	}
	v, err := el.Property(name)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}
