package inproc

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// SPS and PPS of the synthetic stream: baseline profile, 128x96.
var (
	SyntheticSPS = []byte{0x67, 0x42, 0x00, 0x0a, 0xf8, 0x41, 0xa2}
	SyntheticPPS = []byte{0x68, 0xce, 0x38, 0x80}
)

const (
	naluIDR    = 0x65
	naluSlice  = 0x41
	defaultFPS = 30
	defaultGOP = 30
)

type synthConfig struct {
	fps     int
	gop     int
	frames  int
	live    bool
	payload int
}

// AccessUnit builds frame seq of the synthetic stream in AVCC framing. Key
// frames carry SPS and PPS in-band followed by an IDR slice.
func AccessUnit(seq int, key bool, size int) []byte {
	if size < 2 {
		size = 2
	}
	slice := make([]byte, size)
	slice[0] = naluSlice
	if key {
		slice[0] = naluIDR
	}
	for i := 1; i < size; i++ {
		slice[i] = byte(seq + i)
	}

	var out []byte
	if key {
		out = appendNALU(out, SyntheticSPS)
		out = appendNALU(out, SyntheticPPS)
	}
	return appendNALU(out, slice)
}

func appendNALU(dst, nalu []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(nalu)))
	return append(dst, nalu...)
}

func synthFrame(seq int, cfg synthConfig) *media.Buffer {
	frame := time.Second / time.Duration(cfg.fps)
	key := seq%cfg.gop == 0
	buf := &media.Buffer{
		PTS:      time.Duration(seq) * frame,
		Duration: frame,
		Data:     AccessUnit(seq, key, cfg.payload),
	}
	if !key {
		buf.Flags |= media.BufferFlagDeltaUnit
	}
	return buf
}

// syntheticSource produces the synthetic stream on its own goroutine while
// the element is running.
type syntheticSource struct {
	// config reads the stream parameters when the element pauses. Sources
	// without a static src pad create one at that point.
	config func(e *element) (synthConfig, error)

	mu   sync.Mutex
	src  *pad
	cfg  synthConfig
	seq  int
	stop chan struct{}
	done chan struct{}
}

func newSyntheticSource(e *element) behavior {
	e.declare("num-buffers", -1)
	e.declare("framerate", defaultFPS)
	e.declare("key-int-max", defaultGOP)
	e.declare("is-live", true)
	e.declare("payload-size", 512)
	e.declare("width", 128)
	e.declare("height", 96)
	e.declare("pattern", 0)
	s := &syntheticSource{config: testSourceConfig}
	s.src = e.addStaticPad("src", media.DirectionSrc)
	return s
}

func testSourceConfig(e *element) (synthConfig, error) {
	cfg := synthConfig{
		fps:     e.intProp("framerate"),
		gop:     e.intProp("key-int-max"),
		frames:  e.intProp("num-buffers"),
		live:    e.boolProp("is-live"),
		payload: e.intProp("payload-size"),
	}
	return cfg, cfg.validate()
}

// newURIDecodeBin accepts synthetic:// URIs. The query selects the stream:
// fps, gop, frames (-1 for endless), live and payload.
func newURIDecodeBin(e *element) behavior {
	e.declare("uri", "")
	e.declare("buffer-duration", int64(-1))
	e.declare("buffer-size", -1)
	e.declare("connection-speed", uint64(0))
	e.declare("ring-buffer-max-size", uint64(0))
	e.declare("use-buffering", false)
	e.declare("force-sw-decoders", false)
	e.declare("expose-all-streams", true)
	return &syntheticSource{config: uriSourceConfig}
}

func uriSourceConfig(e *element) (synthConfig, error) {
	raw := e.stringProp("uri")
	u, err := url.Parse(raw)
	if err != nil {
		return synthConfig{}, fmt.Errorf("invalid uri %q: %w", raw, err)
	}
	if u.Scheme != "synthetic" {
		return synthConfig{}, fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}

	q := u.Query()
	cfg := synthConfig{fps: defaultFPS, gop: defaultGOP, frames: -1, live: true, payload: 512}
	for key, dst := range map[string]*int{"fps": &cfg.fps, "gop": &cfg.gop, "frames": &cfg.frames, "payload": &cfg.payload} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return synthConfig{}, fmt.Errorf("uri parameter %s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := q.Get("live"); v != "" {
		live, err := strconv.ParseBool(v)
		if err != nil {
			return synthConfig{}, fmt.Errorf("uri parameter live: %w", err)
		}
		cfg.live = live
	}
	return cfg, cfg.validate()
}

func (c synthConfig) validate() error {
	if c.fps <= 0 {
		return fmt.Errorf("framerate must be > 0, got %d", c.fps)
	}
	if c.gop <= 0 {
		return fmt.Errorf("key-int-max must be > 0, got %d", c.gop)
	}
	return nil
}

func (s *syntheticSource) handle(*element, *pad, item) flowReturn { return flowNotLinked }

func (s *syntheticSource) transition(e *element, from, to media.State) error {
	switch {
	case from == media.StateReady && to == media.StatePaused:
		cfg, err := s.config(e)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.cfg = cfg
		needPad := s.src == nil
		s.mu.Unlock()
		if needPad {
			p := e.addDynamicPad("src_0")
			s.mu.Lock()
			s.src = p
			s.mu.Unlock()
		}

	case from == media.StatePaused && to == media.StateRunning:
		s.start()

	case from == media.StateRunning && to == media.StatePaused:
		s.halt()

	case from == media.StateReady && to == media.StateIdle:
		s.mu.Lock()
		s.seq = 0
		s.mu.Unlock()
	}
	return nil
}

func (s *syntheticSource) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.src, s.cfg, s.seq, s.stop, s.done)
}

func (s *syntheticSource) halt() {
	s.mu.Lock()
	stop, done, src := s.stop, s.done, s.src
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}

	src.setFlushing(true)
	close(stop)
	<-done
	src.setFlushing(false)
}

func (s *syntheticSource) loop(src *pad, cfg synthConfig, seq int, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	frame := time.Second / time.Duration(cfg.fps)
	started := time.Now()
	first := seq
	for cfg.frames < 0 || seq < cfg.frames {
		select {
		case <-stop:
			return
		default:
		}

		if cfg.live {
			due := started.Add(time.Duration(seq-first) * frame)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-stop:
					return
				case <-time.After(wait):
				}
			}
		}

		ret := src.push(item{buf: synthFrame(seq, cfg)})
		seq++
		s.mu.Lock()
		s.seq = seq
		s.mu.Unlock()
		if ret == flowFlushing && src.isFlushing() {
			return
		}
	}
	src.push(item{ev: &media.Event{Type: media.EventEOS}})
}
