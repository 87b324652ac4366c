package inproc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

const (
	naluTypeSPS = 7
	naluTypePPS = 8
)

var errNoParameterSets = errors.New("key frame without SPS/PPS")

// seekBuffer is an in-memory io.WriteSeeker for the joy4 muxer, which
// rewrites the mdat size once the trailer is known.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek: negative position %d", abs)
	}
	s.pos = int(abs)
	return abs, nil
}

// mp4Mux turns H.264 access units into an MP4 file. The complete file is
// pushed downstream as a single buffer when EOS arrives, followed by EOS.
type mp4Mux struct {
	src *pad

	mu      sync.Mutex
	out     *seekBuffer
	muxer   *mp4.Muxer
	first   time.Duration
	packets int
	done    bool
}

func newMP4Mux(e *element) behavior {
	e.declare("faststart", false)
	e.declare("fragment-duration", uint64(0))
	e.declare("streamable", false)
	e.declare("movie-timescale", uint64(0))
	e.templates["video_%u"] = media.DirectionSink
	return &mp4Mux{src: e.addStaticPad("src", media.DirectionSrc)}
}

func (m *mp4Mux) handle(e *element, _ *pad, it item) flowReturn {
	if it.ev != nil {
		if it.ev.Type != media.EventEOS {
			return e.forward(it)
		}
		return m.finish(e, it)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return flowEOS
	}
	if m.muxer == nil {
		if !it.buf.IsKeyFrame() {
			return flowOK
		}
		if err := m.begin(it.buf); err != nil {
			e.post(media.NewErrorMessage(e.name, fmt.Errorf("mp4mux: %w", err), "could not write header"))
			return flowError
		}
	}
	pkt := av.Packet{
		IsKeyFrame: it.buf.IsKeyFrame(),
		Time:       it.buf.PTS - m.first,
		Data:       it.buf.Data,
	}
	if err := m.muxer.WritePacket(pkt); err != nil {
		e.post(media.NewErrorMessage(e.name, fmt.Errorf("mp4mux: %w", err), "could not write packet"))
		return flowError
	}
	m.packets++
	return flowOK
}

// begin extracts the parameter sets from the first key frame and writes the
// file header.
func (m *mp4Mux) begin(buf *media.Buffer) error {
	var sps, pps []byte
	nalus, _ := h264parser.SplitNALUs(buf.Data)
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch n[0] & 0x1f {
		case naluTypeSPS:
			sps = n
		case naluTypePPS:
			pps = n
		}
	}
	if sps == nil || pps == nil {
		return errNoParameterSets
	}
	codec, err := h264parser.NewCodecDataFromSPSAndPPS(sps, pps)
	if err != nil {
		return err
	}

	m.out = &seekBuffer{}
	m.muxer = mp4.NewMuxer(m.out)
	if err := m.muxer.WriteHeader([]av.CodecData{codec}); err != nil {
		m.muxer = nil
		return err
	}
	m.first = buf.PTS
	return nil
}

func (m *mp4Mux) finish(e *element, eos item) flowReturn {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return flowOK
	}
	m.done = true
	var file []byte
	if m.muxer != nil {
		if err := m.muxer.WriteTrailer(); err != nil {
			m.mu.Unlock()
			e.post(media.NewErrorMessage(e.name, fmt.Errorf("mp4mux: %w", err), "could not write trailer"))
			return flowError
		}
		file = m.out.buf
	}
	m.mu.Unlock()

	if file != nil {
		m.src.push(item{buf: &media.Buffer{Data: file}})
	}
	return e.forward(eos)
}

func (m *mp4Mux) transition(_ *element, from, to media.State) error {
	if from == media.StatePaused && to == media.StateReady {
		m.mu.Lock()
		m.out, m.muxer = nil, nil
		m.first, m.packets, m.done = 0, 0, false
		m.mu.Unlock()
	}
	return nil
}
