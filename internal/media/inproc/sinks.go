package inproc

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

// sinkState tracks end-of-stream for one sink element.
type sinkState struct {
	eosMu sync.Mutex
	eos   bool
}

func (s *sinkState) gotEOS() bool {
	s.eosMu.Lock()
	defer s.eosMu.Unlock()
	return s.eos
}

func (s *sinkState) markEOS(e *element) {
	s.eosMu.Lock()
	s.eos = true
	s.eosMu.Unlock()
	if p := e.pipeline(); p != nil {
		p.checkEOS()
	}
}

func (s *sinkState) resetEOS() {
	s.eosMu.Lock()
	s.eos = false
	s.eosMu.Unlock()
}

// consume runs write for buffers and handles EOS. Buffers after EOS are
// refused with flowEOS.
func (s *sinkState) consume(e *element, it item, write func(*media.Buffer) error, flush func() error) flowReturn {
	if it.ev != nil {
		if it.ev.Type != media.EventEOS {
			return flowOK
		}
		if flush != nil {
			if err := flush(); err != nil {
				e.post(media.NewErrorMessage(e.name, err, "flush on eos"))
			}
		}
		s.markEOS(e)
		return flowOK
	}
	if s.gotEOS() {
		return flowEOS
	}
	if err := write(it.buf); err != nil {
		e.post(media.NewErrorMessage(e.name, err, "could not write buffer"))
		return flowError
	}
	return flowOK
}

type fileSink struct {
	sinkState

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

func newFileSink(e *element) behavior {
	e.declare("location", "")
	e.declare("buffer-size", uint64(65536))
	e.declare("buffer-mode", -1)
	e.declare("append", false)
	e.declare("sync", false)
	e.declare("async", true)
	e.addStaticPad("sink", media.DirectionSink)
	return &fileSink{}
}

func (f *fileSink) handle(e *element, _ *pad, it item) flowReturn {
	return f.consume(e, it, f.write, f.flush)
}

func (f *fileSink) write(buf *media.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return fmt.Errorf("filesink: not open")
	}
	_, err := f.w.Write(buf.Data)
	return err
}

func (f *fileSink) flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return nil
	}
	return f.w.Flush()
}

func (f *fileSink) transition(e *element, from, to media.State) error {
	switch {
	case from == media.StateIdle && to == media.StateReady:
		location := e.stringProp("location")
		if location == "" {
			return fmt.Errorf("filesink: no location set")
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if e.boolProp("append") {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		file, err := os.OpenFile(location, flags, 0o644)
		if err != nil {
			return fmt.Errorf("filesink: %w", err)
		}
		size := int(e.uintProp("buffer-size"))
		if size <= 0 {
			size = 4096
		}
		f.mu.Lock()
		f.file = file
		f.w = bufio.NewWriterSize(file, size)
		f.mu.Unlock()

	case from == media.StatePaused && to == media.StateReady:
		f.resetEOS()

	case from == media.StateReady && to == media.StateIdle:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.file == nil {
			return nil
		}
		flushErr := f.w.Flush()
		closeErr := f.file.Close()
		f.file, f.w = nil, nil
		if flushErr != nil {
			return fmt.Errorf("filesink: %w", flushErr)
		}
		if closeErr != nil {
			return fmt.Errorf("filesink: %w", closeErr)
		}
	}
	return nil
}

// multiFileSink writes every buffer to its own file. A location without a
// printf verb is overwritten each time, which gives a rolling snapshot.
type multiFileSink struct {
	sinkState

	mu    sync.Mutex
	index int
}

func newMultiFileSink(e *element) behavior {
	e.declare("location", "%05d")
	e.declare("index", 0)
	e.declare("max-files", 0)
	e.declare("post-messages", false)
	e.declare("sync", false)
	e.declare("async", true)
	e.addStaticPad("sink", media.DirectionSink)
	return &multiFileSink{}
}

func (m *multiFileSink) handle(e *element, _ *pad, it item) flowReturn {
	return m.consume(e, it, func(buf *media.Buffer) error {
		return m.write(e, buf)
	}, nil)
}

func (m *multiFileSink) write(e *element, buf *media.Buffer) error {
	location := e.stringProp("location")
	maxFiles := e.intProp("max-files")

	m.mu.Lock()
	index := m.index
	m.index++
	m.mu.Unlock()

	name := location
	templated := strings.Contains(location, "%")
	if templated {
		name = fmt.Sprintf(location, index)
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, buf.Data, 0o644); err != nil {
		return fmt.Errorf("multifilesink: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("multifilesink: %w", err)
	}
	e.setInternal("index", index+1)

	if templated && maxFiles > 0 && index >= maxFiles {
		_ = os.Remove(fmt.Sprintf(location, index-maxFiles))
	}
	if e.boolProp("post-messages") {
		e.post(media.NewElementMessage(e.name, "GstMultiFileSink", map[string]any{
			"filename":  name,
			"index":     index,
			"timestamp": uint64(buf.PTS),
		}))
	}
	return nil
}

func (m *multiFileSink) transition(_ *element, from, to media.State) error {
	switch {
	case from == media.StatePaused && to == media.StateReady:
		m.resetEOS()
	case to == media.StateIdle:
		m.mu.Lock()
		m.index = 0
		m.mu.Unlock()
	}
	return nil
}

type fakeSink struct {
	sinkState
}

func newFakeSink(e *element) behavior {
	e.declare("sync", false)
	e.declare("async", true)
	e.declare("silent", true)
	e.declare("num-buffers", -1)
	e.addStaticPad("sink", media.DirectionSink)
	return &fakeSink{}
}

func (f *fakeSink) handle(e *element, _ *pad, it item) flowReturn {
	return f.consume(e, it, func(*media.Buffer) error { return nil }, nil)
}

func (f *fakeSink) transition(_ *element, from, to media.State) error {
	if from == media.StatePaused && to == media.StateReady {
		f.resetEOS()
	}
	return nil
}

// appSink keeps copies of everything it receives. Tests read them back with
// Samples.
type appSink struct {
	sinkState

	mu      sync.Mutex
	samples []*media.Buffer
}

func newAppSink(e *element) behavior {
	e.declare("emit-signals", false)
	e.declare("max-buffers", 0)
	e.declare("drop", false)
	e.declare("sync", false)
	e.addStaticPad("sink", media.DirectionSink)
	return &appSink{}
}

func (a *appSink) handle(e *element, _ *pad, it item) flowReturn {
	return a.consume(e, it, func(buf *media.Buffer) error {
		limit := e.intProp("max-buffers")
		a.mu.Lock()
		defer a.mu.Unlock()
		if limit > 0 && len(a.samples) >= limit {
			if !e.boolProp("drop") {
				return nil
			}
			a.samples = a.samples[1:]
		}
		a.samples = append(a.samples, buf.Copy())
		return nil
	}, nil)
}

func (a *appSink) transition(_ *element, from, to media.State) error {
	if from == media.StatePaused && to == media.StateReady {
		a.resetEOS()
	}
	return nil
}

// Samples returns the buffers collected by an appsink element so far and
// whether it has seen EOS.
func Samples(el media.Element) ([]*media.Buffer, bool) {
	e, ok := el.(*element)
	if !ok {
		return nil, false
	}
	a, ok := e.impl.(*appSink)
	if !ok {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*media.Buffer(nil), a.samples...), a.gotEOS()
}
