package inproc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

type passthrough struct{ noop }

// newPassthrough returns a factory for a one-in one-out element that forwards
// everything and only carries the given properties (name, default pairs).
func newPassthrough(props ...any) factory {
	return func(e *element) behavior {
		for i := 0; i+1 < len(props); i += 2 {
			e.declare(props[i].(string), props[i+1])
		}
		e.addStaticPad("sink", media.DirectionSink)
		e.addStaticPad("src", media.DirectionSrc)
		return passthrough{}
	}
}

func (passthrough) handle(e *element, _ *pad, it item) flowReturn {
	return e.forward(it)
}

type tee struct{ noop }

func newTee(e *element) behavior {
	e.declare("allow-not-linked", true)
	e.declare("pull-mode", 0)
	e.addStaticPad("sink", media.DirectionSink)
	e.templates["src_%u"] = media.DirectionSrc
	return tee{}
}

// handle pushes the same buffer on every src pad in turn. A branch that is not
// linked or not running yet does not affect its siblings.
func (tee) handle(e *element, _ *pad, it item) flowReturn {
	ret := e.forward(it)
	if ret != flowOK && e.boolProp("allow-not-linked") {
		return flowOK
	}
	return ret
}

type videoRate struct {
	noop

	mu   sync.Mutex
	next time.Duration
	seen bool
}

func newVideoRate(e *element) behavior {
	e.declare("max-rate", 2147483647)
	e.declare("drop-only", true)
	e.declare("in", uint64(0))
	e.declare("drop", uint64(0))
	e.addStaticPad("sink", media.DirectionSink)
	e.addStaticPad("src", media.DirectionSrc)
	return &videoRate{}
}

func (v *videoRate) handle(e *element, _ *pad, it item) flowReturn {
	if it.buf == nil {
		return e.forward(it)
	}
	e.setInternal("in", e.uintProp("in")+1)

	rate := e.intProp("max-rate")
	if rate > 0 {
		interval := time.Second / time.Duration(rate)
		v.mu.Lock()
		if v.seen && it.buf.PTS < v.next {
			v.mu.Unlock()
			e.setInternal("drop", e.uintProp("drop")+1)
			return flowOK
		}
		v.seen = true
		v.next = it.buf.PTS + interval
		v.mu.Unlock()
	}
	return e.forward(it)
}

func (v *videoRate) transition(_ *element, from, to media.State) error {
	if to == media.StateIdle {
		v.mu.Lock()
		v.seen = false
		v.next = 0
		v.mu.Unlock()
	}
	return nil
}

// window is a half-open stream-time interval.
type window struct {
	start, end time.Duration
}

type motionCells struct {
	noop

	mu       sync.Mutex
	schedule []window
	active   bool
	last     time.Duration
}

// newMotionCells forwards data unchanged. With motion-schedule set (for
// example "2s-8s,20s-25s") it posts GStreamer-style "motion" element messages
// when buffer timestamps enter or leave a window.
func newMotionCells(e *element) behavior {
	e.declare("sensitivity", 0.5)
	e.declare("threshold", 0.01)
	e.declare("gap", 5)
	e.declare("minimummotionframes", 1)
	e.declare("postallmotion", false)
	e.declare("display", true)
	e.declare("motion-schedule", "")
	e.addStaticPad("sink", media.DirectionSink)
	e.addStaticPad("src", media.DirectionSrc)
	return &motionCells{}
}

// ValidateSchedule checks a motion-schedule property value.
func ValidateSchedule(s string) error {
	_, err := parseSchedule(s)
	return err
}

// parseSchedule parses a comma separated list of start-end durations.
func parseSchedule(s string) ([]window, error) {
	var out []window
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("motion window %q: want start-end", part)
		}
		start, err := time.ParseDuration(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("motion window %q: %w", part, err)
		}
		end, err := time.ParseDuration(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, fmt.Errorf("motion window %q: %w", part, err)
		}
		if end <= start {
			return nil, fmt.Errorf("motion window %q: end must be after start", part)
		}
		out = append(out, window{start: start, end: end})
	}
	return out, nil
}

func (m *motionCells) transition(e *element, from, to media.State) error {
	switch {
	case from == media.StateReady && to == media.StatePaused:
		schedule, err := parseSchedule(e.stringProp("motion-schedule"))
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.schedule = schedule
		m.mu.Unlock()
	case to == media.StateIdle:
		m.mu.Lock()
		m.active = false
		m.last = 0
		m.mu.Unlock()
	}
	return nil
}

func (m *motionCells) handle(e *element, _ *pad, it item) flowReturn {
	if it.buf != nil {
		m.observe(e, it.buf.PTS)
	} else if it.ev != nil && it.ev.Type == media.EventEOS {
		m.finish(e)
	}
	return e.forward(it)
}

func (m *motionCells) observe(e *element, pts time.Duration) {
	m.mu.Lock()
	in := false
	for _, w := range m.schedule {
		if pts >= w.start && pts < w.end {
			in = true
			break
		}
	}
	changed := in != m.active
	m.active = in
	m.last = pts
	m.mu.Unlock()

	if !changed {
		return
	}
	field := "motion_finished"
	if in {
		field = "motion_begin"
	}
	e.post(media.NewElementMessage(e.name, "motion", map[string]any{field: uint64(pts)}))
}

func (m *motionCells) finish(e *element) {
	m.mu.Lock()
	wasActive, pts := m.active, m.last
	m.active = false
	m.mu.Unlock()
	if wasActive {
		e.post(media.NewElementMessage(e.name, "motion", map[string]any{"motion_finished": uint64(pts)}))
	}
}
