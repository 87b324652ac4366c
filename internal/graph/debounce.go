package graph

import (
	"log/slog"
	"sync"
	"time"
)

// RecordingActions is what the debouncer decides. Calls are made without
// holding the debouncer lock and must not block.
type RecordingActions interface {
	StartRecording()
	StopRecording()
}

// MotionState is a snapshot of the debouncer.
type MotionState struct {
	InMotion bool
	// PendingStop is set while a stop timer is armed.
	PendingStop bool
	// Recording is set from the start decision until the stop decision.
	Recording bool
}

// MotionDebouncer turns raw motion on/off into recording start/stop
// decisions. A stop is only issued after depth without motion, so the
// look-behind window has drained into the recording.
type MotionDebouncer struct {
	clock   Clock
	depth   time.Duration
	actions RecordingActions

	mu        sync.Mutex
	inMotion  bool
	recording bool
	timer     Timer
	// gen invalidates timers that fire after being cancelled.
	gen uint64
}

func NewMotionDebouncer(clock Clock, depth time.Duration, actions RecordingActions) *MotionDebouncer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MotionDebouncer{clock: clock, depth: depth, actions: actions}
}

// MotionStarted continues a pending recording or starts a new one.
func (d *MotionDebouncer) MotionStarted() {
	d.mu.Lock()
	if d.inMotion {
		d.mu.Unlock()
		return
	}
	d.inMotion = true

	if d.timer != nil {
		d.cancelLocked()
		d.mu.Unlock()
		slog.Debug("graph: motion resumed, pending stop cancelled")
		return
	}
	if d.recording {
		d.mu.Unlock()
		return
	}
	d.recording = true
	d.mu.Unlock()

	d.actions.StartRecording()
}

// MotionStopped (re)arms the stop timer while a recording is active.
func (d *MotionDebouncer) MotionStopped() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inMotion = false
	d.cancelLocked()
	if !d.recording {
		return
	}
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.depth, func() { d.expire(gen) })
}

func (d *MotionDebouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.recording = false
	d.mu.Unlock()

	d.actions.StopRecording()
}

func (d *MotionDebouncer) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// RecordingFailed clears the recording flag after a start that did not
// produce a session, so the next motion retries.
func (d *MotionDebouncer) RecordingFailed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.recording = false
}

// Reset cancels any pending stop and forgets all state.
func (d *MotionDebouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.inMotion = false
	d.recording = false
}

func (d *MotionDebouncer) State() MotionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return MotionState{
		InMotion:    d.inMotion,
		PendingStop: d.timer != nil,
		Recording:   d.recording,
	}
}

func (d *MotionDebouncer) Depth() time.Duration { return d.depth }
