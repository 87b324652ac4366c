package graph

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingCalls struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (r *recordingCalls) StartRecording() {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *recordingCalls) StopRecording() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func (r *recordingCalls) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

func newTestDebouncer(depth time.Duration) (*MotionDebouncer, *ManualClock, *recordingCalls) {
	clock := NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	calls := &recordingCalls{}
	return NewMotionDebouncer(clock, depth, calls), clock, calls
}

func TestMotionDebouncer(t *testing.T) {
	t.Run("motion resumed inside look-behind continues one session", func(t *testing.T) {
		d, clock, calls := newTestDebouncer(10 * time.Second)

		d.MotionStarted() // t=0
		clock.Advance(5 * time.Second)
		d.MotionStopped() // t=5, stop due at 15
		assert.True(t, d.State().PendingStop)

		clock.Advance(3 * time.Second)
		d.MotionStarted() // t=8, continuation
		assert.False(t, d.State().PendingStop)

		clock.Advance(4 * time.Second)
		d.MotionStopped() // t=12, stop due at 22

		clock.Advance(9*time.Second + 900*time.Millisecond)
		starts, stops := calls.counts()
		assert.Equal(t, 1, starts)
		assert.Equal(t, 0, stops, "stop before depth elapsed")

		clock.Advance(100 * time.Millisecond)
		starts, stops = calls.counts()
		assert.Equal(t, 1, starts)
		assert.Equal(t, 1, stops)
		assert.Equal(t, MotionState{}, d.State())
	})

	t.Run("repeated start signals are ignored", func(t *testing.T) {
		d, _, calls := newTestDebouncer(time.Second)
		d.MotionStarted()
		d.MotionStarted()
		d.MotionStarted()

		starts, _ := calls.counts()
		assert.Equal(t, 1, starts)
		assert.Equal(t, MotionState{InMotion: true, Recording: true}, d.State())
	})

	t.Run("stop without recording arms nothing", func(t *testing.T) {
		d, clock, calls := newTestDebouncer(time.Second)
		d.MotionStopped()
		assert.Zero(t, clock.Pending())

		clock.Advance(time.Minute)
		_, stops := calls.counts()
		assert.Zero(t, stops)
	})

	t.Run("repeated stop signals restart the timer", func(t *testing.T) {
		d, clock, calls := newTestDebouncer(10 * time.Second)
		d.MotionStarted()
		d.MotionStopped()
		clock.Advance(6 * time.Second)
		d.MotionStopped()
		assert.Equal(t, 1, clock.Pending())

		clock.Advance(6 * time.Second)
		_, stops := calls.counts()
		assert.Zero(t, stops)

		clock.Advance(4 * time.Second)
		_, stops = calls.counts()
		assert.Equal(t, 1, stops)
	})

	t.Run("new motion after stop starts a new session", func(t *testing.T) {
		d, clock, calls := newTestDebouncer(2 * time.Second)
		d.MotionStarted()
		d.MotionStopped()
		clock.Advance(2 * time.Second)
		d.MotionStarted()

		starts, stops := calls.counts()
		assert.Equal(t, 2, starts)
		assert.Equal(t, 1, stops)
	})

	t.Run("failed start lets the next motion retry", func(t *testing.T) {
		d, _, calls := newTestDebouncer(time.Second)
		d.MotionStarted()
		d.RecordingFailed()
		d.MotionStopped()
		d.MotionStarted()

		starts, stops := calls.counts()
		assert.Equal(t, 2, starts)
		assert.Zero(t, stops)
	})

	t.Run("reset cancels the pending stop", func(t *testing.T) {
		d, clock, calls := newTestDebouncer(time.Second)
		d.MotionStarted()
		d.MotionStopped()
		d.Reset()
		assert.Zero(t, clock.Pending())

		clock.Advance(time.Minute)
		_, stops := calls.counts()
		assert.Zero(t, stops)
		assert.Equal(t, MotionState{}, d.State())
	})
}

func TestManualClock(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))

	var fired []string
	clock.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	clock.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, time.Unix(2, 0), clock.Now())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"a", "c"}, fired)
	assert.Zero(t, clock.Pending())
}
