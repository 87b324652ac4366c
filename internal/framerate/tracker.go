package framerate

import (
	"sync"
	"time"
)

// DefaultCapacity keeps ten seconds of arrivals at 30 FPS.
const DefaultCapacity = 300

// Tracker records the arrival time of the most recent frames in a ring.
// Observe is safe to call from a streaming goroutine.
type Tracker struct {
	now func() time.Time

	mu    sync.Mutex
	ring  []time.Time
	next  int
	full  bool
	total uint64
}

// NewTracker keeps the last capacity arrivals. now defaults to time.Now.
func NewTracker(capacity int, now func() time.Time) *Tracker {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, ring: make([]time.Time, capacity)}
}

// Observe records one frame arriving now.
func (t *Tracker) Observe() {
	at := t.now()
	t.mu.Lock()
	t.ring[t.next] = at
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	t.total++
	t.mu.Unlock()
}

// Total is the number of frames observed since the last Reset.
func (t *Tracker) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Reset forgets every arrival.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.ring)
	t.next, t.full, t.total = 0, false, 0
}

// Stats computes statistics over the arrivals in the ring. The window runs
// from the oldest arrival to now.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	var times []time.Time
	if t.full {
		times = append(times, t.ring[t.next:]...)
		times = append(times, t.ring[:t.next]...)
	} else {
		times = append(times, t.ring[:t.next]...)
	}
	t.mu.Unlock()

	if len(times) == 0 {
		return Stats{}
	}
	return Calculate(times, t.now().Sub(times[0]))
}
