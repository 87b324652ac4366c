package inproc

import (
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

const (
	leakyNone       = 0
	leakyUpstream   = 1
	leakyDownstream = 2
)

// queue decouples its src side onto a dedicated streaming goroutine, like
// GStreamer's queue element. min-threshold-time holds data back until the
// queued span reaches the threshold.
type queue struct {
	src *pad

	mu      sync.Mutex
	cond    *sync.Cond
	items   []item
	bytes   int
	eos     bool
	running bool
	done    chan struct{}
}

func newQueue(e *element) behavior {
	e.declare("max-size-buffers", 200)
	e.declare("max-size-bytes", 10485760)
	e.declare("max-size-time", uint64(time.Second))
	e.declare("min-threshold-time", uint64(0))
	e.declare("leaky", leakyNone)
	e.declare("silent", false)
	e.declare("current-level-buffers", 0)
	e.declare("current-level-time", uint64(0))
	e.addStaticPad("sink", media.DirectionSink)
	q := &queue{src: e.addStaticPad("src", media.DirectionSrc)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

type queueLimits struct {
	buffers   int
	bytes     int
	time      time.Duration
	threshold time.Duration
	leaky     int
}

func limitsOf(e *element) queueLimits {
	return queueLimits{
		buffers:   e.intProp("max-size-buffers"),
		bytes:     e.intProp("max-size-bytes"),
		time:      time.Duration(e.uintProp("max-size-time")),
		threshold: time.Duration(e.uintProp("min-threshold-time")),
		leaky:     e.intProp("leaky"),
	}
}

func (q *queue) handle(e *element, _ *pad, it item) flowReturn {
	lim := limitsOf(e)

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return flowFlushing
	}
	if it.ev != nil {
		q.items = append(q.items, it)
		if it.ev.Type == media.EventEOS {
			q.eos = true
		}
		q.cond.Broadcast()
		q.mu.Unlock()
		return flowOK
	}

	for q.fullLocked(lim) {
		switch lim.leaky {
		case leakyUpstream:
			q.mu.Unlock()
			return flowOK
		case leakyDownstream:
			q.dropOldestLocked()
		default:
			q.cond.Wait()
			if !q.running {
				q.mu.Unlock()
				return flowFlushing
			}
		}
	}
	q.items = append(q.items, it)
	q.bytes += len(it.buf.Data)
	q.cond.Broadcast()
	level, span := len(q.items), q.spanLocked()
	q.mu.Unlock()

	q.report(e, level, span)
	return flowOK
}

func (q *queue) fullLocked(lim queueLimits) bool {
	if len(q.items) == 0 {
		return false
	}
	switch {
	case lim.buffers > 0 && len(q.items) >= lim.buffers:
		return true
	case lim.bytes > 0 && q.bytes >= lim.bytes:
		return true
	case lim.time > 0 && q.spanLocked() >= lim.time:
		return true
	}
	return false
}

func (q *queue) dropOldestLocked() {
	for i, it := range q.items {
		if it.buf != nil {
			q.bytes -= len(it.buf.Data)
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// spanLocked is the timestamp distance between the oldest and newest buffer.
func (q *queue) spanLocked() time.Duration {
	var first, last *media.Buffer
	for _, it := range q.items {
		if it.buf == nil {
			continue
		}
		if first == nil {
			first = it.buf
		}
		last = it.buf
	}
	if first == nil {
		return 0
	}
	return last.PTS - first.PTS
}

func (q *queue) readyLocked(threshold time.Duration) bool {
	if len(q.items) == 0 {
		return false
	}
	return q.eos || threshold == 0 || q.spanLocked() >= threshold
}

func (q *queue) report(e *element, level int, span time.Duration) {
	e.setInternal("current-level-buffers", level)
	e.setInternal("current-level-time", uint64(span))
}

func (q *queue) loop(e *element, done chan<- struct{}) {
	defer close(done)
	for {
		threshold := time.Duration(e.uintProp("min-threshold-time"))

		q.mu.Lock()
		for q.running && !q.readyLocked(threshold) {
			q.cond.Wait()
		}
		if !q.running {
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items = q.items[1:]
		if it.buf != nil {
			q.bytes -= len(it.buf.Data)
		} else if it.ev.Type == media.EventEOS {
			q.eos = false
		}
		level, span := len(q.items), q.spanLocked()
		q.cond.Broadcast()
		q.mu.Unlock()

		q.report(e, level, span)
		q.src.push(it)
	}
}

func (q *queue) transition(e *element, from, to media.State) error {
	switch {
	case from == media.StateReady && to == media.StatePaused:
		q.mu.Lock()
		q.running = true
		q.done = make(chan struct{})
		done := q.done
		q.mu.Unlock()
		go q.loop(e, done)

	case from == media.StatePaused && to == media.StateReady:
		q.mu.Lock()
		q.running = false
		done := q.done
		q.cond.Broadcast()
		q.mu.Unlock()
		if done != nil {
			<-done
		}
		q.mu.Lock()
		q.items = nil
		q.bytes = 0
		q.eos = false
		q.mu.Unlock()
		q.report(e, 0, 0)
	}
	return nil
}
