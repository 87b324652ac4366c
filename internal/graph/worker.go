package graph

import (
	"log/slog"
	"sync"
)

// idleWorker runs deferred structural work outside of pad callbacks. Submit
// never blocks; tasks run one at a time in submission order.
type idleWorker struct {
	mu      sync.Mutex
	tasks   []func()
	notify  chan struct{}
	closed  bool
	stopped chan struct{}
}

func newIdleWorker() *idleWorker {
	w := &idleWorker{
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit queues task. It reports false once the worker is closed.
func (w *idleWorker) Submit(task func()) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.tasks = append(w.tasks, task)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

// Close runs the tasks already queued and stops the worker.
func (w *idleWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	<-w.stopped
}

func (w *idleWorker) run() {
	defer close(w.stopped)
	for {
		w.mu.Lock()
		if len(w.tasks) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.notify
			continue
		}
		task := w.tasks[0]
		w.tasks = w.tasks[1:]
		w.mu.Unlock()

		w.runTask(task)
	}
}

func (w *idleWorker) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("graph: idle task panicked", "panic", r)
		}
	}()
	task()
}
