// Package eventbus fans controller events out to any number of subscribers
// without ever blocking the publisher.
//
// Two delivery policies exist. A channel subscriber (DropNew) gets every
// value its channel has room for; values that do not fit are counted as
// dropped. A latest-value subscriber (DropOld) only ever holds the most
// recent value, which suits state readers like a metrics scraper.
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed             = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
	ErrNilChannel         = errors.New("eventbus: nil channel provided")
)

// DropPolicy defines what happens when a subscriber cannot keep up.
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

func (p DropPolicy) String() string {
	if p == DropOld {
		return "drop-old"
	}
	return "drop-new"
}

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

type counters struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type subscriber[T any] struct {
	policy DropPolicy
	stats  counters

	ch     chan<- T
	latest *Latest[T]
}

// Bus distributes values of T.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	published   atomic.Uint64
	closed      bool
}

func New[T any]() *Bus[T] {
	return &Bus[T]{subscribers: make(map[string]*subscriber[T])}
}

// Subscribe registers ch under id with the DropNew policy.
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber[T]{policy: DropNew, ch: ch})
}

// SubscribeLatest registers a DropOld subscriber under id.
func (b *Bus[T]) SubscribeLatest(id string) (*Latest[T], error) {
	l := newLatest[T]()
	if err := b.add(id, &subscriber[T]{policy: DropOld, latest: l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Bus[T]) add(id string, s *subscriber[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// Publish hands v to every subscriber. It never blocks.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- v:
				s.stats.sent.Add(1)
			default:
				s.stats.dropped.Add(1)
			}
		case DropOld:
			if s.latest.set(v) {
				s.stats.dropped.Add(1)
			}
			s.stats.sent.Add(1)
		}
	}
}

// Unsubscribe removes id. A DropOld receiver is closed; a channel is left
// to its owner.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subscribers[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

func (b *Bus[T]) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.subscribers[id]
	if !ok {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Policy:  s.policy,
		Sent:    s.stats.sent.Load(),
		Dropped: s.stats.dropped.Load(),
	}, nil
}

// Published is the number of values published since creation.
func (b *Bus[T]) Published() uint64 { return b.published.Load() }

// Subscribers returns the number of registered subscribers.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close drops every subscriber. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// Latest holds the most recent value published to a DropOld subscriber.
type Latest[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	fresh  bool
	closed bool
}

func newLatest[T any]() *Latest[T] {
	l := &Latest[T]{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set stores v and reports whether an unread value was overwritten.
func (l *Latest[T]) set(v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	overwritten := l.fresh
	l.value, l.fresh = v, true
	l.cond.Broadcast()
	return overwritten
}

// Receive blocks until an unread value is available. ok is false once the
// receiver is closed.
func (l *Latest[T]) Receive() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for !l.fresh && !l.closed {
		l.cond.Wait()
	}
	if l.closed {
		return v, false
	}
	l.fresh = false
	return l.value, true
}

// TryReceive returns the unread value, if any, without blocking.
func (l *Latest[T]) TryReceive() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.fresh {
		return v, false
	}
	l.fresh = false
	return l.value, true
}

func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
}
