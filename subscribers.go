package trucksbus

import (
	"log/slog"
	"sync"
)

// Subscriber is a registration handle for a callback. Registering the same
// handle twice is a no-op, and the handle is what Off* removes.
type Subscriber[T any] struct {
	fn func(T)
}

// NewSubscriber wraps fn in a handle usable with the On*/Off* methods.
func NewSubscriber[T any](fn func(T)) *Subscriber[T] {
	return &Subscriber[T]{fn: fn}
}

// subscriberSet is an identity set of subscribers. emit snapshots the set and
// calls each handler outside the lock, recovering panics.
type subscriberSet[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscriber[T]]struct{}
	logger *slog.Logger
	name   string
}

func newSubscriberSet[T any](name string, logger *slog.Logger) *subscriberSet[T] {
	return &subscriberSet[T]{
		subs:   make(map[*Subscriber[T]]struct{}),
		logger: logger,
		name:   name,
	}
}

func (s *subscriberSet[T]) add(sub *Subscriber[T]) {
	if sub == nil || sub.fn == nil {
		return
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
}

func (s *subscriberSet[T]) remove(sub *Subscriber[T]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

func (s *subscriberSet[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *subscriberSet[T]) emit(v T) {
	s.mu.RLock()
	handlers := make([]*Subscriber[T], 0, len(s.subs))
	for sub := range s.subs {
		handlers = append(handlers, sub)
	}
	s.mu.RUnlock()

	for _, sub := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("subscriber panicked", "set", s.name, "panic", r)
				}
			}()
			sub.fn(v)
		}()
	}
}

func (s *subscriberSet[T]) clear() {
	s.mu.Lock()
	s.subs = make(map[*Subscriber[T]]struct{})
	s.mu.Unlock()
}

// serialQueue runs pushed funcs one at a time in push order on a goroutine
// owned by the queue. push never blocks, so the goroutines that feed it
// (read loop, supervisor) never wait on a subscriber.
type serialQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (q *serialQueue) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}
