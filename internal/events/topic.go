// Package events provides the typed publish/subscribe primitives that wire
// the services together.
//
// A Topic holds only its most recent value. Subscribers never see a queue of
// history: a late subscriber gets the current value immediately, and a slow
// subscriber skips intermediate values but never observes them out of order.
package events

import (
	"context"
	"sync"
)

// Topic is a single-slot, retained-latest broadcast channel.
type Topic[T any] struct {
	name string

	mu      sync.Mutex
	value   T
	version uint64
	changed chan struct{}
}

// NewTopic creates an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name:    name,
		changed: make(chan struct{}),
	}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string {
	return t.name
}

// Publish replaces the retained value and wakes every waiting subscriber.
// It never blocks.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	t.value = v
	t.version++
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

// Latest returns the retained value and whether anything was published yet.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.version > 0
}

// Published returns how many values were published on the topic.
func (t *Topic[T]) Published() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Subscribe returns a cursor that has not seen any value yet, so the first
// receive returns the retained value if one exists.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	return &Subscription[T]{topic: t}
}

// Subscription tracks which version of a topic a consumer has seen.
// A Subscription must not be shared between goroutines.
type Subscription[T any] struct {
	topic *Topic[T]
	seen  uint64
}

// Ready returns a channel that is closed once a value newer than the last
// one taken by this subscription is available. Use it in select statements
// together with Next.
func (s *Subscription[T]) Ready() <-chan struct{} {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	if s.topic.version > s.seen {
		return closedChan
	}
	return s.topic.changed
}

// Next takes the latest value if it is newer than the last one seen.
func (s *Subscription[T]) Next() (T, bool) {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	if s.topic.version > s.seen {
		s.seen = s.topic.version
		return s.topic.value, true
	}
	var zero T
	return zero, false
}

// Recv blocks until a value newer than the last one seen is available.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	for {
		if v, ok := s.Next(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-s.Ready():
		}
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
