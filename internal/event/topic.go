// Package event provides typed publish/subscribe topics. Publishers never
// block on slow subscribers: when a subscriber's buffer is full the event is
// dropped for that subscriber and counted.
package event

import (
	"sync"
	"sync/atomic"
)

// Topic fans out values of type T to every current subscriber.
type Topic[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]chan T
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewTopic creates a topic with no subscribers.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[uint64]chan T)}
}

// Subscribe returns a channel receiving every value published after the call,
// and a cancel func that unsubscribes and closes the channel. Cancel is safe
// to call more than once.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every subscriber with room in its buffer.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- v:
		default:
			t.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}
