package events

import (
	"context"
	"sync"
)

const DefaultBuffer = 16

// Topic is an in-process fan-out channel for one event type. Publish waits
// for buffer space at every subscriber, so events are never dropped while a
// subscriber is live.
type Topic[T any] struct {
	buffer int

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription[T]
}

type subscription[T any] struct {
	ch       chan T
	done     chan struct{}
	doneOnce sync.Once
}

func NewTopic[T any](buffer int) *Topic[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Topic[T]{buffer: buffer, subs: map[int]*subscription[T]{}}
}

func (t *Topic[T]) Publish(ctx context.Context, event T) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sub := range t.subs {
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	sub := &subscription[T]{
		ch:   make(chan T, t.buffer),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = sub
	t.mu.Unlock()

	cancel := func() {
		sub.doneOnce.Do(func() {
			close(sub.done)
			t.mu.Lock()
			delete(t.subs, id)
			close(sub.ch)
			t.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
