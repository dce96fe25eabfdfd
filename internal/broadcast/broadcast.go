// Package broadcast fans values out from one publisher to many subscribers
// and keeps the most recent value for late readers.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// Bus delivers every published value to all current subscribers. Publish
// never blocks: a subscriber that falls behind loses its oldest undelivered
// value.
type Bus[T any] struct {
	mu     sync.RWMutex
	latest T
	has    bool
	seq    uint64
	subs   map[*Subscription[T]]struct{}
	closed bool

	dropped atomic.Uint64
}

// Subscription receives values from a Bus until it is closed.
type Subscription[T any] struct {
	ch  chan T
	bus *Bus[T]
}

// New creates an empty Bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Publish stores v as the latest value and offers it to every subscriber.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest = v
	b.has = true
	b.seq++

	for s := range b.subs {
		select {
		case s.ch <- v:
			continue
		default:
		}
		// Full: make room by discarding the oldest pending value.
		select {
		case <-s.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Latest returns the most recently published value.
func (b *Bus[T]) Latest() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.has
}

// Seq counts values published so far.
func (b *Bus[T]) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Dropped counts values discarded for slow subscribers.
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers reports how many subscriptions are open.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscribe opens a subscription buffering up to size values. Values
// published before the call are not delivered. Subscribing to a closed Bus
// returns an already closed subscription.
func (b *Bus[T]) Subscribe(size int) *Subscription[T] {
	if size < 1 {
		size = 1
	}
	s := &Subscription[T]{ch: make(chan T, size), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Close ends all subscriptions. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// C is closed when the subscription or its Bus is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}
