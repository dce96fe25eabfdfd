package persist

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the queue capacity used when none is configured.
const DefaultQueueSize = 256

// Queue is a bounded FIFO. Push never blocks: when the queue is full the
// oldest pending item is discarded.
type Queue struct {
	mu     sync.Mutex
	buf    []Item
	head   int
	n      int
	closed bool
	ready  chan struct{}

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		buf:   make([]Item, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends it. It returns false when an older item had to be dropped to
// make room, or when the queue is closed.
func (q *Queue) Push(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped.Add(1)
		return false
	}

	ok := true
	if q.n == len(q.buf) {
		q.buf[q.head] = Item{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped.Add(1)
		ok = false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = it
	q.n++
	q.pushed.Add(1)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return ok
}

// Pop removes the oldest item, waiting until one is available. It returns
// false once the queue is closed or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Item, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Item{}, false
		}
		if q.n > 0 {
			it := q.buf[q.head]
			q.buf[q.head] = Item{}
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Item{}, false
		}
	}
}

// Close wakes any waiting Pop and discards pending items. It returns how
// many were discarded.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	pending := q.n
	for i := range q.buf {
		q.buf[i] = Item{}
	}
	q.n = 0
	close(q.ready)
	return pending
}

// Len reports how many items are pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap is the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Pushed counts items accepted by Push.
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped counts items lost to overflow or pushed after Close.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
