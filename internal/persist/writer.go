package persist

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultWriteTimeout bounds a single Sink call.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultHookTimeout bounds the Hook call for a single event.
	DefaultHookTimeout = 30 * time.Second

	// hookQueueSize events may wait for the Hook before the oldest is dropped.
	hookQueueSize = 64
)

// Writer is the queue's single consumer. It stores each item in the Sink and
// passes stored events to the Hook, which runs on its own goroutine so a slow
// hook never holds up storage. Failures are logged and counted; they never
// reach the pipeline.
type Writer struct {
	queue       *Queue
	hooks       *Queue
	sink        Sink
	hook        Hook
	timeout     time.Duration
	hookTimeout time.Duration

	written  atomic.Uint64
	failures atomic.Uint64

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	hookDone chan struct{}
}

// NewWriter creates a Writer draining q. sink and hook may be nil.
func NewWriter(q *Queue, sink Sink, hook Hook) *Writer {
	return &Writer{
		queue:       q,
		hooks:       NewQueue(hookQueueSize),
		sink:        sink,
		hook:        hook,
		timeout:     DefaultWriteTimeout,
		hookTimeout: DefaultHookTimeout,
	}
}

// Start launches the consumer goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		return
	}
	if w.hook != nil {
		w.hookDone = make(chan struct{})
		go w.runHooks(context.WithoutCancel(ctx), w.hookDone)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
}

// Stop closes both queues, discarding pending items, and waits for the record
// being written and the hook call in flight.
func (w *Writer) Stop() {
	if discarded := w.queue.Close(); discarded > 0 {
		log.Warn().Int("discarded", discarded).Msg("Persist queue closed with pending records")
	}

	w.mu.Lock()
	done, hookDone := w.done, w.hookDone
	w.mu.Unlock()
	if done != nil {
		<-done
	}

	if discarded := w.hooks.Close(); discarded > 0 {
		log.Warn().Int("discarded", discarded).Msg("Hook queue closed with pending events")
	}
	if hookDone != nil {
		<-hookDone
	}
}

// Written counts records stored successfully.
func (w *Writer) Written() uint64 { return w.written.Load() }

// Failures counts records the Sink rejected.
func (w *Writer) Failures() uint64 { return w.failures.Load() }

// HookDropped counts events the Hook never saw because its queue overflowed.
func (w *Writer) HookDropped() uint64 { return w.hooks.Dropped() }

func (w *Writer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer w.cancel()

	for {
		it, ok := w.queue.Pop(ctx)
		if !ok {
			return
		}
		w.handle(ctx, it)
	}
}

func (w *Writer) handle(ctx context.Context, it Item) {
	// Stop closes the queue rather than cancelling ctx, so the write in
	// flight is allowed to finish.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	switch {
	case it.Event != nil:
		if err := w.store(wctx, it); err != nil {
			log.Error().Err(err).Uint64("track_id", it.Event.TrackID).Str("zone", it.Event.Zone).Msg("Failed to store event")
		}
		if w.hook != nil && !w.hooks.Push(it) {
			log.Warn().Uint64("track_id", it.Event.TrackID).Msg("Hook queue full, dropped oldest event")
		}
	case it.Detection != nil:
		if err := w.store(wctx, it); err != nil {
			log.Error().Err(err).Uint64("track_id", it.Detection.TrackID).Str("zone", it.Detection.Zone).Msg("Failed to store detection")
		}
	}
}

// runHooks feeds queued events to the Hook until the hook queue is closed.
func (w *Writer) runHooks(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		it, ok := w.hooks.Pop(ctx)
		if !ok {
			return
		}
		hctx, cancel := context.WithTimeout(ctx, w.hookTimeout)
		w.hook.OnEvent(hctx, *it.Event)
		cancel()
	}
}

func (w *Writer) store(ctx context.Context, it Item) error {
	if w.sink == nil {
		return nil
	}

	var err error
	if it.Event != nil {
		err = w.sink.RecordEvent(ctx, *it.Event)
	} else {
		err = w.sink.RecordDetection(ctx, *it.Detection)
	}
	if err != nil {
		w.failures.Add(1)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	w.written.Add(1)
	return nil
}
