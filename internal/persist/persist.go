// Package persist moves counting records off the pipeline goroutine and into
// durable storage through a bounded queue.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/ayusman/headcount/internal/zone"
)

// ErrPersistence wraps failures to store a record, including records dropped
// on queue overflow.
var ErrPersistence = errors.New("persist: record not stored")

// Event types.
const (
	EventEntry = "entry"
	EventExit  = "exit"
)

// Event is one zone crossing.
type Event struct {
	RunID     string        `json:"run_id"`
	TrackID   uint64        `json:"track_id"`
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Zone      string        `json:"zone"`
	Counters  zone.Snapshot `json:"counters"`
}

// DetectionRecord is one tracked box observed on a detection frame.
type DetectionRecord struct {
	RunID      string    `json:"run_id"`
	TrackID    uint64    `json:"track_id"`
	Box        [4]int    `json:"bbox"`
	InZone     bool      `json:"in_zone"`
	Timestamp  time.Time `json:"timestamp"`
	Zone       string    `json:"zone"`
	Confidence float64   `json:"confidence"`
}

// Sink stores records durably.
type Sink interface {
	RecordEvent(ctx context.Context, e Event) error
	RecordDetection(ctx context.Context, d DetectionRecord) error
}

// Hook observes events after they have been handed to the Sink.
type Hook interface {
	OnEvent(ctx context.Context, e Event)
}

// Item is a queued record. Exactly one field is set.
type Item struct {
	Event     *Event
	Detection *DetectionRecord
}

// EventItem wraps e for queueing.
func EventItem(e Event) Item { return Item{Event: &e} }

// DetectionItem wraps d for queueing.
func DetectionItem(d DetectionRecord) Item { return Item{Detection: &d} }
