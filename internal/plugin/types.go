// Package plugin discovers and runs external event hooks. A plugin is an
// executable that reads one Request as JSON on stdin and writes one Response
// as JSON on stdout.
package plugin

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/ayusman/headcount/internal/zone"
)

// Manifest describes a plugin's metadata and the events it subscribes to.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Subscribes reports whether the plugin wants events of the given type.
// An empty Events list subscribes to everything.
func (m Manifest) Subscribes(eventType string) bool {
	return len(m.Events) == 0 || slices.Contains(m.Events, eventType)
}

// Request represents a request sent to a plugin for execution.
type Request struct {
	Event     string          `json:"event"`
	RunID     string          `json:"run_id,omitempty"`
	TrackID   uint64          `json:"track_id"`
	Zone      string          `json:"zone"`
	Timestamp time.Time       `json:"timestamp"`
	Counters  zone.Snapshot   `json:"counters"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
