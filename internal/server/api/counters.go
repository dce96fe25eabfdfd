package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/headcount/internal/zone"
)

// Pipeline is the live counting state exposed over HTTP.
type Pipeline interface {
	CounterResetter
	Counters() zone.Snapshot
	SetEnabled(enabled bool)
	IsEnabled() bool
}

// CountersHandler serves the in-memory counters and the counting toggle.
type CountersHandler struct {
	pipeline Pipeline
}

// NewCountersHandler creates a CountersHandler.
func NewCountersHandler(p Pipeline) *CountersHandler {
	return &CountersHandler{pipeline: p}
}

type countersResponse struct {
	Zone     string        `json:"zone"`
	Enabled  bool          `json:"enabled"`
	Counters zone.Snapshot `json:"counters"`
}

type detectionRequest struct {
	Enabled *bool `json:"enabled"`
}

type detectionResponse struct {
	Enabled bool `json:"enabled"`
}

// ServeHTTP routes /api/counters, /api/counters/reset and /api/detection.
func (h *CountersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/api/counters":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.get(w)
	case "/api/counters/reset":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.pipeline.ResetCounters()
		h.get(w)
	case "/api/detection":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, detectionResponse{Enabled: h.pipeline.IsEnabled()})
		case http.MethodPut:
			h.toggle(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *CountersHandler) get(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, countersResponse{
		Zone:     h.pipeline.ZoneName(),
		Enabled:  h.pipeline.IsEnabled(),
		Counters: h.pipeline.Counters(),
	})
}

// toggle handles PUT /api/detection with {"enabled": bool}.
func (h *CountersHandler) toggle(w http.ResponseWriter, r *http.Request) {
	var req detectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	h.pipeline.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, detectionResponse{Enabled: h.pipeline.IsEnabled()})
}
