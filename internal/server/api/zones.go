package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/headcount/internal/store"
	"github.com/ayusman/headcount/internal/zone"
)

// CounterResetter resets the live counters of the counted zone.
type CounterResetter interface {
	ZoneName() string
	ResetCounters()
}

// ZoneHandler handles HTTP requests for zone configuration.
type ZoneHandler struct {
	store    *store.Store
	counters CounterResetter
}

// NewZoneHandler creates a ZoneHandler. counters may be nil.
func NewZoneHandler(s *store.Store, counters CounterResetter) *ZoneHandler {
	return &ZoneHandler{store: s, counters: counters}
}

// ServeHTTP routes /api/config/areas, /api/config/areas/{name} and
// /api/config/areas/{name}/reset.
func (h *ZoneHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/config/areas")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if name, ok := strings.CutSuffix(path, "/reset"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.reset(w, r, name)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodPut:
		h.update(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type zoneRequest struct {
	Name        string      `json:"name"`
	Kind        zone.Kind   `json:"kind"`
	Coordinates [][]float64 `json:"coordinates"`
	Description string      `json:"description"`
}

type listZonesResponse struct {
	Areas []*store.Zone `json:"areas"`
}

type resetResponse struct {
	Message           string `json:"message"`
	EventsDeleted     int64  `json:"events_deleted"`
	DetectionsDeleted int64  `json:"detections_deleted"`
}

// list handles GET /api/config/areas.
func (h *ZoneHandler) list(w http.ResponseWriter, r *http.Request) {
	zones, err := h.store.Zones().List(r.Context())
	if err != nil {
		writeStoreError(w, err, "zones")
		return
	}
	if zones == nil {
		zones = []*store.Zone{}
	}
	writeJSON(w, http.StatusOK, listZonesResponse{Areas: zones})
}

// get handles GET /api/config/areas/{name}.
func (h *ZoneHandler) get(w http.ResponseWriter, r *http.Request, name string) {
	z, err := h.store.Zones().GetByName(r.Context(), name)
	if err != nil {
		writeStoreError(w, err, "Zone")
		return
	}
	writeJSON(w, http.StatusOK, z)
}

// create handles POST /api/config/areas.
func (h *ZoneHandler) create(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	z := &store.Zone{
		Name:        strings.TrimSpace(req.Name),
		Kind:        req.Kind,
		Coordinates: req.Coordinates,
		Description: req.Description,
	}
	if err := h.store.Zones().Create(r.Context(), z); err != nil {
		writeStoreError(w, err, "Zone")
		return
	}

	log.Info().Str("zone", z.Name).Str("kind", string(z.Kind)).Msg("Zone created")
	writeJSON(w, http.StatusCreated, z)
}

// update handles PUT /api/config/areas/{name}. It always refreshes
// updated_at, which makes the pipeline reload the zone.
func (h *ZoneHandler) update(w http.ResponseWriter, r *http.Request, name string) {
	var req zoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != "" && req.Name != name {
		writeError(w, http.StatusBadRequest, "Zone name cannot be changed")
		return
	}

	existing, err := h.store.Zones().GetByName(r.Context(), name)
	if err != nil {
		writeStoreError(w, err, "Zone")
		return
	}

	z := &store.Zone{
		Name:        name,
		Kind:        existing.Kind,
		Coordinates: req.Coordinates,
		Description: existing.Description,
	}
	if req.Kind != "" {
		z.Kind = req.Kind
	}
	if req.Description != "" {
		z.Description = req.Description
	}
	if err := h.store.Zones().Update(r.Context(), z); err != nil {
		writeStoreError(w, err, "Zone")
		return
	}

	updated, err := h.store.Zones().GetByName(r.Context(), name)
	if err != nil {
		writeStoreError(w, err, "Zone")
		return
	}
	log.Info().Str("zone", name).Int("points", len(updated.Coordinates)).Msg("Zone updated")
	writeJSON(w, http.StatusOK, updated)
}

// delete handles DELETE /api/config/areas/{name}.
func (h *ZoneHandler) delete(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.store.Zones().Delete(r.Context(), name); err != nil {
		writeStoreError(w, err, "Zone")
		return
	}
	log.Info().Str("zone", name).Msg("Zone deleted")
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Zone %q deleted", name)})
}

// reset handles POST /api/config/areas/{name}/reset. It deletes the zone's
// events and detections, and zeroes the live counters when name is the
// counted zone.
func (h *ZoneHandler) reset(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	if _, err := h.store.Zones().GetByName(ctx, name); err != nil {
		writeStoreError(w, err, "Zone")
		return
	}

	dets, err := h.store.Detections().DeleteByZone(ctx, name)
	if err != nil {
		writeStoreError(w, err, "detections")
		return
	}
	events, err := h.store.Events().DeleteByZone(ctx, name)
	if err != nil {
		writeStoreError(w, err, "events")
		return
	}

	if h.counters != nil && h.counters.ZoneName() == name {
		h.counters.ResetCounters()
	}

	log.Info().Str("zone", name).Int64("events", events).Int64("detections", dets).Msg("Zone data reset")
	writeJSON(w, http.StatusOK, resetResponse{
		Message:           fmt.Sprintf("Data reset for zone %q", name),
		EventsDeleted:     events,
		DetectionsDeleted: dets,
	})
}
