package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/stats"
	"github.com/ayusman/headcount/internal/store"
)

// Query limits.
const (
	defaultLimit    = 100
	maxLimit        = 1000
	defaultHours    = 24
	maxHours        = 720
	defaultForecast = 24
)

// StatsHandler serves aggregated counting statistics.
type StatsHandler struct {
	store *store.Store
	stats *stats.Service
}

// NewStatsHandler creates a StatsHandler over s.
func NewStatsHandler(s *store.Store) *StatsHandler {
	return &StatsHandler{store: s, stats: stats.New(s)}
}

// ServeHTTP routes /api/stats and its sub-resources.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stats")
	path = strings.Trim(path, "/")

	if path == "forecast" {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.forecast(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch path {
	case "":
		h.summary(w, r)
	case "live":
		h.live(w, r)
	case "events":
		h.events(w, r)
	case "detections":
		h.detections(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// summary handles GET /api/stats. Without start, the window is the last
// hours (default 24) before end.
func (h *StatsHandler) summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := queryTime(q, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := queryTime(q, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hours, err := queryInt(q, "hours", defaultHours, 1, maxHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hourly, err := queryBool(q, "hourly", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if start == nil {
		to := time.Now().UTC()
		if end != nil {
			to = *end
		}
		from := to.Add(-time.Duration(hours) * time.Hour)
		start, end = &from, &to
	}

	sum, err := h.stats.Summary(r.Context(), zoneParam(q), start, end, hourly)
	if err != nil {
		writeStoreError(w, err, "statistics")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// live handles GET /api/stats/live.
func (h *StatsHandler) live(w http.ResponseWriter, r *http.Request) {
	live, err := h.stats.Live(r.Context(), zoneParam(r.URL.Query()))
	if err != nil {
		writeStoreError(w, err, "live statistics")
		return
	}
	writeJSON(w, http.StatusOK, live)
}

// filter builds a store filter from the shared list parameters.
func filter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{Zone: zoneParam(q)}

	var err error
	if f.Limit, err = queryInt(q, "limit", defaultLimit, 1, maxLimit); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(q, "skip", 0, 0, 1<<31-1); err != nil {
		return f, err
	}
	if f.Start, err = queryTime(q, "start"); err != nil {
		return f, err
	}
	if f.End, err = queryTime(q, "end"); err != nil {
		return f, err
	}
	if raw := q.Get("track_id"); raw != "" {
		id, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			return f, errBadRequestf("track_id must be a non-negative integer")
		}
		f.TrackID = &id
	}
	return f, nil
}

// events handles GET /api/stats/events.
func (h *StatsHandler) events(w http.ResponseWriter, r *http.Request) {
	f, err := filter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch t := r.URL.Query().Get("event_type"); t {
	case "", persist.EventEntry, persist.EventExit:
		f.EventType = t
	default:
		writeError(w, http.StatusBadRequest, "event_type must be entry or exit")
		return
	}

	events, err := h.store.Events().List(r.Context(), f)
	if err != nil {
		writeStoreError(w, err, "events")
		return
	}
	if events == nil {
		events = []store.EventRow{}
	}
	writeJSON(w, http.StatusOK, events)
}

// detections handles GET /api/stats/detections.
func (h *StatsHandler) detections(w http.ResponseWriter, r *http.Request) {
	f, err := filter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dets, err := h.store.Detections().List(r.Context(), f)
	if err != nil {
		writeStoreError(w, err, "detections")
		return
	}
	if dets == nil {
		dets = []store.DetectionRow{}
	}
	writeJSON(w, http.StatusOK, dets)
}

type forecastRequest struct {
	Zone     string `json:"zone"`
	AreaName string `json:"area_name"`
	Periods  int    `json:"periods"`
}

// forecast handles POST /api/stats/forecast.
func (h *StatsHandler) forecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Periods == 0 {
		req.Periods = defaultForecast
	}
	if req.Zone == "" {
		req.Zone = req.AreaName
	}

	fc, err := h.stats.Forecast(r.Context(), req.Zone, req.Periods)
	if err != nil {
		writeStoreError(w, err, "forecast")
		return
	}
	writeJSON(w, http.StatusOK, fc)
}
