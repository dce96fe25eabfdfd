// Package server provides the HTTP server for the headcount people counter.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/headcount/internal/broadcast"
	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/server/api"
	"github.com/ayusman/headcount/internal/store"
)

// shutdownTimeout bounds graceful shutdown in Run.
const shutdownTimeout = 5 * time.Second

// Pipeline is the running counter as seen by the HTTP layer.
type Pipeline interface {
	api.Pipeline
	Frames() *broadcast.Bus[[]byte]
	Events() *broadcast.Bus[persist.Event]
}

// Config holds the server configuration.
type Config struct {
	StaticDir   string
	Store       *store.Store
	Pipeline    Pipeline
	Metrics     http.Handler
	CORSOrigins []string
}

// Server represents the HTTP server for the headcount application.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	start   time.Time
}

// New creates a new Server with the given configuration. Routes whose
// collaborators are missing from config are not registered.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	s.handler = cors(config.CORSOrigins, s.mux)
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	var counters api.CounterResetter
	if p := s.config.Pipeline; p != nil {
		counters = p

		ch := api.NewCountersHandler(p)
		s.mux.Handle("/api/counters", ch)
		s.mux.Handle("/api/counters/", ch)
		s.mux.Handle("/api/detection", ch)

		stream := NewStreamHandler(p.Frames())
		s.mux.HandleFunc("/api/video/stream", stream.ServeHTTP)
		s.mux.HandleFunc("/api/video/snapshot", stream.ServeSnapshot)

		s.mux.Handle("/api/events/ws", NewEventsHandler(p.Events()))
	}

	if s.config.Store != nil {
		zones := api.NewZoneHandler(s.config.Store, counters)
		s.mux.Handle("/api/config/areas", zones)
		s.mux.Handle("/api/config/areas/", zones)

		stats := api.NewStatsHandler(s.config.Store)
		s.mux.Handle("/api/stats", stats)
		s.mux.Handle("/api/stats/", stats)
	}

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if p := s.config.Pipeline; p != nil {
		response["counting_enabled"] = p.IsEnabled()
		response["zone"] = p.ZoneName()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}

// cors allows cross-origin requests from the listed origins. "*" allows any
// origin.
func cors(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	anyOrigin := slices.Contains(origins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (anyOrigin || slices.Contains(origins, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
