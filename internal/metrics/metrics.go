// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "headcount"

// Metrics holds the counters written by the pipeline loop. Values owned by
// other components are attached with GaugeFunc.
type Metrics struct {
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64
	FramesStill     atomic.Uint64
	DetectionFrames atomic.Uint64

	DetectionErrors atomic.Uint64
	RenderErrors    atomic.Uint64
	ZoneReloadErrs  atomic.Uint64

	Entries atomic.Uint64
	Exits   atomic.Uint64

	DetectLatencyMs atomic.Uint64
	FPSMilli        atomic.Uint64 // frames per second x1000

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"frames_read_total", "Frames taken from the frame source", &m.FramesRead},
		{"frames_processed_total", "Frames published to the live view", &m.FramesProcessed},
		{"frames_skipped_total", "Frames published without detection", &m.FramesSkipped},
		{"frames_still_total", "Frames the motion gate kept from the detector", &m.FramesStill},
		{"detection_frames_total", "Frames run through the detector", &m.DetectionFrames},
		{"detection_errors_total", "Detector failures", &m.DetectionErrors},
		{"render_errors_total", "Overlay or JPEG encoding failures", &m.RenderErrors},
		{"zone_reload_errors_total", "Rejected zone reloads", &m.ZoneReloadErrs},
		{"entries_total", "Zone entries counted", &m.Entries},
		{"exits_total", "Zone exits counted", &m.Exits},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: namespace, Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.GaugeFunc("detect_latency_ms", "Duration of the last detector call in milliseconds", func() float64 {
		return float64(m.DetectLatencyMs.Load())
	})
	m.GaugeFunc("fps", "Pipeline frames per second over the last reporting window", func() float64 {
		return float64(m.FPSMilli.Load()) / 1000
	})
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// CounterFunc registers a monotonically increasing value read from fn.
func (m *Metrics) CounterFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// UpdateDetectLatency records the duration of the last detector call.
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateFPS records the measured pipeline rate.
func (m *Metrics) UpdateFPS(fps float64) {
	if fps < 0 {
		fps = 0
	}
	m.FPSMilli.Store(uint64(fps * 1000))
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
