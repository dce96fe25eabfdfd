// Package app wires the frame source, detector, tracker and zone detector
// into the counting pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ayusman/headcount/internal/broadcast"
	"github.com/ayusman/headcount/internal/capture"
	"github.com/ayusman/headcount/internal/detector"
	"github.com/ayusman/headcount/internal/geom"
	"github.com/ayusman/headcount/internal/metrics"
	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/render"
	"github.com/ayusman/headcount/internal/store"
	"github.com/ayusman/headcount/internal/tracker"
	"github.com/ayusman/headcount/internal/zone"
)

// Pipeline defaults.
const (
	DefaultFrameWidth       = 1280
	DefaultFrameHeight      = 720
	DefaultFrameSkip        = 2
	DefaultJPEGQuality      = 80
	DefaultZonePollInterval = time.Second
	DefaultIdleWait         = 10 * time.Millisecond

	// FPSLogInterval is the number of frames between FPS log lines.
	FPSLogInterval = 100
)

// ErrStopped is returned by Start once the App has been stopped.
var ErrStopped = errors.New("app: stopped")

// ZoneStore looks up the stored configuration of a zone. It returns
// store.ErrNotFound when no zone has that name.
type ZoneStore interface {
	GetZone(ctx context.Context, name string) (*store.Zone, error)
}

// Config holds the App's collaborators and tuning. Source and Detector are
// required; everything else has a default.
type Config struct {
	Source   capture.SourceConfig
	Detector detector.Detector
	Zones    ZoneStore
	Sink     persist.Sink
	Hook     persist.Hook
	Metrics  *metrics.Metrics

	ZoneName    string
	DefaultZone [][2]float64

	FrameSize     geom.Size
	FrameSkip     int
	JPEGQuality   int
	PersistQueue  int
	DetectWorkers int

	// MaxDisappeared is passed to the tracker as is. Zero drops a track on
	// its first missed cycle; a negative value selects the tracker default.
	MaxDisappeared int

	// MotionThreshold is the percentage of changed pixels below which a
	// frame skips detection. Zero detects on every selected frame.
	MotionThreshold float64

	ZonePollInterval time.Duration
	IdleWait         time.Duration
	Style            *render.Style
}

// App is the people-counting pipeline. One App owns the tracker, zone
// detector, counters and queues; the HTTP server and tray read from it.
type App struct {
	config Config
	runID  string
	style  render.Style

	source   *capture.Source
	detector detector.Detector
	tracker  *tracker.Tracker
	zone     *zone.Detector
	counters zone.Counters
	queue    *persist.Queue
	writer   *persist.Writer
	frames   *broadcast.Bus[[]byte]
	events   *broadcast.Bus[persist.Event]
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted
	motion   *capture.MotionGate

	enabled      atomic.Bool
	activeTracks atomic.Int64
	zoneUpdates  chan *store.Zone
	startedAt    atomic.Pointer[time.Time]

	// Owned by the pipeline goroutine.
	frameCount uint64
	lastSeq    uint64
	lastJPEG   []byte
	processed  uint64
	fpsStart   time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped bool
}

// New creates a stopped App.
func New(config Config) (*App, error) {
	if config.Detector == nil {
		return nil, errors.New("app: detector is required")
	}
	if config.Source.URL == "" && config.Source.Open == nil {
		return nil, errors.New("app: stream URL is required")
	}
	if config.ZoneName == "" {
		return nil, errors.New("app: zone name is required")
	}
	if config.FrameSize.Width <= 0 || config.FrameSize.Height <= 0 {
		config.FrameSize = geom.Size{Width: DefaultFrameWidth, Height: DefaultFrameHeight}
	}
	if config.FrameSkip <= 0 {
		config.FrameSkip = DefaultFrameSkip
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = DefaultJPEGQuality
	}
	if config.DetectWorkers <= 0 {
		config.DetectWorkers = 1
	}
	if config.ZonePollInterval <= 0 {
		config.ZonePollInterval = DefaultZonePollInterval
	}
	if config.IdleWait <= 0 {
		config.IdleWait = DefaultIdleWait
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}

	style := render.DefaultStyle()
	if config.Style != nil {
		style = *config.Style
	}

	queue := persist.NewQueue(config.PersistQueue)
	a := &App{
		config:      config,
		runID:       uuid.NewString(),
		style:       style,
		source:      capture.NewSource(config.Source),
		detector:    config.Detector,
		tracker:     tracker.New(config.MaxDisappeared),
		zone:        zone.NewDetector(config.ZoneName),
		queue:       queue,
		writer:      persist.NewWriter(queue, config.Sink, config.Hook),
		frames:      broadcast.New[[]byte](),
		events:      broadcast.New[persist.Event](),
		metrics:     config.Metrics,
		sem:         semaphore.NewWeighted(int64(config.DetectWorkers)),
		zoneUpdates: make(chan *store.Zone, 1),
	}
	if config.MotionThreshold > 0 {
		a.motion = capture.NewMotionGate(config.MotionThreshold)
	}
	a.enabled.Store(true)
	a.registerMetrics()
	return a, nil
}

func (a *App) registerMetrics() {
	m := a.metrics
	m.CounterFunc("source_decode_errors_total", "Undecodable frames skipped by the frame source", func() float64 {
		return float64(a.source.DecodeErrors())
	})
	m.CounterFunc("source_reconnects_total", "Frame source reconnects", func() float64 {
		return float64(a.source.Reconnects())
	})
	m.GaugeFunc("source_opened", "Whether the frame source transport is open", func() float64 {
		if a.source.IsOpened() {
			return 1
		}
		return 0
	})
	m.GaugeFunc("persist_queue_depth", "Records waiting to be stored", func() float64 {
		return float64(a.queue.Len())
	})
	m.CounterFunc("persist_dropped_total", "Records dropped on queue overflow", func() float64 {
		return float64(a.queue.Dropped())
	})
	m.CounterFunc("persist_written_total", "Records stored", func() float64 {
		return float64(a.writer.Written())
	})
	m.CounterFunc("persist_failures_total", "Records the store rejected", func() float64 {
		return float64(a.writer.Failures())
	})
	m.CounterFunc("hook_dropped_total", "Events dropped before reaching plugins", func() float64 {
		return float64(a.writer.HookDropped())
	})
	m.GaugeFunc("stream_subscribers", "Live view subscribers", func() float64 {
		return float64(a.frames.Subscribers())
	})
	m.GaugeFunc("tracks_active", "Tracks currently registered", func() float64 {
		return float64(a.activeTracks.Load())
	})
	m.GaugeFunc("zone_inside", "People currently inside the zone", func() float64 {
		return float64(a.Counters().Inside)
	})
	m.GaugeFunc("counting_enabled", "Whether counting is enabled", func() float64 {
		if a.IsEnabled() {
			return 1
		}
		return 0
	})
}

// Start opens the frame source and launches the pipeline, the zone poller and
// the persist writer. Only a frame source failure is fatal.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if a.cancel != nil {
		return nil
	}

	if err := a.source.Start(ctx); err != nil {
		a.source.Stop()
		return fmt.Errorf("start frame source: %w", err)
	}

	if len(a.config.DefaultZone) > 0 {
		a.applyZone(defaultZone(a.config.ZoneName, a.config.DefaultZone))
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	a.writer.Start(runCtx)
	g.Go(func() error { return a.runPipeline(gctx) })
	if a.config.Zones != nil {
		g.Go(func() error { return a.pollZones(gctx) })
	}

	now := time.Now()
	a.startedAt.Store(&now)
	a.cancel = cancel
	a.group = g

	log.Info().
		Str("run_id", a.runID).
		Str("zone", a.config.ZoneName).
		Int("width", a.config.FrameSize.Width).
		Int("height", a.config.FrameSize.Height).
		Int("frame_skip", a.config.FrameSkip).
		Msg("Counting pipeline started")
	return nil
}

// Stop halts the pipeline and releases the frame source, the persist queue
// and the detector. It is safe to call more than once.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.stopped = true

	if a.cancel != nil {
		a.cancel()
		if err := a.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Pipeline exited with error")
		}
	}
	a.source.Stop()
	a.writer.Stop()
	if a.motion != nil {
		a.motion.Close()
	}

	// Wait for any detection still in flight before closing the detector.
	if err := a.sem.Acquire(context.Background(), int64(a.config.DetectWorkers)); err == nil {
		a.sem.Release(int64(a.config.DetectWorkers))
	}
	if err := a.detector.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing detector")
	}

	a.frames.Close()
	a.events.Close()
	log.Info().Str("run_id", a.runID).Msg("Counting pipeline stopped")
}

// SetEnabled pauses or resumes counting. While paused, frames are still
// published without detection.
func (a *App) SetEnabled(enabled bool) {
	if a.enabled.Swap(enabled) != enabled {
		log.Info().Bool("enabled", enabled).Msg("Counting toggled")
	}
}

// IsEnabled reports whether counting is enabled.
func (a *App) IsEnabled() bool {
	return a.enabled.Load()
}

// Counters returns the current entry, exit and inside counts.
func (a *App) Counters() zone.Snapshot {
	return a.counters.Snapshot()
}

// ResetCounters zeroes the in-memory counters. Stored events are kept.
func (a *App) ResetCounters() {
	a.counters.Reset()
	log.Info().Str("zone", a.config.ZoneName).Msg("Counters reset")
}

// Frames is the bus of encoded JPEG frames for the live view.
func (a *App) Frames() *broadcast.Bus[[]byte] {
	return a.frames
}

// Events is the bus of counting events.
func (a *App) Events() *broadcast.Bus[persist.Event] {
	return a.events
}

// Metrics returns the pipeline metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// RunID identifies this process's records in the store.
func (a *App) RunID() string {
	return a.runID
}

// ZoneName is the name of the counted zone.
func (a *App) ZoneName() string {
	return a.config.ZoneName
}

// Polygon is the zone outline in working resolution.
func (a *App) Polygon() []geom.FPoint {
	return a.zone.Polygon().Vertices
}

// Source returns the frame source.
func (a *App) Source() *capture.Source {
	return a.source
}

// Uptime is the time since Start, or zero before Start.
func (a *App) Uptime() time.Duration {
	t := a.startedAt.Load()
	if t == nil {
		return 0
	}
	return time.Since(*t)
}
