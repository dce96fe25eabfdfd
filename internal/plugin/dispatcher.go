package plugin

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/headcount/internal/persist"
)

// maxConcurrentRuns bounds how many plugins run at once for one event.
const maxConcurrentRuns = 4

// Dispatcher runs the plugins subscribed to each counting event. It
// implements persist.Hook.
type Dispatcher struct {
	manager  *Manager
	executor *Executor

	runs     atomic.Uint64
	failures atomic.Uint64
}

// NewDispatcher creates a Dispatcher over the plugins known to m. Each run
// is limited to timeout.
func NewDispatcher(m *Manager, timeout time.Duration) *Dispatcher {
	return &Dispatcher{manager: m, executor: NewExecutor(timeout)}
}

var _ persist.Hook = (*Dispatcher)(nil)

// OnEvent runs every plugin subscribed to e.Type and waits for them.
// Failures are logged and counted.
func (d *Dispatcher) OnEvent(ctx context.Context, e persist.Event) {
	plugins := d.manager.Subscribed(e.Type)
	if len(plugins) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentRuns)
	for _, p := range plugins {
		g.Go(func() error {
			d.run(ctx, p, e)
			return nil
		})
	}
	g.Wait()
}

func (d *Dispatcher) run(ctx context.Context, p *Plugin, e persist.Event) {
	d.runs.Add(1)
	req := &Request{
		Event:     e.Type,
		RunID:     e.RunID,
		TrackID:   e.TrackID,
		Zone:      e.Zone,
		Timestamp: e.Timestamp,
		Counters:  e.Counters,
		Config:    p.Manifest.Config,
	}

	resp, err := d.executor.Execute(ctx, p, req)
	switch {
	case err != nil:
		d.failures.Add(1)
		log.Warn().Err(err).Str("plugin", p.Manifest.Name).Str("event", e.Type).Uint64("track_id", e.TrackID).Msg("Plugin failed")
	case !resp.Success:
		d.failures.Add(1)
		log.Warn().Str("plugin", p.Manifest.Name).Str("event", e.Type).Str("error", resp.Error).Msg("Plugin reported failure")
	default:
		log.Debug().Str("plugin", p.Manifest.Name).Str("event", e.Type).Uint64("track_id", e.TrackID).Msg("Plugin ran")
	}
}

// Runs counts plugin invocations.
func (d *Dispatcher) Runs() uint64 { return d.runs.Load() }

// Failures counts invocations that errored or reported failure.
func (d *Dispatcher) Failures() uint64 { return d.failures.Load() }
