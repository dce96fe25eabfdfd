// Package stats aggregates stored counting events and detections into
// summaries, live figures and short-term forecasts.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/headcount/internal/store"
)

// Defaults for the query windows.
const (
	DefaultLookback = 24 * time.Hour
	LiveWindow      = 5 * time.Minute
	HistoryWindow   = 30 * 24 * time.Hour
)

// ErrInvalidRange is returned when a query window ends before it starts.
var ErrInvalidRange = errors.New("stats: end before start")

// Summary covers one zone (or every zone when Zone is empty) over a window.
type Summary struct {
	Zone            string              `json:"zone,omitempty"`
	Start           time.Time           `json:"start"`
	End             time.Time           `json:"end"`
	Entries         int64               `json:"entries"`
	Exits           int64               `json:"exits"`
	Net             int64               `json:"net"`
	TotalDetections int64               `json:"total_detections"`
	UniqueTracks    int                 `json:"unique_tracks"`
	Hourly          []store.HourlyCount `json:"hourly,omitempty"`
}

// Live describes the last LiveWindow of activity.
type Live struct {
	Zone          string    `json:"zone,omitempty"`
	CurrentCount  int64     `json:"current_count"`
	RecentEntries int64     `json:"recent_entries"`
	RecentExits   int64     `json:"recent_exits"`
	ActiveTracks  []uint64  `json:"active_track_ids"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Service answers statistics queries against a Store.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// New creates a Service over s.
func New(s *store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// Summary counts events and detections for zone between start and end. A
// nil end means now and a nil start means DefaultLookback before end.
func (s *Service) Summary(ctx context.Context, zone string, start, end *time.Time, hourly bool) (*Summary, error) {
	to := s.now().UTC()
	if end != nil {
		to = end.UTC()
	}
	from := to.Add(-DefaultLookback)
	if start != nil {
		from = start.UTC()
	}
	if to.Before(from) {
		return nil, ErrInvalidRange
	}

	f := store.Filter{Zone: zone, Start: &from, End: &to}

	entries, exits, err := s.store.Events().CountByType(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Detections().Count(ctx, f)
	if err != nil {
		return nil, err
	}
	tracks, err := s.store.Detections().DistinctTracks(ctx, f)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Zone:            zone,
		Start:           from,
		End:             to,
		Entries:         entries,
		Exits:           exits,
		Net:             entries - exits,
		TotalDetections: total,
		UniqueTracks:    len(tracks),
	}
	if hourly {
		if sum.Hourly, err = s.store.Events().Hourly(ctx, f); err != nil {
			return nil, fmt.Errorf("hourly breakdown: %w", err)
		}
	}
	return sum, nil
}

// Live reports entries and exits in the last LiveWindow, the tracks seen in
// that window, and the all-time occupancy of the zone clamped at zero.
func (s *Service) Live(ctx context.Context, zone string) (*Live, error) {
	now := s.now().UTC()
	from := now.Add(-LiveWindow)
	recent := store.Filter{Zone: zone, Start: &from, End: &now}

	entries, exits, err := s.store.Events().CountByType(ctx, recent)
	if err != nil {
		return nil, err
	}
	allEntries, allExits, err := s.store.Events().CountByType(ctx, store.Filter{Zone: zone})
	if err != nil {
		return nil, err
	}
	tracks, err := s.store.Detections().DistinctTracks(ctx, recent)
	if err != nil {
		return nil, err
	}

	return &Live{
		Zone:          zone,
		CurrentCount:  max(0, allEntries-allExits),
		RecentEntries: entries,
		RecentExits:   exits,
		ActiveTracks:  tracks,
		LastUpdated:   now,
	}, nil
}

// Forecast predicts hourly net counts for the next periods hours from the
// last HistoryWindow of events.
func (s *Service) Forecast(ctx context.Context, zone string, periods int) (*Forecast, error) {
	if periods < 1 || periods > MaxForecastPeriods {
		return nil, fmt.Errorf("%w: periods must be within 1..%d, got %d", ErrInvalidPeriods, MaxForecastPeriods, periods)
	}

	now := s.now().UTC()
	from := now.Add(-HistoryWindow)
	hours, err := s.store.Events().Hourly(ctx, store.Filter{Zone: zone, Start: &from, End: &now})
	if err != nil {
		return nil, err
	}

	if zone == "" {
		zone = "all_areas"
	}
	fc := &Forecast{Zone: zone, Model: ModelFallback}
	if len(hours) < MinHistoryPoints {
		fc.Points = fallbackForecast(now, periods)
		return fc, nil
	}
	fc.Model = ModelMovingAverage
	fc.Points = movingAverageForecast(hours, periods)
	return fc, nil
}
