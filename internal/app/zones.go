package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/headcount/internal/geom"
	"github.com/ayusman/headcount/internal/store"
	"github.com/ayusman/headcount/internal/zone"
)

// pollZones checks the stored zone once per ZonePollInterval and hands every
// changed record to the pipeline goroutine, which owns the zone detector.
func (a *App) pollZones(ctx context.Context) error {
	var last time.Time
	ticker := time.NewTicker(a.config.ZonePollInterval)
	defer ticker.Stop()

	for {
		z, err := a.config.Zones.GetZone(ctx, a.config.ZoneName)
		switch {
		case err == nil:
			// A rejected record is remembered too, so it is not retried until edited.
			if !z.UpdatedAt.Equal(last) {
				last = z.UpdatedAt
				a.offerZone(z)
			}
		case errors.Is(err, store.ErrNotFound):
			log.Debug().Str("zone", a.config.ZoneName).Msg("Zone not configured, keeping current polygon")
		case ctx.Err() != nil:
			return nil
		default:
			log.Warn().Err(err).Str("zone", a.config.ZoneName).Msg("Zone lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// offerZone replaces any update the pipeline has not picked up yet.
func (a *App) offerZone(z *store.Zone) {
	for {
		select {
		case a.zoneUpdates <- z:
			return
		default:
		}
		select {
		case <-a.zoneUpdates:
		default:
		}
	}
}

// applyZone converts z to a working-resolution polygon and installs it.
// Stored coordinates are in the stream's native resolution. A line zone
// becomes the half-plane to its right. Invalid zones are logged and the
// previous polygon stays in place.
func (a *App) applyZone(z *store.Zone) {
	native := a.source.NativeSize()
	frame := a.config.FrameSize
	space := native
	if space.Width <= 0 || space.Height <= 0 {
		space = frame
	}

	err := z.Validate()
	var outline []geom.FPoint
	if err == nil {
		outline, err = zone.Outline(z.Kind, z.Points(), space)
	}
	if err == nil {
		err = a.zone.UpdatePolygon(outline, frame, native)
	}
	if err != nil {
		a.metrics.ZoneReloadErrs.Add(1)
		log.Error().Err(err).Str("zone", z.Name).Msg("Zone update rejected, keeping previous polygon")
		return
	}

	log.Info().
		Str("zone", z.Name).
		Str("kind", string(z.Kind)).
		Int("vertices", len(outline)).
		Uint64("generation", a.zone.Polygon().Generation).
		Msg("Zone polygon loaded")
}

func defaultZone(name string, coords [][2]float64) *store.Zone {
	z := &store.Zone{Name: name, Kind: zone.KindPolygon}
	for _, c := range coords {
		z.Coordinates = append(z.Coordinates, []float64{c[0], c[1]})
	}
	return z
}
