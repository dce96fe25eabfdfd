package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headcount/internal/geom"
	"github.com/ayusman/headcount/internal/zone"
)

func rect() [][]float64 {
	return [][]float64{{300, 200}, {900, 200}, {900, 500}, {300, 500}}
}

func TestZoneRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Zones()

	z := &Zone{Name: "gate", Coordinates: rect(), Description: "north gate"}
	require.NoError(t, repo.Create(ctx, z))

	assert.NotEmpty(t, z.ID)
	assert.Equal(t, zone.KindPolygon, z.Kind)
	assert.False(t, z.CreatedAt.IsZero())
	assert.Equal(t, z.CreatedAt, z.UpdatedAt)

	got, err := repo.GetByName(ctx, "gate")
	require.NoError(t, err)
	assert.Equal(t, z.ID, got.ID)
	assert.Equal(t, rect(), got.Coordinates)
	assert.Equal(t, "north gate", got.Description)
	assert.True(t, got.UpdatedAt.Equal(z.UpdatedAt))
	assert.Equal(t, []geom.FPoint{{X: 300, Y: 200}, {X: 900, Y: 200}, {X: 900, Y: 500}, {X: 300, Y: 500}}, got.Points())
}

func TestZoneRepository_CreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Zones().Create(ctx, &Zone{Name: "gate", Coordinates: rect()}))
	err := s.Zones().Create(ctx, &Zone{Name: "gate", Coordinates: rect()})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestZoneRepository_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Zones().GetByName(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestZone_Validate(t *testing.T) {
	tests := []struct {
		name string
		zone Zone
		ok   bool
	}{
		{"polygon", Zone{Name: "a", Kind: zone.KindPolygon, Coordinates: rect()}, true},
		{"triangle", Zone{Name: "a", Kind: zone.KindPolygon, Coordinates: [][]float64{{0, 0}, {1, 0}, {0, 1}}}, true},
		{"line", Zone{Name: "a", Kind: zone.KindLine, Coordinates: [][]float64{{0, 0}, {10, 0}}}, true},
		{"missing name", Zone{Kind: zone.KindPolygon, Coordinates: rect()}, false},
		{"two point polygon", Zone{Name: "a", Kind: zone.KindPolygon, Coordinates: [][]float64{{0, 0}, {1, 1}}}, false},
		{"three point line", Zone{Name: "a", Kind: zone.KindLine, Coordinates: [][]float64{{0, 0}, {1, 1}, {2, 2}}}, false},
		{"short point", Zone{Name: "a", Kind: zone.KindPolygon, Coordinates: [][]float64{{0, 0}, {1}, {2, 2}}}, false},
		{"long point", Zone{Name: "a", Kind: zone.KindPolygon, Coordinates: [][]float64{{0, 0, 0}, {1, 0}, {2, 2}}}, false},
		{"unknown kind", Zone{Name: "a", Kind: "circle", Coordinates: rect()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.zone.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, zone.ErrConfig)
			}
		})
	}
}

func TestZoneRepository_CreateRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.Zones().Create(context.Background(), &Zone{Name: "bad", Coordinates: [][]float64{{0, 0}}})
	require.ErrorIs(t, err, zone.ErrConfig)

	_, err = s.Zones().GetByName(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestZoneRepository_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	zones, err := s.Zones().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, zones)

	for _, name := range []string{"b", "a", "c"} {
		require.NoError(t, s.Zones().Create(ctx, &Zone{Name: name, Coordinates: rect()}))
	}

	zones, err = s.Zones().List(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 3)
	assert.Equal(t, "a", zones[0].Name)
	assert.Equal(t, "c", zones[2].Name)
}

func TestZoneRepository_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := s.Zones()

	z := &Zone{Name: "gate", Coordinates: rect()}
	require.NoError(t, repo.Create(ctx, z))
	created := z.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	line := &Zone{Name: "gate", Kind: zone.KindLine, Coordinates: [][]float64{{0, 360}, {1280, 360}}}
	require.NoError(t, repo.Update(ctx, line))

	got, err := repo.GetByName(ctx, "gate")
	require.NoError(t, err)
	assert.Equal(t, zone.KindLine, got.Kind)
	assert.Equal(t, [][]float64{{0, 360}, {1280, 360}}, got.Coordinates)
	assert.True(t, got.UpdatedAt.After(created), "updated_at refreshed")
	assert.True(t, got.CreatedAt.Equal(z.CreatedAt), "created_at untouched")
}

func TestZoneRepository_UpdateMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.Zones().Update(context.Background(), &Zone{Name: "nope", Coordinates: rect()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestZoneRepository_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Zones().Create(ctx, &Zone{Name: "gate", Coordinates: rect()}))
	require.NoError(t, s.Zones().Delete(ctx, "gate"))

	_, err := s.Zones().GetByName(ctx, "gate")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Zones().Delete(ctx, "gate"), ErrNotFound)
}

func TestZoneRepository_EnsureDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	coords := [][2]float64{{300, 200}, {900, 200}, {900, 500}, {300, 500}}

	z, created, err := s.Zones().EnsureDefault(ctx, "high_risk_area_1", coords)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, rect(), z.Coordinates)

	require.NoError(t, s.Zones().Update(ctx, &Zone{Name: "high_risk_area_1", Coordinates: [][]float64{{0, 0}, {5, 0}, {5, 5}}}))

	z, created, err = s.Zones().EnsureDefault(ctx, "high_risk_area_1", coords)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, [][]float64{{0, 0}, {5, 0}, {5, 5}}, z.Coordinates, "existing zone is not overwritten")
}

func TestStore_GetZone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetZone(ctx, "gate")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Zones().Create(ctx, &Zone{Name: "gate", Coordinates: rect()}))
	z, err := s.GetZone(ctx, "gate")
	require.NoError(t, err)
	assert.Equal(t, "gate", z.Name)
}
