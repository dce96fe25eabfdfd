package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/store"
	"github.com/ayusman/headcount/internal/zone"
)

type fakeCounters struct {
	name   string
	resets int
}

func (f *fakeCounters) ZoneName() string { return f.name }
func (f *fakeCounters) ResetCounters()   { f.resets++ }

var doorway = [][]float64{{0, 0}, {100, 0}, {100, 100}, {0, 100}}

func TestZoneHandler_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	h := NewZoneHandler(s, nil)

	rec := do(t, h, http.MethodPost, "/api/config/areas", zoneRequest{
		Name: "doorway", Coordinates: doorway, Description: "front door",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Zone](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, zone.KindPolygon, created.Kind)

	rec = do(t, h, http.MethodGet, "/api/config/areas/doorway", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Zone](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, doorway, got.Coordinates)
	assert.Equal(t, "front door", got.Description)
}

func TestZoneHandler_CreateErrors(t *testing.T) {
	s := newTestStore(t)
	h := NewZoneHandler(s, nil)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/config/areas", zoneRequest{Name: "a", Coordinates: doorway}).Code)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate", zoneRequest{Name: "a", Coordinates: doorway}, http.StatusConflict},
		{"too few points", zoneRequest{Name: "b", Coordinates: doorway[:2]}, http.StatusBadRequest},
		{"line with three points", zoneRequest{Name: "c", Kind: zone.KindLine, Coordinates: doorway[:3]}, http.StatusBadRequest},
		{"no name", zoneRequest{Coordinates: doorway}, http.StatusBadRequest},
		{"unknown field", `{"name":"d","coordinates":[[0,0],[1,0],[1,1]],"colour":"red"}`, http.StatusBadRequest},
		{"malformed", `{"name":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/config/areas", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestZoneHandler_List(t *testing.T) {
	s := newTestStore(t)
	h := NewZoneHandler(s, nil)

	rec := do(t, h, http.MethodGet, "/api/config/areas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"areas":[]}`, rec.Body.String())

	for _, name := range []string{"b", "a"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/config/areas", zoneRequest{Name: name, Coordinates: doorway}).Code)
	}
	resp := decode[listZonesResponse](t, do(t, h, http.MethodGet, "/api/config/areas/", nil))
	require.Len(t, resp.Areas, 2)
	assert.Equal(t, "a", resp.Areas[0].Name)
}

func TestZoneHandler_Update(t *testing.T) {
	s := newTestStore(t)
	h := NewZoneHandler(s, nil)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/config/areas", zoneRequest{Name: "a", Coordinates: doorway, Description: "keep"}).Code)
	before, err := s.Zones().GetByName(context.Background(), "a")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	moved := [][]float64{{10, 10}, {200, 10}, {200, 200}}
	rec := do(t, h, http.MethodPut, "/api/config/areas/a", zoneRequest{Coordinates: moved})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[store.Zone](t, rec)
	assert.Equal(t, moved, got.Coordinates)
	assert.Equal(t, "keep", got.Description)
	assert.Equal(t, before.ID, got.ID)
	assert.True(t, got.UpdatedAt.After(before.UpdatedAt))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/api/config/areas/missing", zoneRequest{Coordinates: moved}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/config/areas/a", zoneRequest{Name: "b", Coordinates: moved}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/config/areas/a", zoneRequest{Coordinates: moved[:1]}).Code)
}

func TestZoneHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	h := NewZoneHandler(s, nil)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/config/areas", zoneRequest{Name: "a", Coordinates: doorway}).Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/config/areas/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/config/areas/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/config/areas/a", nil).Code)
}

func TestZoneHandler_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	counters := &fakeCounters{name: "a"}
	h := NewZoneHandler(s, counters)

	for _, name := range []string{"a", "b"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/config/areas", zoneRequest{Name: name, Coordinates: doorway}).Code)
		require.NoError(t, s.RecordEvent(ctx, persist.Event{TrackID: 1, Type: persist.EventEntry, Timestamp: time.Now(), Zone: name}))
		require.NoError(t, s.RecordDetection(ctx, persist.DetectionRecord{TrackID: 1, Timestamp: time.Now(), Zone: name}))
		require.NoError(t, s.RecordDetection(ctx, persist.DetectionRecord{TrackID: 2, Timestamp: time.Now(), Zone: name}))
	}

	rec := do(t, h, http.MethodPost, "/api/config/areas/a/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[resetResponse](t, rec)
	assert.Equal(t, int64(1), resp.EventsDeleted)
	assert.Equal(t, int64(2), resp.DetectionsDeleted)
	assert.Equal(t, 1, counters.resets)

	n, err := s.Detections().Count(ctx, store.Filter{Zone: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "other zones untouched")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/config/areas/b/reset", nil).Code)
	assert.Equal(t, 1, counters.resets, "counters belong to zone a")

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/config/areas/missing/reset", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/config/areas/a/reset", nil).Code)
}

func TestZoneHandler_Routing(t *testing.T) {
	h := NewZoneHandler(newTestStore(t), nil)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPatch, "/api/config/areas", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/config/areas/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/config/areas/a/b", nil).Code)
}
