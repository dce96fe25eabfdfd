package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headcount/internal/store"
)

var t0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func series(n int, net func(i int) int64) []store.HourlyCount {
	out := make([]store.HourlyCount, n)
	for i := range out {
		v := net(i)
		h := store.HourlyCount{Hour: t0.Add(time.Duration(i) * time.Hour)}
		if v >= 0 {
			h.Entries = v
		} else {
			h.Exits = -v
		}
		out[i] = h
	}
	return out
}

func TestFallbackForecast(t *testing.T) {
	pts := fallbackForecast(t0, 3)
	require.Len(t, pts, 3)
	for i, p := range pts {
		assert.Equal(t, t0.Add(time.Duration(i+1)*time.Hour), p.Timestamp)
		assert.Equal(t, Point{Timestamp: p.Timestamp, Predicted: 10, Lower: 5, Upper: 15}, p)
	}
}

func TestMovingAverageForecast_Constant(t *testing.T) {
	hours := series(30, func(int) int64 { return 4 })

	pts := movingAverageForecast(hours, 5)
	require.Len(t, pts, 5)
	for i, p := range pts {
		assert.Equal(t, hours[29].Hour.Add(time.Duration(i+1)*time.Hour), p.Timestamp)
		assert.InDelta(t, 4.0, p.Predicted, 1e-9)
		assert.InDelta(t, 4.0, p.Lower, 1e-9, "zero spread")
		assert.InDelta(t, 4.0, p.Upper, 1e-9)
	}
}

func TestMovingAverageForecast_Trend(t *testing.T) {
	// 60 points rising by one per hour: first half mean 14.5, second 44.5.
	hours := series(60, func(i int) int64 { return int64(i) })

	pts := movingAverageForecast(hours, 2)
	require.Len(t, pts, 2)
	assert.Greater(t, pts[1].Predicted, pts[0].Predicted, "rising trend carries forward")
	assert.Less(t, pts[0].Lower, pts[0].Predicted)
	assert.Greater(t, pts[0].Upper, pts[0].Predicted)
}

func TestMovingAverageForecast_NeverNegative(t *testing.T) {
	hours := series(72, func(i int) int64 { return -int64(i % 5) })

	for _, p := range movingAverageForecast(hours, 24) {
		assert.GreaterOrEqual(t, p.Predicted, 0.0)
		assert.GreaterOrEqual(t, p.Lower, 0.0)
		assert.GreaterOrEqual(t, p.Upper, 0.0)
	}
}
