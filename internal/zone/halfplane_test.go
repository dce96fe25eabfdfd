package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headcount/internal/geom"
)

func TestHalfPlane_VerticalLine(t *testing.T) {
	frame := geom.Size{Width: 100, Height: 100}

	got, err := HalfPlane(geom.FPoint{X: 50, Y: 0}, geom.FPoint{X: 50, Y: 100}, frame)
	require.NoError(t, err)
	assert.Equal(t, []geom.FPoint{{X: 0, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 100}, {X: 0, Y: 100}}, got)
}

func TestHalfPlane_ReversedLineSelectsOtherSide(t *testing.T) {
	frame := geom.Size{Width: 100, Height: 100}

	d := NewDetector("line")
	poly, err := HalfPlane(geom.FPoint{X: 50, Y: 100}, geom.FPoint{X: 50, Y: 0}, frame)
	require.NoError(t, err)
	require.NoError(t, d.UpdatePolygon(poly, geom.Size{}, geom.Size{}))

	assert.True(t, d.IsPointInside(75, 50))
	assert.False(t, d.IsPointInside(25, 50))
}

func TestHalfPlane_DiagonalCrossing(t *testing.T) {
	frame := geom.Size{Width: 200, Height: 100}
	poly, err := HalfPlane(geom.FPoint{X: 0, Y: 0}, geom.FPoint{X: 200, Y: 100}, frame)
	require.NoError(t, err)

	d := NewDetector("diag")
	require.NoError(t, d.UpdatePolygon(poly, geom.Size{}, geom.Size{}))

	// A walk from the upper-right to the lower-left crosses the line once.
	var events []Transition
	for _, p := range []geom.FPoint{{X: 150, Y: 20}, {X: 120, Y: 40}, {X: 90, Y: 60}, {X: 60, Y: 80}} {
		if tr, ok := d.CheckTransition(1, d.IsPointInside(p.X, p.Y)); ok {
			events = append(events, tr)
		}
	}
	assert.Equal(t, []Transition{Entry}, events)
}

func TestHalfPlane_Errors(t *testing.T) {
	frame := geom.Size{Width: 100, Height: 100}

	tests := []struct {
		name  string
		a, b  geom.FPoint
		frame geom.Size
	}{
		{"coincident", geom.FPoint{X: 5, Y: 5}, geom.FPoint{X: 5, Y: 5}, frame},
		{"no frame", geom.FPoint{X: 0, Y: 0}, geom.FPoint{X: 1, Y: 1}, geom.Size{}},
		{"empty side", geom.FPoint{X: 200, Y: 100}, geom.FPoint{X: 200, Y: 0}, frame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HalfPlane(tt.a, tt.b, tt.frame)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestOutline(t *testing.T) {
	frame := geom.Size{Width: 100, Height: 100}

	poly, err := Outline(KindPolygon, square(10), frame)
	require.NoError(t, err)
	assert.Equal(t, square(10), poly)

	poly, err = Outline("", square(10), frame)
	require.NoError(t, err)
	assert.Len(t, poly, 4)

	poly, err = Outline(KindLine, []geom.FPoint{{X: 50, Y: 0}, {X: 50, Y: 100}}, frame)
	require.NoError(t, err)
	assert.Len(t, poly, 4)

	_, err = Outline(KindLine, square(10), frame)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Outline(Kind("circle"), square(10), frame)
	assert.ErrorIs(t, err, ErrConfig)
}
