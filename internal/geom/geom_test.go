package geom

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetection_Centroid(t *testing.T) {
	tests := []struct {
		name string
		det  Detection
		want Point
	}{
		{"even", Detection{X1: 0, Y1: 0, X2: 10, Y2: 20}, Point{5, 10}},
		{"odd truncates", Detection{X1: 1, Y1: 1, X2: 4, Y2: 6}, Point{2, 3}},
		{"degenerate", Detection{X1: 7, Y1: 7, X2: 7, Y2: 7}, Point{7, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.det.Centroid())
		})
	}
}

func TestDetection_Center(t *testing.T) {
	d := Detection{X1: 1, Y1: 1, X2: 4, Y2: 6}
	assert.Equal(t, FPoint{X: 2.5, Y: 3.5}, d.Center())
}

func TestDetection_RectAndBox(t *testing.T) {
	d := Detection{X1: 1, Y1: 2, X2: 3, Y2: 4, Confidence: 0.9}
	assert.Equal(t, image.Rect(1, 2, 3, 4), d.Rect())
	assert.Equal(t, [4]int{1, 2, 3, 4}, d.Box())
}

func TestDist(t *testing.T) {
	assert.InDelta(t, 5.0, Dist(Point{0, 0}, Point{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, Dist(Point{9, 9}, Point{9, 9}), 1e-9)
	assert.InDelta(t, 7.0710678, Dist(Point{10, 10}, Point{15, 15}), 1e-6)
}

func TestFPoint_ImagePoint(t *testing.T) {
	assert.Equal(t, image.Pt(3, 4), FPoint{X: 2.6, Y: 3.5}.ImagePoint())
}
