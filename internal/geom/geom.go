// Package geom holds the small value types shared by the tracker, the zone
// detector and the renderer.
package geom

import (
	"image"
	"math"
)

// Point is an integer pixel coordinate with a top-left origin.
type Point struct {
	X int
	Y int
}

// FPoint is a point in float space, used for polygon vertices after rescaling.
type FPoint struct {
	X float64
	Y float64
}

// Size is a frame resolution in pixels.
type Size struct {
	Width  int
	Height int
}

// Detection is an axis-aligned person box in working resolution.
type Detection struct {
	X1         int
	Y1         int
	X2         int
	Y2         int
	Confidence float64
}

// Centroid returns the box midpoint truncated to integers.
func (d Detection) Centroid() Point {
	return Point{X: (d.X1 + d.X2) / 2, Y: (d.Y1 + d.Y2) / 2}
}

// Center returns the box midpoint without truncation.
func (d Detection) Center() FPoint {
	return FPoint{X: float64(d.X1+d.X2) / 2, Y: float64(d.Y1+d.Y2) / 2}
}

// Rect converts the box to an image.Rectangle.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.X1, d.Y1, d.X2, d.Y2)
}

// Box returns the coordinates as a fixed array.
func (d Detection) Box() [4]int {
	return [4]int{d.X1, d.Y1, d.X2, d.Y2}
}

// Dist returns the Euclidean distance between two points.
func Dist(a, b Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// ImagePoint converts p to an image.Point.
func (p Point) ImagePoint() image.Point {
	return image.Pt(p.X, p.Y)
}

// ImagePoint rounds p to the nearest pixel.
func (p FPoint) ImagePoint() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}
