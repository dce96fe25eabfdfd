package zone

import (
	"fmt"

	"github.com/ayusman/headcount/internal/geom"
)

// Kind selects how stored zone coordinates are interpreted.
type Kind string

const (
	// KindPolygon is a closed outline of three or more vertices.
	KindPolygon Kind = "polygon"
	// KindLine is a counting line given by two points.
	KindLine Kind = "line"
)

// HalfPlane returns the part of the frame rectangle lying on the side of the
// directed line a->b where (b-a) x (p-a) >= 0. In image coordinates, with y
// pointing down, that is the right-hand side when walking from a to b.
// Counting Entry/Exit against this polygon counts crossings of the line.
func HalfPlane(a, b geom.FPoint, frame geom.Size) ([]geom.FPoint, error) {
	if a == b {
		return nil, fmt.Errorf("%w: line endpoints coincide", ErrConfig)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrConfig, frame.Width, frame.Height)
	}

	w, h := float64(frame.Width), float64(frame.Height)
	rect := []geom.FPoint{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}

	side := func(p geom.FPoint) float64 {
		return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	}

	out := make([]geom.FPoint, 0, len(rect)+2)
	for i, cur := range rect {
		prev := rect[(i+len(rect)-1)%len(rect)]
		sc, sp := side(cur), side(prev)
		switch {
		case sc >= 0 && sp < 0:
			out = appendDistinct(out, intersect(prev, cur, sp, sc))
			out = appendDistinct(out, cur)
		case sc >= 0:
			out = appendDistinct(out, cur)
		case sp >= 0:
			out = appendDistinct(out, intersect(prev, cur, sp, sc))
		}
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}

	if len(out) < 3 {
		return nil, fmt.Errorf("%w: line leaves no area inside the frame", ErrConfig)
	}
	return out, nil
}

// Outline converts stored coordinates of the given kind into polygon
// vertices in the same coordinate space. frame is the size of that space.
func Outline(kind Kind, coords []geom.FPoint, frame geom.Size) ([]geom.FPoint, error) {
	switch kind {
	case KindPolygon, "":
		return coords, nil
	case KindLine:
		if len(coords) != 2 {
			return nil, fmt.Errorf("%w: line needs exactly 2 points, got %d", ErrConfig, len(coords))
		}
		return HalfPlane(coords[0], coords[1], frame)
	default:
		return nil, fmt.Errorf("%w: unknown zone kind %q", ErrConfig, kind)
	}
}

func intersect(p, q geom.FPoint, sp, sq float64) geom.FPoint {
	t := sp / (sp - sq)
	return geom.FPoint{X: p.X + t*(q.X-p.X), Y: p.Y + t*(q.Y-p.Y)}
}

func appendDistinct(pts []geom.FPoint, p geom.FPoint) []geom.FPoint {
	if n := len(pts); n > 0 && pts[n-1] == p {
		return pts
	}
	return append(pts, p)
}
