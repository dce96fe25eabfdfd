// Package zone tests polygon membership for tracked people and reports when a
// track enters or leaves the zone.
package zone

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ayusman/headcount/internal/geom"
)

// ErrConfig is returned when zone coordinates are rejected.
var ErrConfig = errors.New("invalid zone configuration")

// Transition is a change of zone membership for one track.
type Transition int

const (
	// Entry is reported when a track moves from outside to inside.
	Entry Transition = iota + 1
	// Exit is reported when a track moves from inside to outside.
	Exit
)

// String returns the persisted name of the transition.
func (t Transition) String() string {
	switch t {
	case Entry:
		return "entry"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// Polygon is an immutable zone outline in working-resolution coordinates.
type Polygon struct {
	Vertices   []geom.FPoint
	Generation uint64
}

// Detector holds the current polygon and the last known membership of every
// observed track. Membership methods must be called from one goroutine;
// Polygon may be read from any goroutine.
type Detector struct {
	name    string
	polygon atomic.Pointer[Polygon]
	inside  map[uint64]bool
}

// NewDetector creates a Detector for the named zone with no polygon configured.
func NewDetector(name string) *Detector {
	d := &Detector{
		name:   name,
		inside: make(map[uint64]bool),
	}
	d.polygon.Store(&Polygon{})
	return d
}

// Name returns the zone name used when recording events.
func (d *Detector) Name() string {
	return d.name
}

// Polygon returns the current polygon.
func (d *Detector) Polygon() *Polygon {
	return d.polygon.Load()
}

// IsPointInside reports whether (x, y) lies strictly inside the polygon.
// Points on an edge are outside. With fewer than 3 vertices nothing is inside.
func (d *Detector) IsPointInside(x, y float64) bool {
	return contains(d.polygon.Load().Vertices, x, y)
}

// IsBoxInside tests the center of the box.
func (d *Detector) IsBoxInside(det geom.Detection) bool {
	c := det.Center()
	return d.IsPointInside(c.X, c.Y)
}

// CheckTransition records the membership of a track and returns the
// transition it implies. The first observation of a track never transitions.
func (d *Detector) CheckTransition(trackID uint64, inside bool) (Transition, bool) {
	was, seen := d.inside[trackID]
	d.inside[trackID] = inside
	if !seen || was == inside {
		return 0, false
	}
	if inside {
		return Entry, true
	}
	return Exit, true
}

// Forget drops the membership record of a deregistered track.
func (d *Detector) Forget(trackID uint64) {
	delete(d.inside, trackID)
}

// Observed returns the number of tracks with a membership record.
func (d *Detector) Observed() int {
	return len(d.inside)
}

// UpdatePolygon replaces the polygon and clears every membership record.
//
// When both frame and native sizes are non-zero, coords are taken to be in
// native stream resolution and are scaled per axis to the frame size. The
// caller guarantees the sizes match the live stream. Invalid coordinates
// leave the previous polygon in place and return an error wrapping ErrConfig.
func (d *Detector) UpdatePolygon(coords []geom.FPoint, frame, native geom.Size) error {
	if len(coords) < 3 {
		return fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", ErrConfig, len(coords))
	}

	sx, sy := 1.0, 1.0
	if frame.Width > 0 && frame.Height > 0 && native.Width > 0 && native.Height > 0 {
		sx = float64(frame.Width) / float64(native.Width)
		sy = float64(frame.Height) / float64(native.Height)
	}

	vertices := make([]geom.FPoint, len(coords))
	for i, p := range coords {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: vertex %d is not finite", ErrConfig, i)
		}
		vertices[i] = geom.FPoint{X: p.X * sx, Y: p.Y * sy}
	}

	prev := d.polygon.Load()
	d.polygon.Store(&Polygon{Vertices: vertices, Generation: prev.Generation + 1})
	clear(d.inside)
	return nil
}

// contains is an even-odd ray cast that treats edge points as outside.
func contains(vs []geom.FPoint, x, y float64) bool {
	if len(vs) < 3 {
		return false
	}

	in := false
	j := len(vs) - 1
	for i := range vs {
		a, b := vs[i], vs[j]
		if onSegment(a, b, x, y) {
			return false
		}
		if (a.Y > y) != (b.Y > y) {
			xi := (b.X-a.X)*(y-a.Y)/(b.Y-a.Y) + a.X
			if x < xi {
				in = !in
			}
		}
		j = i
	}
	return in
}

const edgeEpsilon = 1e-9

func onSegment(a, b geom.FPoint, x, y float64) bool {
	cross := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
	if math.Abs(cross) > edgeEpsilon {
		return false
	}
	return x >= math.Min(a.X, b.X)-edgeEpsilon && x <= math.Max(a.X, b.X)+edgeEpsilon &&
		y >= math.Min(a.Y, b.Y)-edgeEpsilon && y <= math.Max(a.Y, b.Y)+edgeEpsilon
}
