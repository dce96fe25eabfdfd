// Package tracker assigns persistent identities to person detections across
// frames using centroid distance.
package tracker

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/headcount/internal/geom"
)

// Tracker defaults.
const (
	// DefaultMaxDisappeared is the number of consecutive missed cycles a track survives.
	DefaultMaxDisappeared = 30
	// HistorySize caps the number of centroids kept per track.
	HistorySize = 30
	// MatchDistance is the gate for associating a detection with an existing track.
	MatchDistance = 100.0
	// BoxMatchDistance is the gate for re-labelling input boxes with track ids.
	BoxMatchDistance = 50.0
)

// Track is one tracked person.
type Track struct {
	ID          uint64
	Centroid    geom.Point
	Disappeared int
	History     []geom.Point
}

// TrackedBox is an input detection labelled with the track it belongs to.
type TrackedBox struct {
	geom.Detection
	TrackID uint64
}

// Centroid returns the integer midpoint of the box.
func (b TrackedBox) Centroid() geom.Point {
	return b.Detection.Centroid()
}

// Tracker is a greedy centroid tracker. It is not safe for concurrent use;
// the pipeline owns it from a single goroutine.
type Tracker struct {
	maxDisappeared int
	nextID         uint64
	ids            []uint64 // ascending, registration order
	tracks         map[uint64]*Track
	removed        []uint64
}

// New creates a Tracker. A negative maxDisappeared selects
// DefaultMaxDisappeared; zero deregisters a track on its first miss.
func New(maxDisappeared int) *Tracker {
	if maxDisappeared < 0 {
		maxDisappeared = DefaultMaxDisappeared
	}
	return &Tracker{
		maxDisappeared: maxDisappeared,
		tracks:         make(map[uint64]*Track),
	}
}

// MaxDisappeared returns the configured eviction threshold.
func (t *Tracker) MaxDisappeared() int {
	return t.maxDisappeared
}

// Update matches dets against the current tracks and returns the centroid of
// every live track keyed by id.
func (t *Tracker) Update(dets []geom.Detection) map[uint64]geom.Point {
	if len(dets) == 0 {
		for _, id := range append([]uint64(nil), t.ids...) {
			t.miss(id)
		}
		return t.centroids()
	}

	inputs := make([]geom.Point, len(dets))
	for i, d := range dets {
		inputs[i] = d.Centroid()
	}

	if len(t.ids) == 0 {
		for _, c := range inputs {
			t.register(c)
		}
		return t.centroids()
	}

	ids := append([]uint64(nil), t.ids...)
	dist := mat.NewDense(len(ids), len(inputs), nil)
	for i, id := range ids {
		for j, c := range inputs {
			dist.Set(i, j, geom.Dist(t.tracks[id].Centroid, c))
		}
	}

	// Rows are visited in order of their closest detection; each row only
	// considers its own arg-min column.
	rowMin := make([]float64, len(ids))
	rowArg := make([]int, len(ids))
	for i := range ids {
		row := dist.RawRowView(i)
		rowArg[i] = floats.MinIdx(row)
		rowMin[i] = row[rowArg[i]]
	}
	order := make([]int, len(ids))
	floats.ArgsortStable(rowMin, order)

	usedRows := make([]bool, len(ids))
	usedCols := make([]bool, len(inputs))
	for _, row := range order {
		col := rowArg[row]
		if usedRows[row] || usedCols[col] {
			continue
		}
		if dist.At(row, col) >= MatchDistance {
			continue
		}
		t.hit(ids[row], inputs[col])
		usedRows[row] = true
		usedCols[col] = true
	}

	for row, used := range usedRows {
		if !used {
			t.miss(ids[row])
		}
	}
	for col, used := range usedCols {
		if !used {
			t.register(inputs[col])
		}
	}

	return t.centroids()
}

// TracksWithBoxes runs Update and labels each input detection with the
// nearest resulting track within BoxMatchDistance. Detections without a track
// in range are dropped. An empty input returns nil and leaves tracks untouched.
//
// The second pass is independent of the assignment made by Update, so two
// boxes near one track can both receive its id.
func (t *Tracker) TracksWithBoxes(dets []geom.Detection) []TrackedBox {
	if len(dets) == 0 {
		return nil
	}

	centroids := t.Update(dets)
	ids := make([]uint64, 0, len(centroids))
	for id := range centroids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]TrackedBox, 0, len(dets))
	for _, d := range dets {
		c := d.Centroid()
		best := BoxMatchDistance
		var matched uint64
		found := false
		for _, id := range ids {
			dd := geom.Dist(c, centroids[id])
			if dd < best {
				best = dd
				matched = id
				found = true
			}
		}
		if found {
			out = append(out, TrackedBox{Detection: d, TrackID: matched})
		}
	}
	return out
}

// Deregistered returns the ids evicted since the previous call.
func (t *Tracker) Deregistered() []uint64 {
	out := t.removed
	t.removed = nil
	return out
}

// Track returns a copy of the track with the given id.
func (t *Tracker) Track(id uint64) (Track, bool) {
	tr, ok := t.tracks[id]
	if !ok {
		return Track{}, false
	}
	return copyTrack(tr), true
}

// Tracks returns copies of all live tracks in id order.
func (t *Tracker) Tracks() []Track {
	out := make([]Track, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, copyTrack(t.tracks[id]))
	}
	return out
}

// History returns a copy of the centroid trail for id, oldest first.
func (t *Tracker) History(id uint64) []geom.Point {
	tr, ok := t.tracks[id]
	if !ok {
		return nil
	}
	return append([]geom.Point(nil), tr.History...)
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.ids)
}

func (t *Tracker) register(c geom.Point) {
	id := t.nextID
	t.nextID++
	t.tracks[id] = &Track{
		ID:       id,
		Centroid: c,
		History:  []geom.Point{c},
	}
	t.ids = append(t.ids, id)
}

func (t *Tracker) deregister(id uint64) {
	delete(t.tracks, id)
	for i, v := range t.ids {
		if v == id {
			t.ids = append(t.ids[:i], t.ids[i+1:]...)
			break
		}
	}
	t.removed = append(t.removed, id)
}

func (t *Tracker) hit(id uint64, c geom.Point) {
	tr := t.tracks[id]
	tr.Centroid = c
	tr.Disappeared = 0
	tr.History = append(tr.History, c)
	if n := len(tr.History); n > HistorySize {
		tr.History = append(tr.History[:0:0], tr.History[n-HistorySize:]...)
	}
}

func (t *Tracker) miss(id uint64) {
	tr := t.tracks[id]
	tr.Disappeared++
	if tr.Disappeared > t.maxDisappeared {
		t.deregister(id)
	}
}

func (t *Tracker) centroids() map[uint64]geom.Point {
	out := make(map[uint64]geom.Point, len(t.ids))
	for _, id := range t.ids {
		out[id] = t.tracks[id].Centroid
	}
	return out
}

func copyTrack(tr *Track) Track {
	c := *tr
	c.History = append([]geom.Point(nil), tr.History...)
	return c
}
