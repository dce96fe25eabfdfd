// Package render draws the counting overlay onto frames and encodes them.
package render

import (
	"bytes"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
	"github.com/ayusman/headcount/internal/zone"
)

// Counter panel geometry, anchored at the top-left corner of the frame.
const (
	panelX      = 12
	panelY      = 12
	panelWidth  = 330
	panelHeight = 140
)

// Box is one tracked person as drawn on the frame.
type Box struct {
	geom.Detection
	TrackID uint64
	Inside  bool
	Trail   []geom.Point
}

// Overlay is everything drawn on top of one frame.
type Overlay struct {
	Zone     []geom.FPoint
	Boxes    []Box
	Counters zone.Snapshot
}

// Label is the text drawn above a box.
func Label(b Box) string {
	state := "OUT"
	if b.Inside {
		state = "IN"
	}
	return fmt.Sprintf("ID:%d %s (%.2f)", b.TrackID, state, b.Confidence)
}

// PanelLines are the counter panel rows, top to bottom.
func PanelLines(s zone.Snapshot) []string {
	return []string{
		fmt.Sprintf("Enter : %d", s.Entries),
		fmt.Sprintf("Exit  : %d", s.Exits),
		fmt.Sprintf("Inside: %d", s.Inside),
	}
}

// Draw renders the zone, tracked boxes with labels and trails, and the
// counter panel onto img in place.
func Draw(img *gocv.Mat, o Overlay, style Style) {
	if img == nil || img.Empty() {
		return
	}

	Zone(img, o.Zone, style)
	for _, b := range o.Boxes {
		Trail(img, b, style)
	}
	for _, b := range o.Boxes {
		TrackedBox(img, b, style)
	}
	Panel(img, o.Counters, style)
}

// Zone draws the zone outline over a translucent fill.
func Zone(img *gocv.Mat, poly []geom.FPoint, style Style) {
	if len(poly) < 3 {
		return
	}

	pts := make([]image.Point, len(poly))
	for i, p := range poly {
		pts[i] = p.ImagePoint()
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()

	if style.ZoneFillAlpha > 0 {
		filled := img.Clone()
		gocv.FillPoly(&filled, pv, style.ZoneColor)
		gocv.AddWeighted(filled, style.ZoneFillAlpha, *img, 1-style.ZoneFillAlpha, 0, img)
		filled.Close()
	}
	gocv.Polylines(img, pv, true, style.ZoneColor, style.ZoneThickness)
}

// TrackedBox draws a box colored by zone membership, its label and its
// centroid.
func TrackedBox(img *gocv.Mat, b Box, style Style) {
	clr := style.OutsideColor
	if b.Inside {
		clr = style.InsideColor
	}

	gocv.Rectangle(img, b.Rect(), clr, style.BoxThickness)

	f := style.LabelFont
	org := image.Pt(b.X1, max(20, b.Y1-8))
	gocv.PutTextWithParams(img, Label(b), org, f.Face, f.Scale, f.Color, f.Thickness, f.LineType, false)

	gocv.Circle(img, b.Centroid().ImagePoint(), style.CircleRadius, clr, -1)
}

// Trail draws the centroid history of a track.
func Trail(img *gocv.Mat, b Box, style Style) {
	for i := 1; i < len(b.Trail); i++ {
		gocv.Line(img, b.Trail[i-1].ImagePoint(), b.Trail[i].ImagePoint(), style.TrailColor, style.TrailThickness)
	}
}

// Panel draws the counters on a darkened box in the top-left corner.
func Panel(img *gocv.Mat, s zone.Snapshot, style Style) {
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	rect := image.Rect(panelX, panelY, panelX+panelWidth, panelY+panelHeight).Intersect(bounds)
	if rect.Empty() {
		return
	}

	roi := img.Region(rect)
	dark := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rect.Dy(), rect.Dx(), img.Type())
	gocv.AddWeighted(roi, 1-style.PanelAlpha, dark, style.PanelAlpha, 0, &roi)
	dark.Close()
	roi.Close()

	f := style.PanelFont
	lineHeight := panelHeight / 3
	for i, line := range PanelLines(s) {
		org := image.Pt(panelX+14, panelY+lineHeight*i+lineHeight-12)
		gocv.PutTextWithParams(img, line, org, f.Face, f.Scale, f.Color, f.Thickness, f.LineType, false)
	}
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("encode: empty image")
	}
	if quality < 1 || quality > 100 {
		quality = 80
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}
