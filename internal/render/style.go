package render

import (
	"image/color"

	"gocv.io/x/gocv"
)

var (
	Green  = color.RGBA{R: 0, G: 220, B: 0, A: 255}
	Red    = color.RGBA{R: 235, G: 40, B: 40, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Font defines the parameters for rendering text on an image using GoCV.
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
}

// Style controls how overlays are drawn.
type Style struct {
	ZoneColor      color.RGBA
	ZoneFillAlpha  float64
	ZoneThickness  int
	InsideColor    color.RGBA
	OutsideColor   color.RGBA
	BoxThickness   int
	TrailColor     color.RGBA
	TrailThickness int
	CircleRadius   int
	LabelFont      Font
	PanelFont      Font
	PanelAlpha     float64
}

// DefaultStyle returns default overlay settings.
func DefaultStyle() Style {
	return Style{
		ZoneColor:      Yellow,
		ZoneFillAlpha:  0.1,
		ZoneThickness:  2,
		InsideColor:    Green,
		OutsideColor:   Red,
		BoxThickness:   2,
		TrailColor:     Yellow,
		TrailThickness: 2,
		CircleRadius:   4,
		LabelFont: Font{
			Face:      gocv.FontHersheySimplex,
			Scale:     0.55,
			Color:     White,
			Thickness: 2,
			LineType:  gocv.LineAA,
		},
		PanelFont: Font{
			Face:      gocv.FontHersheySimplex,
			Scale:     1.0,
			Color:     White,
			Thickness: 2,
			LineType:  gocv.LineAA,
		},
		PanelAlpha: 0.55,
	}
}
