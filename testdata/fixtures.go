// Package testdata builds synthetic frames and detection scripts for tests
// that drive the whole counting pipeline.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
)

// BlankFrames returns n black BGR frames of the given size. The caller owns
// the Mats and must Close them.
func BlankFrames(n, width, height int) []gocv.Mat {
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	}
	return frames
}

// MarkedFrames is like BlankFrames but draws a filled block per frame that
// steps from left to right, so consecutive frames differ.
func MarkedFrames(n, width, height int) []gocv.Mat {
	frames := BlankFrames(n, width, height)
	step := width / (n + 1)
	for i := range frames {
		x := step * (i + 1)
		r := image.Rect(x-10, height/2-20, x+10, height/2+20)
		gocv.Rectangle(&frames[i], r, color.RGBA{R: 255, G: 255, B: 255}, -1)
	}
	return frames
}

// Close releases every Mat in frames.
func Close(frames []gocv.Mat) {
	for i := range frames {
		frames[i].Close()
	}
}

// Box is a 20x40 person box centred on (cx, cy).
func Box(cx, cy int) geom.Detection {
	return geom.Detection{X1: cx - 10, Y1: cy - 20, X2: cx + 10, Y2: cy + 20, Confidence: 0.9}
}

// Walk returns one detection per step for a single person moving in a
// straight line from (x0, y0) to (x1, y1), both ends included.
func Walk(x0, y0, x1, y1, steps int) [][]geom.Detection {
	if steps < 2 {
		steps = 2
	}
	script := make([][]geom.Detection, steps)
	for i := range script {
		x := x0 + (x1-x0)*i/(steps-1)
		y := y0 + (y1-y0)*i/(steps-1)
		script[i] = []geom.Detection{Box(x, y)}
	}
	return script
}
