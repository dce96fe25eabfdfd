package capture

import (
	"image"

	"gocv.io/x/gocv"
)

// Motion gate tuning.
const (
	// motionWidth is the width frames are shrunk to before differencing.
	motionWidth = 320
	// motionBlur is the Gaussian kernel size applied after shrinking.
	motionBlur = 11
	// motionPixelDelta is the grey-level change that marks a pixel as moved.
	motionPixelDelta = 25
)

// MotionGate reports whether a frame differs enough from a reference frame to
// be worth running the detector on. The reference only moves when the gate
// opens, so slow motion accumulates until it crosses the threshold. It is not
// safe for concurrent use.
type MotionGate struct {
	threshold float64
	prev      gocv.Mat
	primed    bool

	small gocv.Mat
	gray  gocv.Mat
	diff  gocv.Mat
}

// NewMotionGate creates a gate that opens when more than threshold percent
// of pixels change between frames.
func NewMotionGate(threshold float64) *MotionGate {
	return &MotionGate{
		threshold: threshold,
		prev:      gocv.NewMat(),
		small:     gocv.NewMat(),
		gray:      gocv.NewMat(),
		diff:      gocv.NewMat(),
	}
}

// Check compares frame with the reference and returns whether the gate is
// open and the percentage of changed pixels. The first frame, and any frame
// after Reset, always opens the gate.
func (g *MotionGate) Check(frame *gocv.Mat) (bool, float64) {
	if frame == nil || frame.Empty() {
		return false, 0
	}

	w := frame.Cols()
	h := frame.Rows()
	if w > motionWidth {
		h = h * motionWidth / w
		w = motionWidth
	}
	gocv.Resize(*frame, &g.small, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	if g.small.Channels() > 1 {
		gocv.CvtColor(g.small, &g.gray, gocv.ColorBGRToGray)
	} else {
		g.small.CopyTo(&g.gray)
	}
	gocv.GaussianBlur(g.gray, &g.gray, image.Pt(motionBlur, motionBlur), 0, 0, gocv.BorderDefault)

	if !g.primed || g.prev.Rows() != g.gray.Rows() || g.prev.Cols() != g.gray.Cols() {
		g.gray.CopyTo(&g.prev)
		g.primed = true
		return true, 100
	}

	gocv.AbsDiff(g.gray, g.prev, &g.diff)
	gocv.Threshold(g.diff, &g.diff, motionPixelDelta, 255, gocv.ThresholdBinary)
	changed := float64(gocv.CountNonZero(g.diff)) / float64(g.diff.Rows()*g.diff.Cols()) * 100
	open := changed > g.threshold
	if open {
		g.gray.CopyTo(&g.prev)
	}
	return open, changed
}

// Reset forgets the reference frame so the next Check opens the gate.
func (g *MotionGate) Reset() {
	g.primed = false
}

// Close releases the gate's buffers.
func (g *MotionGate) Close() {
	g.prev.Close()
	g.small.Close()
	g.gray.Close()
	g.diff.Close()
}
