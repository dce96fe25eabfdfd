package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
)

// MockGrabber plays back pre-recorded frames for testing. Without looping it
// reports io.EOF once the frames are exhausted, which the Source treats as a
// dropped connection.
type MockGrabber struct {
	frames   []gocv.Mat
	index    int
	loop     bool
	interval time.Duration
	closed   bool
	mu       sync.Mutex
}

// NewMockGrabber creates a grabber over frames. interval paces reads the way
// a live feed would.
func NewMockGrabber(frames []gocv.Mat, loop bool, interval time.Duration) *MockGrabber {
	return &MockGrabber{
		frames:   frames,
		loop:     loop,
		interval: interval,
	}
}

// Opener returns an Opener that always hands out g.
func (g *MockGrabber) Opener() Opener {
	return func(context.Context, string) (Grabber, error) {
		g.Reset()
		return g, nil
	}
}

func (g *MockGrabber) Read(dst *gocv.Mat) error {
	if g.interval > 0 {
		time.Sleep(g.interval)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGrabberClosed
	}
	if len(g.frames) == 0 {
		return fmt.Errorf("%w: no frames available", ErrDecode)
	}
	if g.index >= len(g.frames) {
		if !g.loop {
			return io.EOF
		}
		g.index = 0
	}

	g.frames[g.index].CopyTo(dst)
	g.index++
	return nil
}

func (g *MockGrabber) Size() geom.Size {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.frames) == 0 {
		return geom.Size{}
	}
	return geom.Size{Width: g.frames[0].Cols(), Height: g.frames[0].Rows()}
}

func (g *MockGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Reset restarts playback from the beginning and reopens the grabber.
func (g *MockGrabber) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.index = 0
	g.closed = false
}
