// Package capture keeps the most recent frame of a live video feed available
// to the pipeline, reconnecting to the feed whenever it drops.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
)

var (
	// ErrConnection is returned when the feed cannot be opened or yields no
	// frames in time.
	ErrConnection = errors.New("capture: connection failed")
	// ErrDecode marks a read that returned an empty or undecodable frame.
	ErrDecode = errors.New("capture: frame decode failed")
	// ErrGrabberClosed is returned when reading from a closed grabber.
	ErrGrabberClosed = errors.New("capture: grabber is closed")
)

// Grabber reads decoded frames from one open transport.
type Grabber interface {
	// Read decodes the next frame into dst. It returns an error wrapping
	// ErrDecode when the transport delivered an empty frame and any other
	// error when the transport has failed.
	Read(dst *gocv.Mat) error
	// Size is the native resolution reported by the transport.
	Size() geom.Size
	Close() error
}

// Opener opens a Grabber for a concrete stream URL.
type Opener func(ctx context.Context, url string) (Grabber, error)

// videoGrabber reads from an OpenCV VideoCapture.
type videoGrabber struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	size    geom.Size
}

// OpenVideo opens url with OpenCV. A URL that parses as an integer selects a
// local camera device.
func OpenVideo(_ context.Context, url string) (Grabber, error) {
	var source interface{} = url
	if id, err := strconv.Atoi(url); err == nil {
		source = id
	}

	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnection, url, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s did not open", ErrConnection, url)
	}

	// Keep latency low; stale buffered frames are useless for counting.
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &videoGrabber{
		capture: vc,
		size: geom.Size{
			Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		},
	}, nil
}

func (g *videoGrabber) Read(dst *gocv.Mat) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.capture == nil {
		return ErrGrabberClosed
	}
	if ok := g.capture.Read(dst); !ok {
		return errors.New("capture: read failed")
	}
	if dst.Empty() {
		return fmt.Errorf("%w: empty frame", ErrDecode)
	}
	return nil
}

func (g *videoGrabber) Size() geom.Size {
	return g.size
}

func (g *videoGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.capture == nil {
		return nil
	}
	err := g.capture.Close()
	g.capture = nil
	return err
}
