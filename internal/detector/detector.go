// Package detector finds people in video frames.
package detector

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
)

// PersonClass is the COCO class index for people.
const PersonClass = 0

// ErrDetection wraps every failure raised while running inference.
var ErrDetection = errors.New("detector: detection failed")

// Detector defines the interface for person detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns person boxes in the frame's
	// pixel coordinates. Returns an empty slice if nobody is detected.
	Detect(frame *gocv.Mat) ([]geom.Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendDNN     = "dnn"
	BackendProcess = "process"
	BackendMock    = "mock"
)

// Config holds configuration options for person detection.
type Config struct {
	// Backend selects the implementation: dnn, process or mock.
	Backend string `json:"backend"`

	// ModelPath is the ONNX model for the dnn backend, or the model argument
	// passed to the process backend.
	ModelPath string `json:"model_path"`

	// Command overrides the process backend's service command line.
	Command []string `json:"command,omitempty"`

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64 `json:"confidence"`

	// NMSThreshold is the IoU above which overlapping boxes are suppressed.
	NMSThreshold float64 `json:"nms"`

	// InputSize is the square network input edge in pixels.
	InputSize int `json:"input_size"`

	// CUDA requests the OpenCV CUDA backend.
	CUDA bool `json:"cuda"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendDNN,
		ModelPath:     "yolov8n.onnx",
		MinConfidence: 0.5,
		NMSThreshold:  0.45,
		InputSize:     640,
	}
}

// Open creates the detector selected by cfg.Backend.
func Open(cfg Config) (Detector, error) {
	switch cfg.Backend {
	case BackendDNN, "":
		return NewYOLODetector(cfg)
	case BackendProcess:
		return NewProcessDetector(cfg)
	case BackendMock:
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

// clip bounds a box to the frame, matching how the frame is drawn on.
func clip(d geom.Detection, frame geom.Size) geom.Detection {
	if frame.Width <= 0 || frame.Height <= 0 {
		return d
	}
	d.X1 = clamp(d.X1, 0, frame.Width)
	d.X2 = clamp(d.X2, 0, frame.Width)
	d.Y1 = clamp(d.Y1, 0, frame.Height)
	d.Y2 = clamp(d.Y2, 0, frame.Height)
	return d
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
