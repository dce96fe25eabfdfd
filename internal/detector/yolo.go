package detector

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
)

// YOLODetector runs a YOLOv8 ONNX export through the OpenCV DNN module.
type YOLODetector struct {
	config Config
	net    gocv.Net
	mu     sync.Mutex
}

// NewYOLODetector loads the model at cfg.ModelPath.
func NewYOLODetector(cfg Config) (*YOLODetector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultConfig().InputSize
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.ModelPath, err)
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", cfg.ModelPath)
	}

	if cfg.CUDA {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	log.Info().Str("model", cfg.ModelPath).Bool("cuda", cfg.CUDA).Int("input", cfg.InputSize).Msg("YOLO model loaded")

	return &YOLODetector{config: cfg, net: net}, nil
}

// Detect runs one forward pass. Boxes are scaled back to frame pixels,
// filtered to the person class and reduced with NMS.
func (d *YOLODetector) Detect(frame *gocv.Mat) ([]geom.Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrDetection)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.config.InputSize
	blob := gocv.BlobFromImage(*frame, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", ErrDetection, dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	out := yoloOutput{data: data, attrs: dims[1], anchors: dims[2]}
	// Some exports emit [1, anchors, attrs] instead of [1, attrs, anchors].
	if out.attrs > out.anchors {
		out = yoloOutput{data: data, attrs: dims[2], anchors: dims[1], transposed: true}
	}

	fs := geom.Size{Width: frame.Cols(), Height: frame.Rows()}
	scaleX := float64(fs.Width) / float64(size)
	scaleY := float64(fs.Height) / float64(size)

	dets, err := out.decode(scaleX, scaleY, d.config.MinConfidence, fs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	return NMS(dets, d.config.NMSThreshold), nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// yoloOutput views a YOLOv8 head: per anchor, 4 box values (cx, cy, w, h in
// network pixels) followed by one score per class.
type yoloOutput struct {
	data       []float32
	attrs      int
	anchors    int
	transposed bool
}

func (o yoloOutput) at(anchor, attr int) float64 {
	if o.transposed {
		return float64(o.data[anchor*o.attrs+attr])
	}
	return float64(o.data[attr*o.anchors+anchor])
}

// decode keeps anchors whose best class is a person scoring above minConf.
func (o yoloOutput) decode(scaleX, scaleY, minConf float64, frame geom.Size) ([]geom.Detection, error) {
	if o.attrs <= 4+PersonClass {
		return nil, fmt.Errorf("output has %d attributes", o.attrs)
	}
	if len(o.data) < o.attrs*o.anchors {
		return nil, fmt.Errorf("output holds %d values, want %d", len(o.data), o.attrs*o.anchors)
	}

	var dets []geom.Detection
	for i := 0; i < o.anchors; i++ {
		best, bestScore := -1, 0.0
		for c := 4; c < o.attrs; c++ {
			if s := o.at(i, c); best < 0 || s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best != PersonClass || bestScore <= minConf {
			continue
		}

		cx, cy := o.at(i, 0), o.at(i, 1)
		w, h := o.at(i, 2), o.at(i, 3)
		dets = append(dets, clip(geom.Detection{
			X1:         int((cx - w/2) * scaleX),
			Y1:         int((cy - h/2) * scaleY),
			X2:         int((cx + w/2) * scaleX),
			Y2:         int((cy + h/2) * scaleY),
			Confidence: bestScore,
		}, frame))
	}
	return dets, nil
}
