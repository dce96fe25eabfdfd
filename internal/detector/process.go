package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
)

// processIdleTimeout shuts the service down after this long without frames.
const processIdleTimeout = 30 * time.Second

// ProcessDetector delegates inference to an external service process. Each
// frame is written to its stdin as a 4-byte big-endian length followed by
// JPEG bytes; the service answers with one JSON line per frame:
//
//	{"detections": [{"x1": 10, "y1": 20, "x2": 50, "y2": 90, "confidence": 0.8, "class": 0}]}
type ProcessDetector struct {
	config    Config
	command   []string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewProcessDetector creates a process-backed detector. Without an explicit
// cfg.Command it looks for scripts/detect_service.py and runs it with the
// project's virtual environment Python when one exists. The process is
// started lazily on first detection.
func NewProcessDetector(cfg Config) (*ProcessDetector, error) {
	command := cfg.Command
	if len(command) == 0 {
		script := findServiceScript()
		if script == "" {
			return nil, fmt.Errorf("detect_service.py not found")
		}
		python := findVenvPython()
		if python == "" {
			python = "python3"
		}
		command = []string{python, script, "--model", cfg.ModelPath, "--conf", fmt.Sprint(cfg.MinConfidence)}
	}

	return &ProcessDetector{
		config:  cfg,
		command: command,
	}, nil
}

// Detect sends one frame to the service and returns its person boxes.
func (d *ProcessDetector) Detect(frame *gocv.Mat) ([]geom.Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrDetection)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame: %v", ErrDetection, err)
	}
	defer buf.Close()

	dets, err := d.roundTrip(buf.GetBytes())
	if err != nil {
		// A broken pipe leaves the protocol out of step; restart next time.
		d.shutdown()
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	fs := geom.Size{Width: frame.Cols(), Height: frame.Rows()}
	result := make([]geom.Detection, 0, len(dets))
	for _, pd := range dets {
		if pd.Class != PersonClass || pd.Confidence < d.config.MinConfidence {
			continue
		}
		result = append(result, clip(pd.toDetection(), fs))
	}

	d.resetIdleTimer()
	return result, nil
}

func (d *ProcessDetector) roundTrip(data []byte) ([]processDetection, error) {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Detections []processDetection `json:"detections"`
		Error      string             `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("service: %s", response.Error)
	}
	return response.Detections, nil
}

// Close shuts down the service process.
func (d *ProcessDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ProcessDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.command[0], d.command[1:]...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start detect service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	log.Info().Strs("command", d.command).Int("pid", d.cmd.Process.Pid).Msg("Detect service started")

	return nil
}

func (d *ProcessDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *ProcessDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(processIdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/detect_service.py",
		"../scripts/detect_service.py",
		filepath.Join(execDir, "scripts/detect_service.py"),
		filepath.Join(os.Getenv("HOME"), ".headcount/scripts/detect_service.py"),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".headcount/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// processDetection is one box in the service's JSON response.
type processDetection struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	Class      int     `json:"class"`
}

func (p processDetection) toDetection() geom.Detection {
	return geom.Detection{
		X1:         int(p.X1),
		Y1:         int(p.Y1),
		X2:         int(p.X2),
		Y2:         int(p.Y2),
		Confidence: p.Confidence,
	}
}
