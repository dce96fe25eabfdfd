// Package config loads the headcount runtime configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// maxFileSize bounds the config file.
const maxFileSize = 1 << 20

// DefaultStreamURL is the public CCTV feed counted when nothing is configured.
const DefaultStreamURL = "https://cctvjss.jogjakota.go.id/malioboro/Malioboro_10_Kepatihan.stream/playlist.m3u8"

// Duration is a time.Duration written in JSON as a string like "1s".
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DetectorConfig selects and tunes the person detector.
type DetectorConfig struct {
	Backend    string   `json:"backend"`
	ModelPath  string   `json:"model_path"`
	Command    []string `json:"command,omitempty"`
	Confidence float64  `json:"confidence"`
	NMS        float64  `json:"nms"`
	InputSize  int      `json:"input_size"`
	CUDA       bool     `json:"cuda"`
}

// Config holds all runtime settings.
type Config struct {
	StreamURL   string       `json:"stream_url"`
	ZoneName    string       `json:"zone_name"`
	DefaultZone [][2]float64 `json:"default_zone"`

	FrameWidth     int `json:"frame_width"`
	FrameHeight    int `json:"frame_height"`
	FrameSkip      int `json:"frame_skip"`
	MaxDisappeared int `json:"max_disappeared"`

	// MotionThreshold is the percent of changed pixels a frame needs to be
	// detected on. Zero turns the motion gate off.
	MotionThreshold float64 `json:"motion_threshold"`

	Detector DetectorConfig `json:"detector"`

	DBPath      string   `json:"db_path"`
	ListenAddr  string   `json:"listen_addr"`
	StaticDir   string   `json:"static_dir"`
	CORSOrigins []string `json:"cors_origins"`
	JPEGQuality int      `json:"jpeg_quality"`

	PersistQueue  int `json:"persist_queue"`
	DetectWorkers int `json:"detect_workers"`

	PluginDir     string `json:"plugin_dir"`
	HookTimeoutMS int    `json:"hook_timeout_ms"`

	ReconnectBackoff  Duration `json:"reconnect_backoff"`
	FirstFrameTimeout Duration `json:"first_frame_timeout"`
	ZonePollInterval  Duration `json:"zone_poll_interval"`

	Tray bool `json:"tray"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StreamURL:   DefaultStreamURL,
		ZoneName:    "high_risk_area_1",
		DefaultZone: [][2]float64{{300, 200}, {900, 200}, {900, 500}, {300, 500}},

		FrameWidth:     1280,
		FrameHeight:    720,
		FrameSkip:      2,
		MaxDisappeared: 30,

		Detector: DetectorConfig{
			Backend:    "dnn",
			ModelPath:  filepath.Join(DataDir(), "models", "yolov8n.onnx"),
			Confidence: 0.5,
			NMS:        0.45,
			InputSize:  640,
		},

		DBPath:     filepath.Join(DataDir(), "headcount.db"),
		ListenAddr: ":8000",
		CORSOrigins: []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		},
		JPEGQuality: 80,

		PersistQueue:  256,
		DetectWorkers: 1,

		PluginDir:     filepath.Join(DataDir(), "plugins"),
		HookTimeoutMS: 5000,

		ReconnectBackoff:  Duration(time.Second),
		FirstFrameTimeout: Duration(5 * time.Second),
		ZonePollInterval:  Duration(time.Second),
	}
}

// DataDir is ~/.headcount, or .headcount when the home directory is unknown.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".headcount"
	}
	return filepath.Join(home, ".headcount")
}

// Load reads a JSON config file over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if ext := filepath.Ext(path); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(strings.TrimSpace(c.StreamURL) != "", "stream_url is required")
	check(strings.TrimSpace(c.ZoneName) != "", "zone_name is required")
	check(len(c.DefaultZone) >= 3, "default_zone needs at least 3 points, got %d", len(c.DefaultZone))
	for i, p := range c.DefaultZone {
		check(finite(p[0]) && finite(p[1]), "default_zone point %d is not finite", i)
	}

	check(c.FrameWidth > 0 && c.FrameHeight > 0, "frame size must be positive, got %dx%d", c.FrameWidth, c.FrameHeight)
	check(c.FrameSkip >= 1, "frame_skip must be at least 1, got %d", c.FrameSkip)
	check(c.MaxDisappeared >= 0, "max_disappeared must be non-negative, got %d", c.MaxDisappeared)
	check(c.MotionThreshold >= 0 && c.MotionThreshold < 100, "motion_threshold must be in [0, 100), got %f", c.MotionThreshold)

	switch c.Detector.Backend {
	case "dnn", "process", "mock":
	default:
		errs = append(errs, fmt.Errorf("detector.backend must be dnn, process or mock, got %q", c.Detector.Backend))
	}
	check(c.Detector.Confidence >= 0 && c.Detector.Confidence <= 1, "detector.confidence must be between 0 and 1, got %f", c.Detector.Confidence)
	check(c.Detector.NMS >= 0 && c.Detector.NMS <= 1, "detector.nms must be between 0 and 1, got %f", c.Detector.NMS)
	check(c.Detector.InputSize > 0 && c.Detector.InputSize%32 == 0, "detector.input_size must be a positive multiple of 32, got %d", c.Detector.InputSize)

	check(c.DBPath != "", "db_path is required")
	check(c.ListenAddr != "", "listen_addr is required")
	check(c.JPEGQuality >= 1 && c.JPEGQuality <= 100, "jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	check(c.PersistQueue > 0, "persist_queue must be positive, got %d", c.PersistQueue)
	check(c.DetectWorkers >= 1, "detect_workers must be at least 1, got %d", c.DetectWorkers)
	check(c.HookTimeoutMS > 0, "hook_timeout_ms must be positive, got %d", c.HookTimeoutMS)

	check(c.ReconnectBackoff > 0, "reconnect_backoff must be positive")
	check(c.FirstFrameTimeout > 0, "first_frame_timeout must be positive")
	check(c.ZonePollInterval > 0, "zone_poll_interval must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// HookTimeout is HookTimeoutMS as a duration.
func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.HookTimeoutMS) * time.Millisecond
}

func (c *Config) expandPaths() {
	c.DBPath = ExpandHome(c.DBPath)
	c.PluginDir = ExpandHome(c.PluginDir)
	c.StaticDir = ExpandHome(c.StaticDir)
	c.Detector.ModelPath = ExpandHome(c.Detector.ModelPath)
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
