package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/headcount/internal/app"
	"github.com/ayusman/headcount/internal/capture"
	"github.com/ayusman/headcount/internal/config"
	"github.com/ayusman/headcount/internal/detector"
	"github.com/ayusman/headcount/internal/geom"
	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/plugin"
	"github.com/ayusman/headcount/internal/server"
	"github.com/ayusman/headcount/internal/store"
	"github.com/ayusman/headcount/internal/tray"
)

// resolveTimeout bounds the HLS manifest lookup.
const resolveTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "", "Path to a JSON config file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log-format", "console", "Log format: console or json")
	streamURL  = flag.String("stream", "", "Stream URL (overrides config)")
	zoneName   = flag.String("zone", "", "Zone to count (overrides config)")
	listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
	backend    = flag.String("detector", "", "Detector backend: dnn, process or mock (overrides config)")
	modelPath  = flag.String("model", "", "Detector model path (overrides config)")
	staticDir  = flag.String("static", "", "Directory served at / (overrides config)")
	withTray   = flag.Bool("tray", false, "Show the system tray menu")
)

func main() {
	flag.Parse()
	setupLogging(*logLevel, *logFormat)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		if err := run(ctx, cfg, nil); err != nil {
			log.Fatal().Err(err).Msg("headcount failed")
		}
		return
	}

	// systray must own the main goroutine; the pipeline runs beside it.
	ctx, cancel := context.WithCancel(ctx)
	ready := make(chan *app.App, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx, cfg, ready); err != nil {
			log.Error().Err(err).Msg("headcount failed")
		}
		cancel()
	}()

	a, ok := <-ready
	if !ok {
		wg.Wait()
		os.Exit(1)
	}

	t := tray.New(a)
	t.OnLiveView(func() { openBrowser(liveViewURL(cfg.ListenAddr)) })
	t.OnQuit(cancel)
	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()

	cancel()
	wg.Wait()
}

// run builds the pipeline and serves HTTP until ctx ends. When ready is not
// nil it receives the started App, or is closed if startup fails.
func run(ctx context.Context, cfg config.Config, ready chan<- *app.App) (err error) {
	if ready != nil {
		defer func() {
			if err != nil {
				close(ready)
			}
		}()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	z, created, err := st.Zones().EnsureDefault(ctx, cfg.ZoneName, cfg.DefaultZone)
	if err != nil {
		return fmt.Errorf("failed to seed zone %q: %w", cfg.ZoneName, err)
	}
	if created {
		log.Info().Str("zone", z.Name).Msg("Default zone created")
	}

	det, err := detector.Open(detector.Config{
		Backend:       cfg.Detector.Backend,
		ModelPath:     cfg.Detector.ModelPath,
		Command:       cfg.Detector.Command,
		MinConfidence: cfg.Detector.Confidence,
		NMSThreshold:  cfg.Detector.NMS,
		InputSize:     cfg.Detector.InputSize,
		CUDA:          cfg.Detector.CUDA,
	})
	if err != nil {
		return fmt.Errorf("failed to open detector: %w", err)
	}

	var hook persist.Hook
	plugins := plugin.NewManager(cfg.PluginDir)
	if err := plugins.Discover(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.PluginDir).Msg("Plugin discovery failed")
	} else if n := len(plugins.List()); n > 0 {
		log.Info().Int("plugins", n).Str("dir", cfg.PluginDir).Msg("Event hooks loaded")
		hook = plugin.NewDispatcher(plugins, cfg.HookTimeout())
	}

	a, err := app.New(app.Config{
		Source: capture.SourceConfig{
			URL:               cfg.StreamURL,
			Resolver:          capture.NewHLSResolver(resolveTimeout),
			ReconnectBackoff:  cfg.ReconnectBackoff.Std(),
			FirstFrameTimeout: cfg.FirstFrameTimeout.Std(),
		},
		Detector:         det,
		Zones:            st,
		Sink:             st,
		Hook:             hook,
		ZoneName:         cfg.ZoneName,
		DefaultZone:      cfg.DefaultZone,
		FrameSize:        geom.Size{Width: cfg.FrameWidth, Height: cfg.FrameHeight},
		FrameSkip:        cfg.FrameSkip,
		MaxDisappeared:   cfg.MaxDisappeared,
		MotionThreshold:  cfg.MotionThreshold,
		JPEGQuality:      cfg.JPEGQuality,
		PersistQueue:     cfg.PersistQueue,
		DetectWorkers:    cfg.DetectWorkers,
		ZonePollInterval: cfg.ZonePollInterval.Std(),
	})
	if err != nil {
		det.Close()
		return err
	}

	if err := a.Start(ctx); err != nil {
		a.Stop()
		return err
	}
	defer a.Stop()
	log.Info().Str("run_id", a.RunID()).Str("zone", cfg.ZoneName).Str("url", cfg.StreamURL).Msg("Counting started")

	if ready != nil {
		ready <- a
	}

	web := cfg.StaticDir
	if web == "" {
		web = findWebDir()
	}
	if web != "" {
		log.Info().Str("dir", web).Msg("Serving static files")
	}

	srv := server.New(server.Config{
		StaticDir:   web,
		Store:       st,
		Pipeline:    a,
		Metrics:     a.Metrics().Handler(),
		CORSOrigins: cfg.CORSOrigins,
	})
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	snap := a.Counters()
	log.Info().Uint64("entries", snap.Entries).Uint64("exits", snap.Exits).Uint64("inside", snap.Inside).Msg("Shutting down")
	return nil
}

// loadConfig layers flags over the config file over the defaults.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *streamURL != "" {
		cfg.StreamURL = *streamURL
	}
	if *zoneName != "" {
		cfg.ZoneName = *zoneName
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.DBPath = config.ExpandHome(*dbPath)
	}
	if *backend != "" {
		cfg.Detector.Backend = *backend
	}
	if *modelPath != "" {
		cfg.Detector.ModelPath = config.ExpandHome(*modelPath)
	}
	if *staticDir != "" {
		cfg.StaticDir = config.ExpandHome(*staticDir)
	}
	if set["tray"] {
		cfg.Tray = *withTray
	}

	return cfg, cfg.Validate()
}

// setupLogging configures the global zerolog logger.
func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.headcount/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeWebDir := filepath.Join(config.DataDir(), "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

// liveViewURL is the MJPEG stream URL for a listen address like ":8000".
func liveViewURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/api/video/stream"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Failed to open browser")
		return
	}
	go cmd.Wait()
}
