package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
)

// Default source settings
const (
	DefaultReconnectBackoff  = time.Second
	DefaultFirstFrameTimeout = 5 * time.Second

	// maxDecodeErrors consecutive empty frames are treated as a dead feed.
	maxDecodeErrors = 50
)

// Frame is a decoded video frame tagged with its capture sequence number.
// The receiver owns Mat and must Close it.
type Frame struct {
	Seq      uint64
	Mat      gocv.Mat
	Captured time.Time
}

// Close releases the frame's pixel data.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Resolver maps a configured stream URL to the URL that is actually opened.
type Resolver interface {
	Resolve(ctx context.Context, url string) string
}

// SourceConfig configures a Source.
type SourceConfig struct {
	URL               string
	Open              Opener
	Resolver          Resolver
	ReconnectBackoff  time.Duration
	FirstFrameTimeout time.Duration
}

// Source captures frames on a background goroutine and keeps only the most
// recent one. Readers never block the capture loop and may skip frames.
type Source struct {
	cfg SourceConfig

	mu       sync.Mutex
	latest   gocv.Mat
	hasFrame bool
	seq      uint64
	captured time.Time
	size     geom.Size
	notify   chan struct{}
	// gen identifies the capture goroutine allowed to publish. Retired
	// goroutines may still be blocked in Read and must not touch state.
	gen uint64

	opened       atomic.Bool
	decodeErrors atomic.Uint64
	reconnects   atomic.Uint64

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSource creates a stopped Source. Zero durations select the defaults and
// a nil Open selects OpenVideo.
func NewSource(cfg SourceConfig) *Source {
	if cfg.Open == nil {
		cfg.Open = OpenVideo
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	if cfg.FirstFrameTimeout <= 0 {
		cfg.FirstFrameTimeout = DefaultFirstFrameTimeout
	}
	return &Source{cfg: cfg}
}

// Start opens the feed and starts the capture goroutine. It returns once the
// first frame has arrived, or an error wrapping ErrConnection when none
// arrives within FirstFrameTimeout. If the resolved URL fails, the raw URL is
// tried once before giving up. Calling Start on a running Source is a no-op.
func (s *Source) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cancel != nil {
		return nil
	}

	url := s.resolve(ctx)
	err := s.startWith(ctx, url)
	if err != nil && url != s.cfg.URL {
		log.Warn().Err(err).Str("url", url).Msg("Resolved stream failed, retrying with original URL")
		err = s.startWith(ctx, s.cfg.URL)
	}
	return err
}

func (s *Source) startWith(ctx context.Context, url string) error {
	g, err := s.cfg.Open(ctx, url)
	if err != nil {
		if errors.Is(err, ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	first := make(chan struct{})
	size := g.Size()
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.size = size
	s.notify = first
	s.opened.Store(true)
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go s.run(loopCtx, g, gen, done)

	timer := time.NewTimer(s.cfg.FirstFrameTimeout)
	defer timer.Stop()

	select {
	case <-first:
		s.cancel = cancel
		s.done = done
		log.Info().Str("url", url).Int("width", size.Width).Int("height", size.Height).Msg("Capture started")
		return nil
	case <-timer.C:
		err = fmt.Errorf("%w: no frame from %s within %s", ErrConnection, url, s.cfg.FirstFrameTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
	}

	// The goroutine may be stuck in a network read; it closes its grabber
	// once the read returns.
	cancel()
	s.retire()
	return err
}

// retire detaches the current capture goroutine from the Source.
func (s *Source) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.notify = nil
	s.opened.Store(false)
}

// current reports whether gen is still the publishing goroutine. The caller
// holds s.mu.
func (s *Source) current(gen uint64) bool {
	return s.gen == gen
}

func (s *Source) setOpened(gen uint64, opened bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(gen) {
		s.opened.Store(opened)
	}
}

// Read returns a copy of the latest frame. It reports false when no frame
// has arrived yet.
func (s *Source) Read() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasFrame {
		return Frame{}, false
	}
	return Frame{Seq: s.seq, Mat: s.latest.Clone(), Captured: s.captured}, true
}

// Stop terminates the capture goroutine and releases the frame slot. It waits
// at most FirstFrameTimeout for the goroutine; one still blocked in a read is
// detached and closes its transport when the read returns. It is safe to call
// more than once.
func (s *Source) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.retire()

	timer := time.NewTimer(s.cfg.FirstFrameTimeout)
	select {
	case <-s.done:
	case <-timer.C:
		log.Warn().Str("url", s.cfg.URL).Dur("waited", s.cfg.FirstFrameTimeout).Msg("Capture read still blocked, detaching")
	}
	timer.Stop()
	s.cancel = nil
	s.done = nil

	s.mu.Lock()
	if s.hasFrame {
		s.latest.Close()
		s.hasFrame = false
	}
	s.mu.Unlock()
	log.Info().Str("url", s.cfg.URL).Msg("Capture stopped")
}

// NativeSize is the resolution reported by the current transport.
func (s *Source) NativeSize() geom.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// FrameCount is the number of frames captured since the Source was created.
func (s *Source) FrameCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// IsOpened reports whether a transport is currently open.
func (s *Source) IsOpened() bool {
	return s.opened.Load()
}

// DecodeErrors counts empty or undecodable frames that were skipped.
func (s *Source) DecodeErrors() uint64 {
	return s.decodeErrors.Load()
}

// Reconnects counts transports reopened after a failure.
func (s *Source) Reconnects() uint64 {
	return s.reconnects.Load()
}

func (s *Source) resolve(ctx context.Context) string {
	if s.cfg.Resolver == nil {
		return s.cfg.URL
	}
	return s.cfg.Resolver.Resolve(ctx, s.cfg.URL)
}

func (s *Source) run(ctx context.Context, g Grabber, gen uint64, done chan struct{}) {
	defer close(done)
	defer func() {
		if g != nil {
			g.Close()
		}
		s.setOpened(gen, false)
	}()

	buf := gocv.NewMat()
	defer buf.Close()

	decodeRun := 0
	for ctx.Err() == nil {
		if g == nil {
			if !sleep(ctx, s.cfg.ReconnectBackoff) {
				return
			}
			g = s.reconnect(ctx, gen)
			continue
		}

		err := g.Read(&buf)
		switch {
		case err == nil:
			decodeRun = 0
			s.store(buf, gen)
		case errors.Is(err, ErrDecode) && decodeRun < maxDecodeErrors:
			decodeRun++
			s.decodeErrors.Add(1)
			log.Debug().Err(err).Msg("Skipping undecodable frame")
		default:
			decodeRun = 0
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("url", s.cfg.URL).Msg("Capture read failed, reconnecting")
			g.Close()
			g = nil
			s.setOpened(gen, false)
		}
	}
}

// reconnect re-resolves the stream and opens a new transport, falling back to
// the raw URL. It returns nil when both fail or the goroutine was retired.
func (s *Source) reconnect(ctx context.Context, gen uint64) Grabber {
	url := s.resolve(ctx)
	g, err := s.cfg.Open(ctx, url)
	if err != nil && url != s.cfg.URL {
		g, err = s.cfg.Open(ctx, s.cfg.URL)
	}
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Reconnect failed")
		return nil
	}

	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		g.Close()
		return nil
	}
	s.size = g.Size()
	s.opened.Store(true)
	s.mu.Unlock()
	s.reconnects.Add(1)
	log.Info().Str("url", url).Msg("Capture reconnected")
	return g
}

func (s *Source) store(m gocv.Mat, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return
	}
	clone := m.Clone()

	if s.hasFrame {
		s.latest.Close()
	}
	s.latest = clone
	s.hasFrame = true
	s.seq++
	s.captured = time.Now()
	if s.notify != nil {
		close(s.notify)
		s.notify = nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
