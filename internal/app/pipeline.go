package app

import (
	"context"
	"image"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/headcount/internal/geom"
	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/render"
	"github.com/ayusman/headcount/internal/tracker"
	"github.com/ayusman/headcount/internal/zone"
)

// runPipeline is the counting loop. Each cycle takes the newest frame,
// resizes it to the working size and, on every FrameSkip-th frame while
// counting is enabled, detects, tracks and counts before publishing the
// annotated JPEG. Every other frame is published as is. Per-cycle failures
// are logged and never end the loop.
func (a *App) runPipeline(ctx context.Context) error {
	resized := gocv.NewMat()
	defer resized.Close()

	a.fpsStart = time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case z := <-a.zoneUpdates:
			a.applyZone(z)
		default:
		}

		frame, ok := a.source.Read()
		if !ok || frame.Seq == a.lastSeq {
			if ok {
				frame.Close()
			}
			if !sleep(ctx, a.config.IdleWait) {
				return nil
			}
			continue
		}
		a.lastSeq = frame.Seq
		a.metrics.FramesRead.Add(1)

		size := a.config.FrameSize
		gocv.Resize(frame.Mat, &resized, image.Pt(size.Width, size.Height), 0, 0, gocv.InterpolationLinear)
		frame.Close()

		a.frameCount++
		if a.frameCount%uint64(a.config.FrameSkip) != 0 || !a.IsEnabled() || a.still(&resized) {
			a.metrics.FramesSkipped.Add(1)
			a.publish(resized)
		} else if err := a.processFrame(ctx, &resized, frame.Captured); err != nil {
			return nil
		}

		a.processed++
		a.metrics.FramesProcessed.Add(1)
		if a.processed%FPSLogInterval == 0 {
			a.logFPS()
		}
	}
}

// still reports whether the motion gate saw too little change in img to
// be worth detecting on. Without a gate every frame is detected.
func (a *App) still(img *gocv.Mat) bool {
	if a.motion == nil {
		return false
	}
	if open, _ := a.motion.Check(img); open {
		return false
	}
	a.metrics.FramesStill.Add(1)
	return true
}

// processFrame runs detection and counting on img and publishes the result.
// It returns an error only when ctx ends during detection.
func (a *App) processFrame(ctx context.Context, img *gocv.Mat, captured time.Time) error {
	a.metrics.DetectionFrames.Add(1)

	dets, err := a.detect(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.metrics.DetectionErrors.Add(1)
		log.Warn().Err(err).Uint64("frame", a.frameCount).Msg("Detection failed")
		dets = nil
	}

	if len(dets) == 0 {
		a.publish(*img)
		return nil
	}

	boxes := a.count(a.tracker.TracksWithBoxes(dets), captured)
	a.activeTracks.Store(int64(a.tracker.Len()))

	render.Draw(img, render.Overlay{
		Zone:     a.zone.Polygon().Vertices,
		Boxes:    boxes,
		Counters: a.counters.Snapshot(),
	}, a.style)
	a.publish(*img)
	return nil
}

// detect runs the detector on a copy of img under the worker semaphore. The
// copy lets the caller release img even if ctx ends mid-inference.
func (a *App) detect(ctx context.Context, img *gocv.Mat) ([]geom.Detection, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type result struct {
		dets []geom.Detection
		err  error
	}
	in := img.Clone()
	done := make(chan result, 1)
	go func() {
		defer a.sem.Release(1)
		defer in.Close()

		start := time.Now()
		dets, err := a.detector.Detect(&in)
		a.metrics.UpdateDetectLatency(time.Since(start))
		done <- result{dets, err}
	}()

	select {
	case r := <-done:
		return r.dets, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// count updates zone membership and counters for each tracked box, queues
// events and detection records, and returns the boxes to draw.
func (a *App) count(tracked []tracker.TrackedBox, captured time.Time) []render.Box {
	for _, id := range a.tracker.Deregistered() {
		a.zone.Forget(id)
	}

	if captured.IsZero() {
		captured = time.Now()
	}
	ts := captured.UTC()
	name := a.zone.Name()

	boxes := make([]render.Box, 0, len(tracked))
	for _, tb := range tracked {
		c := tb.Centroid()
		inside := a.zone.IsPointInside(float64(c.X), float64(c.Y))

		if tr, ok := a.zone.CheckTransition(tb.TrackID, inside); ok {
			a.recordTransition(tb.TrackID, tr, ts)
		}

		if !a.queue.Push(persist.DetectionItem(persist.DetectionRecord{
			RunID:      a.runID,
			TrackID:    tb.TrackID,
			Box:        tb.Box(),
			InZone:     inside,
			Timestamp:  ts,
			Zone:       name,
			Confidence: tb.Confidence,
		})) {
			log.Debug().Uint64("track_id", tb.TrackID).Msg("Persist queue full, dropped oldest record")
		}

		boxes = append(boxes, render.Box{
			Detection: tb.Detection,
			TrackID:   tb.TrackID,
			Inside:    inside,
			Trail:     a.tracker.History(tb.TrackID),
		})
	}
	return boxes
}

func (a *App) recordTransition(trackID uint64, tr zone.Transition, ts time.Time) {
	snap := a.counters.Apply(tr)
	if tr == zone.Entry {
		a.metrics.Entries.Add(1)
	} else {
		a.metrics.Exits.Add(1)
	}

	ev := persist.Event{
		RunID:     a.runID,
		TrackID:   trackID,
		Type:      tr.String(),
		Timestamp: ts,
		Zone:      a.zone.Name(),
		Counters:  snap,
	}
	if !a.queue.Push(persist.EventItem(ev)) {
		log.Warn().Uint64("track_id", trackID).Msg("Persist queue full, dropped oldest record")
	}
	a.events.Publish(ev)

	log.Info().
		Str("zone", ev.Zone).
		Uint64("track_id", trackID).
		Str("event", ev.Type).
		Uint64("inside", snap.Inside).
		Msg("Zone transition")
}

// publish encodes img and hands it to the live view. When encoding fails the
// previous frame is republished so viewers do not stall.
func (a *App) publish(img gocv.Mat) {
	buf, err := render.EncodeJPEG(img, a.config.JPEGQuality)
	if err != nil {
		a.metrics.RenderErrors.Add(1)
		log.Warn().Err(err).Uint64("frame", a.frameCount).Msg("Frame encoding failed")
		if a.lastJPEG == nil {
			return
		}
		buf = a.lastJPEG
	}
	a.lastJPEG = buf
	a.frames.Publish(buf)
}

func (a *App) logFPS() {
	elapsed := time.Since(a.fpsStart).Seconds()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(a.processed) / elapsed
	}
	a.metrics.UpdateFPS(fps)
	log.Info().Uint64("frames", a.processed).Float64("fps", fps).Msg("Pipeline throughput")
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
