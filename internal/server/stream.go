package server

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/headcount/internal/broadcast"
)

// streamBuffer is the per-client frame backlog. Slow clients lose the older
// frame.
const streamBuffer = 2

// StreamHandler serves the annotated JPEG frames as MJPEG and as single
// snapshots.
type StreamHandler struct {
	frames *broadcast.Bus[[]byte]
}

// NewStreamHandler creates a new StreamHandler reading from frames.
func NewStreamHandler(frames *broadcast.Bus[[]byte]) *StreamHandler {
	return &StreamHandler{frames: frames}
}

// ServeHTTP streams MJPEG frames to the client until it disconnects or the
// frame bus closes.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sub := h.frames.Subscribe(streamBuffer)
	defer sub.Close()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	// Start from the current frame so the client does not wait for the next.
	if jpeg, ok := h.frames.Latest(); ok {
		if err := writePart(w, jpeg); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case jpeg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writePart(w, jpeg); err != nil {
				log.Debug().Err(err).Msg("Stream client gone")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// ServeSnapshot writes the latest frame as a single JPEG, or 503 before the
// first frame.
func (h *StreamHandler) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jpeg, ok := h.frames.Latest()
	if !ok || len(jpeg) == 0 {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprint(len(jpeg)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(jpeg)
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
