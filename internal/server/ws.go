package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/headcount/internal/broadcast"
	"github.com/ayusman/headcount/internal/persist"
	"github.com/ayusman/headcount/internal/zone"
)

const (
	eventBuffer = 64
	writeWait   = 5 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// eventMessage is the JSON pushed to WebSocket clients for each crossing.
type eventMessage struct {
	Type      string        `json:"type"`
	TrackID   uint64        `json:"track_id"`
	Zone      string        `json:"zone"`
	Timestamp int64         `json:"timestamp"`
	Counters  zone.Snapshot `json:"counters"`
}

// EventsHandler pushes zone crossings to WebSocket clients as they happen.
type EventsHandler struct {
	events *broadcast.Bus[persist.Event]
}

// NewEventsHandler creates a new EventsHandler reading from events.
func NewEventsHandler(events *broadcast.Bus[persist.Event]) *EventsHandler {
	return &EventsHandler{events: events}
}

// ServeHTTP upgrades the connection and forwards events until the client
// leaves or the event bus closes.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe first so no event is lost between the handshake and the loop.
	sub := h.events.Subscribe(eventBuffer)
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// The read loop only services control frames and notices disconnects.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(eventMessage{
				Type:      e.Type,
				TrackID:   e.TrackID,
				Zone:      e.Zone,
				Timestamp: e.Timestamp.UnixMilli(),
				Counters:  e.Counters,
			}); err != nil {
				log.Debug().Err(err).Msg("WebSocket client gone")
				return
			}
		}
	}
}
