package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader permits connections from any origin: the event stream is a
// local operational feed, not a browser-facing API, so there is no
// cross-site credential to protect.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeTimeout bounds how long a single event write may block before the
// connection is dropped as unresponsive.
const writeTimeout = 5 * time.Second

// Handler upgrades an HTTP connection to a WebSocket and streams every
// event published on bus to it as JSON, one message per event, until the
// connection closes or a write fails. Each connection gets its own
// subscription with a 64-event buffer; a slow reader misses events rather
// than blocking publishers.
func Handler(bus *Bus, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("event websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub := bus.Subscribe(64)
		defer bus.Unsubscribe(sub)

		for event := range sub {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
