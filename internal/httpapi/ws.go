package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is handled by the CORS layer; the feed itself is
	// read-only lifecycle telemetry.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// wsEvent is the wire shape of one lifecycle event on the feed.
type wsEvent struct {
	Event  string         `json:"event"`
	Model  string         `json:"model,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	TS     int64          `json:"ts"`
}

// handleEvents relays manager lifecycle events over a websocket until the
// client goes away or the server shuts down.
func handleEvents(feed EventFeed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		events, unsubscribe := feed.Subscribe()
		defer unsubscribe()

		// Drain client frames so close/ping handling works; we never expect
		// payloads.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(wsEvent{
					Event:  ev.Name,
					Model:  ev.Model,
					Fields: ev.Fields,
					TS:     time.Now().Unix(),
				}); err != nil {
					return
				}
			}
		}
	}
}
