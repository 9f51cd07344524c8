package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpwatch/mcpwatch/internal/events"
)

const (
	streamBuffer  = 200
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// streamUpdates pushes live normalized messages and findings to a
// websocket client. A client that cannot keep up loses updates at the
// broker, never stalls the pipeline.
func (a *App) streamUpdates(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "websocket upgrade required"})
		return
	}

	up := websocket.Upgrader{
		// Localhost monitoring surface; any origin is acceptable.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	tagFilter := r.URL.Query().Get("tag")

	ch := a.broker.Subscribe(streamBuffer)
	defer a.broker.Unsubscribe(ch)

	// Drain client frames so close/ping control messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case u, ok := <-ch:
			if !ok {
				return
			}
			if tagFilter != "" && !updateMatchesTag(u, tagFilter) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		}
	}
}

func updateMatchesTag(u events.Update, tag string) bool {
	if u.Message != nil && u.Message.Tag == tag {
		return true
	}
	if u.Finding != nil && u.Finding.Tag == tag {
		return true
	}
	return false
}
