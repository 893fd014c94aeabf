// ABOUTME: WebSocket event stream pushing broadcaster events to UIs
// ABOUTME: Push-only fan-out with ping keepalive and write deadlines

package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		// Local-first tool, UIs connect from arbitrary origins
		return true
	},
}

// handleWS upgrades GET /ws and streams every hub event to the client
// as one JSON object per message. The stream is push-only; inbound
// frames are read solely to service pongs and detect disconnects.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	events, subID := h.broadcaster.Subscribe(r.Context())
	h.logger.Debug("websocket client connected", "sub_id", subID, "remote", r.RemoteAddr)

	go h.wsReadLoop(conn)
	h.wsWriteLoop(conn, events, subID)
}

// wsReadLoop drains inbound frames so control messages are processed.
// Returning closes nothing; the write loop owns the connection close.
func (h *Hub) wsReadLoop(conn *websocket.Conn) {
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWriteLoop pushes events and periodic pings until the subscription
// channel closes or a write fails.
func (h *Hub) wsWriteLoop(conn *websocket.Conn, events <-chan *Event, subID string) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		h.broadcaster.Unsubscribe(subID)
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed, dropping client", "sub_id", subID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
