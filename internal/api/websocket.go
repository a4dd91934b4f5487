// ABOUTME: WebSocket bridge from the stream broadcaster to connected clients
// ABOUTME: Forwards live generation chunks for a subscribed exchange id

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxControlRead = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Same-origin is enforced by the deployment, not the socket
		return true
	},
}

// handleStream handles GET /ws?exchangeId=... requests.
// Upgrades to a WebSocket and forwards every stream event for the exchange
// until the terminal event arrives or the client goes away. Connecting after
// generation started misses earlier chunks; the persisted message is the
// durable record.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	exchangeID := r.URL.Query().Get("exchangeId")
	if exchangeID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "exchangeId query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, _ := s.broadcaster.Subscribe(ctx, exchangeID)

	// Reader goroutine: we never expect data frames, but reading drives
	// pong handling and detects the client closing the socket.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxControlRead)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("websocket write failed", "exchange_id", exchangeID, "error", err)
				return
			}
			if event.Done {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}
