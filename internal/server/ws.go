package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/levelmind/levelmind-go/internal/download"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// handleDownloadsWS streams registry snapshots and job status changes. The
// current registry contents are sent first.
func (s *Server) handleDownloadsWS(w http.ResponseWriter, r *http.Request) {
	sub, err := s.library.Downloaded(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := download.NewClient(uuid.NewString())
	logger := s.logger.With(zap.String("client_id", client.ID))

	if !s.notifier.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return
	}
	defer s.notifier.Unregister(client)

	logger.Debug("websocket connected")
	defer logger.Debug("websocket disconnected")

	// The client only sends control frames; reading detects the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("websocket closed unexpectedly", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return
			}
			data, err := json.Marshal(&download.Message{Type: download.MessageSnapshot, Payload: snapshot})
			if err != nil {
				logger.Error("failed to encode snapshot", zap.Error(err))
				return
			}
			if !writeMessage(conn, websocket.TextMessage, data) {
				return
			}

		case data, ok := <-client.SendChan:
			if !ok {
				return
			}
			if !writeMessage(conn, websocket.TextMessage, data) {
				return
			}

		case <-ticker.C:
			if !writeMessage(conn, websocket.PingMessage, nil) {
				return
			}

		case <-done:
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, messageType int, data []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data) == nil
}
