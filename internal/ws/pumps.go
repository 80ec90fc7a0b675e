package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

const maxMessageSize = 64 * 1024

func (h *Hub) ReadPump(s *Subscriber) {
	defer h.Disconnect(s)
	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	h.handlePong(s)
	for {
		_, msgBytes, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warn("WebSocket read failed", "id", s.ID, "err", err)
			}
			return
		}
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case s.IncomingCh <- msgBytes:
		case <-s.DisconnectCh:
			return
		}
	}
}

func (h *Hub) WritePump(s *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.SendCh:
			if !ok {
				s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				s.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Log.Error("Failed to marshal message", "id", s.ID, "type", msg.Type(), "err", err)
				continue
			}
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Log.Warn("WebSocket write failed", "id", s.ID, "err", err)
				h.Disconnect(s)
				return
			}
		case <-ticker.C:
			if err := h.sendPing(s); err != nil {
				logger.Log.Warn("⚠️ Ping failed", "id", s.ID, "err", err)
				h.Disconnect(s)
				return
			}
		}
	}
}

// ProcessorPump handles one subscriber's frames in arrival order.
func (h *Hub) ProcessorPump(s *Subscriber) {
	for {
		select {
		case raw := <-s.IncomingCh:
			h.ProcessMessage(s, raw)
		case <-s.DisconnectCh:
			return
		}
	}
}
