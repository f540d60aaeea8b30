package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is one client message on the chat socket. A missing session_id
// uses the session assigned at connect.
type wsMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// handleWebsocket runs the streaming chat channel: one response per client
// message, in order. The server assigns a session id at connect and announces
// it before the first exchange.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	s.logger.Info("websocket session started", zap.String("session_id", sessionID))
	if err := conn.WriteJSON(map[string]string{
		"action":     "session_created",
		"session_id": sessionID,
	}); err != nil {
		return
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Info("websocket client disconnected",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		resp := models.ChatResponse{SessionID: sessionID}
		if msg.SessionID != "" {
			resp.SessionID = msg.SessionID
		}
		if msg.Message == "" {
			resp.Error = "message cannot be empty"
		} else {
			answer, err := s.manager.ProcessMessage(r.Context(), msg.Message, resp.SessionID)
			if err != nil {
				s.logger.Error("websocket chat failed",
					zap.String("session_id", resp.SessionID), zap.Error(err))
				resp.Error = err.Error()
			} else {
				resp.Response = answer
			}
		}
		if err := conn.WriteJSON(&resp); err != nil {
			s.logger.Warn("websocket write failed",
				zap.String("session_id", resp.SessionID), zap.Error(err))
			return
		}
	}
}
