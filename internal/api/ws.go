package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/fruitvision/vision-server/internal/logger"
	"github.com/fruitvision/vision-server/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// same permissive policy as the HTTP CORS middleware
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("api", "websocket upgrade failed: %v", err)
		return
	}

	session, err := s.registry.Add(conn)
	if err != nil {
		if errors.Is(err, relay.ErrRegistryFull) {
			conn.WriteJSON(map[string]any{"success": false, "error": err.Error()})
		}
		conn.Close()
		return
	}

	logger.Info("api", "session %s connected from %s", session.ID, r.RemoteAddr)
	defer func() {
		s.registry.Remove(session)
		conn.Close()
		logger.Info("api", "session %s disconnected (%d frames processed)", session.ID, session.FramesProcessed())
	}()

	s.loop.Run(session)
}
