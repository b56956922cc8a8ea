package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/playmesh/arena-matchmaker/domain/entities"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebsocket admits a player connection, registers it, and runs the read
// loop that feeds pongs back into the heartbeat monitor and health checker.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		writeError(w, http.StatusBadRequest, "missing_player_id")
		return
	}

	if ok, reason := s.registry.CanAcceptConnection(""); !ok {
		writeError(w, http.StatusServiceUnavailable, reason)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("playerId", playerID).Msg("ws: upgrade failed")
		return
	}

	s.registry.Add(playerID, conn)
	log.Info().Str("playerId", playerID).Msg("ws: player connected")

	go s.readLoop(playerID, conn)
}

func (s *Server) readLoop(playerID string, conn *websocket.Conn) {
	defer func() {
		s.registry.Remove(playerID)
		log.Info().Str("playerId", playerID).Msg("ws: player disconnected")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg entities.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case entities.MessageType_HeartbeatPong:
			s.monitor.RecordPong(playerID)
		case entities.MessageType_HealthPong:
			s.checker.RecordPong(playerID)
		}
	}
}
