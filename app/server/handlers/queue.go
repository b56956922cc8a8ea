package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/playmesh/arena-matchmaker/domain/entities"
)

type enqueueRequest struct {
	PlayerID          string `json:"playerId"`
	PlayerDisplayName string `json:"playerDisplayName"`
	Category          string `json:"category"`
	MapOrVariant      string `json:"mapOrVariant"`
}

type enqueueResponse struct {
	TicketID string `json:"ticketId"`
	Position int    `json:"position"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.PlayerID == "" || req.Category == "" {
		writeError(w, http.StatusBadRequest, "missing_player_or_category")
		return
	}

	ticket := &entities.Ticket{
		ID:                uuid.New().String(),
		PlayerID:          req.PlayerID,
		PlayerDisplayName: req.PlayerDisplayName,
		Category:          req.Category,
		MapOrVariant:      req.MapOrVariant,
		QueuedAt:          s.clock.Now().Unix(),
		Status:            entities.TicketStatus_Waiting,
	}

	added, err := s.queue.Add(r.Context(), ticket)
	if err != nil {
		log.Error().Err(err).Str("playerId", req.PlayerID).Msg("api: enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}
	if !added {
		// Duplicate ticket or active cooldown; both are synchronous rejections.
		writeError(w, http.StatusConflict, "already_queued_or_cooldown")
		return
	}

	position, _ := s.queue.GetPosition(req.PlayerID)
	writeJSON(w, http.StatusCreated, enqueueResponse{TicketID: ticket.ID, Position: position})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	// Cancellation only applies to waiting tickets; a reserved pair is undone
	// by the match attempt's own rollback paths.
	ticket := s.queue.Remove(playerID)
	if ticket == nil {
		writeError(w, http.StatusNotFound, "not_queued")
		return
	}

	if err := s.repo.UpdateTicketStatus(r.Context(), playerID, entities.TicketStatus_Cancelled); err != nil {
		log.Warn().Err(err).Str("playerId", playerID).Msg("api: failed to mark ticket cancelled")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(entities.TicketStatus_Cancelled)})
}

type queueStatusResponse struct {
	Queued      bool   `json:"queued"`
	Position    int    `json:"position,omitempty"`
	WaitSeconds int64  `json:"waitSeconds,omitempty"`
	Category    string `json:"category,omitempty"`
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	position, queued := s.queue.GetPosition(playerID)
	if !queued {
		writeJSON(w, http.StatusOK, queueStatusResponse{Queued: false})
		return
	}

	resp := queueStatusResponse{Queued: true, Position: position}
	if ticket, ok := s.queue.Get(playerID); ok {
		resp.WaitSeconds = ticket.WaitSeconds(s.clock.Now())
		resp.Category = ticket.Category
	}
	writeJSON(w, http.StatusOK, resp)
}

type cooldownRequest struct {
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	var req cooldownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	if err := s.repo.SetCooldown(r.Context(), playerID, req.Minutes, req.Reason); err != nil {
		log.Error().Err(err).Str("playerId", playerID).Msg("api: failed to set cooldown")
		writeError(w, http.StatusInternalServerError, "cooldown_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playerId": playerID, "minutes": req.Minutes})
}

type statsResponse struct {
	QueueSizes  map[string]int `json:"queueSizes"`
	QueueTotal  int            `json:"queueTotal"`
	Connections any            `json:"connections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		QueueSizes:  s.queue.SizeByCategory(),
		QueueTotal:  s.queue.Size(),
		Connections: s.registry.Stats(),
	})
}
