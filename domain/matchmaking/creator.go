package matchmaking

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/playmesh/arena-matchmaker/domain/entities"
	"github.com/playmesh/arena-matchmaker/domain/health"
	"github.com/playmesh/arena-matchmaker/domain/lobby"
	"github.com/playmesh/arena-matchmaker/domain/queue"
)

// Failure reasons surfaced in MatchResult.
const (
	FailureReason_PlayerUnhealthy = "player_unhealthy"
	FailureReason_BothUnhealthy   = "both_players_unhealthy"
	FailureReason_Notification    = "notification_failed"
)

// Cancellation reasons pushed to players when an attempt unwinds.
const (
	CancelReason_OpponentDisconnected = "opponent_disconnected"
	CancelReason_SessionFailed        = "session_creation_failed"
)

// Notifier pushes a payload to a player's live connection. False means not
// connected or the send failed.
type Notifier interface {
	SendToUser(userID string, payload any) bool
}

// TicketLog is the durable side of the attempt: status transitions are
// write-through, never consulted mid-attempt.
type TicketLog interface {
	UpdateTicketStatus(ctx context.Context, playerID string, status entities.TicketStatus) error
}

// Requeuer restores a rolled-back ticket to its original queue position.
type Requeuer interface {
	AddWithPosition(ctx context.Context, ticket *entities.Ticket, position int) error
}

// LivenessRegistrar releases players from heartbeat tracking once they leave
// the queue for good.
type LivenessRegistrar interface {
	UnregisterPlayer(userID string)
}

type MatchCreatorConfig struct {
	NotifyAttempts   int
	NotifyRetryDelay time.Duration
}

// MatchCreator turns a reserved pair of tickets into a joint session with no
// dangling state on any failure path. Two phases: a health gate, then a
// commit with compensating rollback. The deliberate asymmetry: a healthy,
// reachable player is always informed and returned to the queue; a player who
// appears to have vanished is never re-queued, so no ghost tickets.
type MatchCreator struct {
	checker  health.Checker
	lobby    lobby.Service
	notifier Notifier
	store    TicketLog
	queue    Requeuer
	liveness LivenessRegistrar
	clock    clockwork.Clock
	cfg      MatchCreatorConfig
}

func NewMatchCreator(
	checker health.Checker,
	lobbyService lobby.Service,
	notifier Notifier,
	store TicketLog,
	requeuer Requeuer,
	liveness LivenessRegistrar,
	clock clockwork.Clock,
	cfg MatchCreatorConfig,
) *MatchCreator {
	if cfg.NotifyAttempts <= 0 {
		cfg.NotifyAttempts = 3
	}
	if cfg.NotifyRetryDelay <= 0 {
		cfg.NotifyRetryDelay = 300 * time.Millisecond
	}
	return &MatchCreator{
		checker:  checker,
		lobby:    lobbyService,
		notifier: notifier,
		store:    store,
		queue:    requeuer,
		liveness: liveness,
		clock:    clock,
		cfg:      cfg,
	}
}

// CreateMatch runs one full match attempt for a reserved pair. Every failure
// is contained here and folded into the returned MatchResult; the pairing
// loop never sees an error from an attempt.
func (c *MatchCreator) CreateMatch(ctx context.Context, pair *queue.ReservedPair) entities.MatchResult {
	result := entities.MatchResult{
		Player1ID: pair.Ticket1.PlayerID,
		Player2ID: pair.Ticket2.PlayerID,
		Category:  pair.Category,
	}

	// Phase 1: health gate. Both probes must pass before any session state
	// is created.
	bothHealthy, check1, check2 := c.checker.VerifyBothHealthy(ctx, pair.Ticket1.PlayerID, pair.Ticket2.PlayerID)
	if !bothHealthy {
		return c.resolveHealthGate(ctx, pair, check1, check2, result)
	}

	return c.commit(ctx, pair, result)
}

// resolveHealthGate unwinds an attempt that failed the health gate: the
// healthy side (if any) goes back to its original queue position with a
// cancellation notice, the unhealthy side is marked terminal.
func (c *MatchCreator) resolveHealthGate(ctx context.Context, pair *queue.ReservedPair, check1, check2 entities.HealthCheckResult, result entities.MatchResult) entities.MatchResult {
	if !check1.Healthy && !check2.Healthy {
		result.FailureReason = FailureReason_BothUnhealthy
		c.markVanished(ctx, pair.Ticket1)
		c.markVanished(ctx, pair.Ticket2)
		log.Info().
			Str("player1Id", pair.Ticket1.PlayerID).
			Str("player2Id", pair.Ticket2.PlayerID).
			Msg("match: both players unhealthy, attempt abandoned")
		return result
	}

	healthyTicket, healthyIndex := pair.Ticket1, pair.Index1
	vanishedTicket := pair.Ticket2
	if !check1.Healthy {
		healthyTicket, healthyIndex = pair.Ticket2, pair.Index2
		vanishedTicket = pair.Ticket1
	}

	c.markVanished(ctx, vanishedTicket)
	c.requeue(ctx, healthyTicket, healthyIndex, CancelReason_OpponentDisconnected)

	result.FailureReason = FailureReason_PlayerUnhealthy
	result.RollbackPerformed = true
	result.RequeuedPlayerID = healthyTicket.PlayerID
	return result
}

// commit is phase 2: persist the matched status, stand up the session, then
// notify both players concurrently with retries. Any failure rolls the whole
// attempt back.
func (c *MatchCreator) commit(ctx context.Context, pair *queue.ReservedPair, result entities.MatchResult) entities.MatchResult {
	if err := multierr.Combine(
		c.store.UpdateTicketStatus(ctx, pair.Ticket1.PlayerID, entities.TicketStatus_Matched),
		c.store.UpdateTicketStatus(ctx, pair.Ticket2.PlayerID, entities.TicketStatus_Matched),
	); err != nil {
		return c.rollbackTotal(ctx, pair, result, err)
	}

	code, err := c.lobby.CreateSession(ctx, pair.Ticket1.PlayerID, pair.Category, pair.Ticket1.MapOrVariant)
	if err != nil {
		return c.rollbackTotal(ctx, pair, result, err)
	}
	result.SessionCode = code

	if _, err := c.lobby.AddParticipant(ctx, code, pair.Ticket2.PlayerID); err != nil {
		c.teardownSession(ctx, code, pair)
		return c.rollbackTotal(ctx, pair, result, err)
	}

	var notified1, notified2 bool
	var wg conc.WaitGroup
	wg.Go(func() {
		notified1 = c.notifyWithRetry(pair.Ticket1.PlayerID, matchFoundPayload(code, pair.Ticket2, pair.Ticket1.MapOrVariant))
	})
	wg.Go(func() {
		notified2 = c.notifyWithRetry(pair.Ticket2.PlayerID, matchFoundPayload(code, pair.Ticket1, pair.Ticket2.MapOrVariant))
	})
	wg.Wait()

	result.Player1Notified = notified1
	result.Player2Notified = notified2

	if notified1 && notified2 {
		c.liveness.UnregisterPlayer(pair.Ticket1.PlayerID)
		c.liveness.UnregisterPlayer(pair.Ticket2.PlayerID)
		result.Success = true
		log.Info().
			Str("sessionCode", code).
			Str("player1Id", pair.Ticket1.PlayerID).
			Str("player2Id", pair.Ticket2.PlayerID).
			Str("category", pair.Category).
			Msg("match: session committed")
		return result
	}

	return c.rollbackNotification(ctx, pair, result)
}

// rollbackNotification unwinds a committed session after a partial or total
// notification failure. The player who did hear about the match is re-queued
// and told why; the one who did not is presumed gone.
func (c *MatchCreator) rollbackNotification(ctx context.Context, pair *queue.ReservedPair, result entities.MatchResult) entities.MatchResult {
	c.teardownSession(ctx, result.SessionCode, pair)

	switch {
	case result.Player1Notified && !result.Player2Notified:
		c.markVanished(ctx, pair.Ticket2)
		c.requeue(ctx, pair.Ticket1, pair.Index1, CancelReason_OpponentDisconnected)
		result.RequeuedPlayerID = pair.Ticket1.PlayerID
	case result.Player2Notified && !result.Player1Notified:
		c.markVanished(ctx, pair.Ticket1)
		c.requeue(ctx, pair.Ticket2, pair.Index2, CancelReason_OpponentDisconnected)
		result.RequeuedPlayerID = pair.Ticket2.PlayerID
	default:
		// Neither player was reachable; both presumed gone.
		c.markVanished(ctx, pair.Ticket1)
		c.markVanished(ctx, pair.Ticket2)
	}

	result.FailureReason = FailureReason_Notification
	result.RollbackPerformed = true
	log.Warn().
		Str("sessionCode", result.SessionCode).
		Bool("player1Notified", result.Player1Notified).
		Bool("player2Notified", result.Player2Notified).
		Msg("match: notification failed, session rolled back")
	return result
}

// rollbackTotal handles a repository or lobby error mid-commit: both players
// are re-queued at their original positions and told the session failed.
func (c *MatchCreator) rollbackTotal(ctx context.Context, pair *queue.ReservedPair, result entities.MatchResult, cause error) entities.MatchResult {
	c.requeue(ctx, pair.Ticket1, pair.Index1, CancelReason_SessionFailed)
	c.requeue(ctx, pair.Ticket2, pair.Index2, CancelReason_SessionFailed)

	result.FailureReason = cause.Error()
	result.RollbackPerformed = true
	log.Error().
		Err(cause).
		Str("player1Id", pair.Ticket1.PlayerID).
		Str("player2Id", pair.Ticket2.PlayerID).
		Msg("match: session creation failed, both players re-queued")
	return result
}

// teardownSession removes both players from a created session, best effort.
func (c *MatchCreator) teardownSession(ctx context.Context, code string, pair *queue.ReservedPair) {
	if code == "" {
		return
	}
	err := multierr.Append(
		c.lobby.RemoveParticipant(ctx, code, pair.Ticket1.PlayerID),
		c.lobby.RemoveParticipant(ctx, code, pair.Ticket2.PlayerID),
	)
	if err != nil {
		log.Warn().Str("sessionCode", code).Err(err).Msg("match: session teardown incomplete")
	}
}

// requeue restores a ticket to its original position and tells the player why
// the match fell through.
func (c *MatchCreator) requeue(ctx context.Context, ticket *entities.Ticket, position int, reason string) {
	if err := c.queue.AddWithPosition(ctx, ticket, position); err != nil {
		log.Error().Str("playerId", ticket.PlayerID).Err(err).Msg("match: re-queue failed")
	}
	c.notifier.SendToUser(ticket.PlayerID, entities.MatchCancelledPayload{
		Type:      entities.MessageType_MatchCancelled,
		Reason:    reason,
		Timestamp: c.clock.Now().Unix(),
	})
}

// markVanished marks a presumed-gone player's ticket terminal and releases
// their heartbeat slot. Re-queueing them would create a ghost ticket that can
// never match.
func (c *MatchCreator) markVanished(ctx context.Context, ticket *entities.Ticket) {
	if err := c.store.UpdateTicketStatus(ctx, ticket.PlayerID, entities.TicketStatus_Expired); err != nil {
		log.Warn().Str("playerId", ticket.PlayerID).Err(err).Msg("match: failed to mark vanished ticket")
	}
	c.liveness.UnregisterPlayer(ticket.PlayerID)
}

func (c *MatchCreator) notifyWithRetry(userID string, payload any) bool {
	for attempt := 0; attempt < c.cfg.NotifyAttempts; attempt++ {
		if attempt > 0 {
			c.clock.Sleep(c.cfg.NotifyRetryDelay)
		}
		if c.notifier.SendToUser(userID, payload) {
			return true
		}
	}
	return false
}

func matchFoundPayload(code string, opponent *entities.Ticket, variant string) entities.MatchFoundPayload {
	return entities.MatchFoundPayload{
		Type:         entities.MessageType_MatchFound,
		SessionCode:  code,
		OpponentID:   opponent.PlayerID,
		OpponentName: opponent.PlayerDisplayName,
		Variant:      variant,
	}
}
