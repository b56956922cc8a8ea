package matchmaking

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/playmesh/arena-matchmaker/domain/entities"
	"github.com/playmesh/arena-matchmaker/domain/queue"
)

// StaleTicketLog marks dropped tickets terminal in the durable log.
type StaleTicketLog interface {
	UpdateTicketStatus(ctx context.Context, playerID string, status entities.TicketStatus) error
}

// StaleWorker subscribes to the heartbeat monitor's stale stream and applies
// the removal policy: drop the dead player's ticket from the queue and mark
// it expired. Keeping this outside the monitor keeps the monitor free of
// queue knowledge.
type StaleWorker struct {
	queue *queue.Manager
	store StaleTicketLog
	stale <-chan string
}

func NewStaleWorker(queueManager *queue.Manager, store StaleTicketLog, stale <-chan string) *StaleWorker {
	return &StaleWorker{queue: queueManager, store: store, stale: stale}
}

// Run consumes stale events until the context is cancelled.
func (w *StaleWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-w.stale:
			w.dropPlayer(ctx, userID)
		}
	}
}

func (w *StaleWorker) dropPlayer(ctx context.Context, userID string) {
	ticket := w.queue.Remove(userID)
	if ticket == nil {
		// Already matched or removed between the sweep and this event.
		return
	}

	if err := w.store.UpdateTicketStatus(ctx, userID, entities.TicketStatus_Expired); err != nil {
		log.Warn().Str("playerId", userID).Err(err).Msg("stale: failed to mark dropped ticket expired")
	}
	log.Info().
		Str("playerId", userID).
		Str("category", ticket.Category).
		Msg("stale: dead connection removed from queue")
}
