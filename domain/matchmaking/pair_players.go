package matchmaking

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/playmesh/arena-matchmaker/domain/entities"
	"github.com/playmesh/arena-matchmaker/domain/queue"
)

// EventSink receives the outcome of every concluded match attempt, for
// telemetry and downstream services.
type EventSink interface {
	PublishMatchResult(ctx context.Context, result entities.MatchResult) error
}

// PairPlayersUseCase is the background pairing pass: drain every currently
// pairable couple out of the queue and run a match attempt for each. It is
// scheduled on a fixed interval by the server binary.
type PairPlayersUseCase struct {
	queue   *queue.Manager
	creator *MatchCreator
	events  EventSink
}

func NewPairPlayersUseCase(queueManager *queue.Manager, creator *MatchCreator, events EventSink) *PairPlayersUseCase {
	return &PairPlayersUseCase{queue: queueManager, creator: creator, events: events}
}

// PairPlayers runs match attempts until no category has two waiting tickets
// left. Attempt failures are contained in their MatchResult and never abort
// the pass. The pass is bounded by the number of pairs present when it
// started: a rollback that re-queues both players must wait for the next
// tick instead of being retried within the same pass.
func (u *PairPlayersUseCase) PairPlayers(ctx context.Context) error {
	budget := u.queue.Size() / 2
	attempts := 0
	for attempts < budget {
		pair := u.queue.FindMatch()
		if pair == nil {
			break
		}
		attempts++

		result := u.creator.CreateMatch(ctx, pair)

		if err := u.events.PublishMatchResult(ctx, result); err != nil {
			log.Warn().Err(err).Str("category", pair.Category).Msg("pairing: failed to publish match event")
		}
	}

	if attempts > 0 {
		log.Info().Int("attempts", attempts).Msg("pairing: pass complete")
	}
	return nil
}
