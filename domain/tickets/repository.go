package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/playmesh/arena-matchmaker/domain/entities"
)

// RepositoryRedisGateway is the slice of the redis client the repository needs.
type RepositoryRedisGateway interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HScan(ctx context.Context, key string, cursor uint64, match string, count int64) *redis.ScanCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZScore(ctx context.Context, key, member string) *redis.FloatCmd
}

type RepositoryConfig struct {
	TicketsRedisSetName string
	TicketMaxAge        time.Duration
	CountPerIteration   int64
}

// Repository is the durable, write-through copy of matchmaking state: tickets,
// cooldowns and MMR. During normal operation the in-memory queue is the source
// of truth; the repository is read back only at startup recovery and for
// cooldown/MMR lookups.
type Repository struct {
	redisGateway RepositoryRedisGateway
	cfg          RepositoryConfig
}

func NewRepository(redisGateway RepositoryRedisGateway, cfg RepositoryConfig) *Repository {
	return &Repository{redisGateway: redisGateway, cfg: cfg}
}

func (r *Repository) SaveTicket(ctx context.Context, ticket *entities.Ticket) error {
	return r.redisGateway.HSet(ctx, r.cfg.TicketsRedisSetName, ticket.PlayerID, ticket).Err()
}

func (r *Repository) DeleteTicket(ctx context.Context, playerID string) error {
	return r.redisGateway.HDel(ctx, r.cfg.TicketsRedisSetName, playerID).Err()
}

func (r *Repository) UpdateTicketStatus(ctx context.Context, playerID string, status entities.TicketStatus) error {
	raw, err := r.redisGateway.HGet(ctx, r.cfg.TicketsRedisSetName, playerID).Result()
	if err != nil {
		return err
	}

	var ticket entities.Ticket
	if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
		return err
	}

	ticket.Status = status
	return r.redisGateway.HSet(ctx, r.cfg.TicketsRedisSetName, playerID, ticket).Err()
}

// GetActiveTickets returns every persisted ticket that is still waiting and
// younger than the max age. Used once, at process startup, to rebuild the
// in-memory queue after a restart.
func (r *Repository) GetActiveTickets(ctx context.Context) ([]*entities.Ticket, error) {
	var cursor uint64
	var active []*entities.Ticket

	for {
		result := r.redisGateway.HScan(ctx, r.cfg.TicketsRedisSetName, cursor, "", r.cfg.CountPerIteration)
		fields, next, err := result.Result()
		if err != nil {
			return nil, err
		}

		for i := 0; i < len(fields); i += 2 {
			var ticket entities.Ticket
			if err := json.Unmarshal([]byte(fields[i+1]), &ticket); err != nil {
				log.Warn().Str("playerId", fields[i]).Err(err).Msg("repository: skipping unreadable ticket row")
				continue
			}

			if ticket.Status != entities.TicketStatus_Waiting {
				continue
			}
			if time.Now().Unix() > ticket.QueuedAt+int64(r.cfg.TicketMaxAge.Seconds()) {
				continue
			}
			active = append(active, &ticket)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return active, nil
}

// CleanupExpiredTickets deletes every ticket older than the max age and
// returns how many were removed. Age is the only criterion: waiting rows
// this old can no longer match, and terminal rows (matched, cancelled,
// expired) would otherwise accumulate in the hash forever.
func (r *Repository) CleanupExpiredTickets(ctx context.Context) (int, error) {
	var cursor uint64
	removed := 0

	for {
		result := r.redisGateway.HScan(ctx, r.cfg.TicketsRedisSetName, cursor, "", r.cfg.CountPerIteration)
		fields, next, err := result.Result()
		if err != nil {
			return removed, err
		}

		for i := 0; i < len(fields); i += 2 {
			var ticket entities.Ticket
			if err := json.Unmarshal([]byte(fields[i+1]), &ticket); err != nil {
				continue
			}

			if time.Now().Unix() <= ticket.QueuedAt+int64(r.cfg.TicketMaxAge.Seconds()) {
				continue
			}

			if err := r.redisGateway.HDel(ctx, r.cfg.TicketsRedisSetName, ticket.PlayerID).Err(); err != nil {
				return removed, err
			}
			removed++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

func cooldownKey(playerID string) string {
	return fmt.Sprintf("matchmaking:cooldown:%s", playerID)
}

// GetCooldown returns the active cooldown for a player, or nil when none is set.
func (r *Repository) GetCooldown(ctx context.Context, playerID string) (*entities.CooldownInfo, error) {
	raw, err := r.redisGateway.Get(ctx, cooldownKey(playerID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var info entities.CooldownInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetCooldown bans a player from re-entering the queue for the given number of
// minutes. The key carries its own TTL so stale cooldowns clean themselves up.
func (r *Repository) SetCooldown(ctx context.Context, playerID string, minutes int, reason string) error {
	ttl := time.Duration(minutes) * time.Minute
	info := entities.CooldownInfo{
		Until:  time.Now().Add(ttl).Unix(),
		Reason: reason,
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.redisGateway.Set(ctx, cooldownKey(playerID), raw, ttl).Err()
}

func mmrKey(category string) string {
	return fmt.Sprintf("matchmaking:mmr:%s", category)
}

// SetMMR stores a player's rating for a category. Pairing stays strict FIFO;
// the rating is carried for the surrounding score/progression services.
func (r *Repository) SetMMR(ctx context.Context, category, playerID string, rating float64) error {
	return r.redisGateway.ZAdd(ctx, mmrKey(category), redis.Z{Score: rating, Member: playerID}).Err()
}

func (r *Repository) GetMMR(ctx context.Context, category, playerID string) (float64, error) {
	rating, err := r.redisGateway.ZScore(ctx, mmrKey(category), playerID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	return rating, err
}
