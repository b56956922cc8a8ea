package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("lobby: session not found")

// Session is the joint game lobby a matched pair plays in.
type Session struct {
	Code         string   `json:"code"`
	HostID       string   `json:"hostId"`
	Category     string   `json:"category"`
	Variant      string   `json:"variant"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"createdAt"`
}

// Service is the lobby contract the match creator drives: create a session
// hosted by one player, add the opponent, and tear members back out on
// rollback.
type Service interface {
	CreateSession(ctx context.Context, hostID, category, variant string) (string, error)
	AddParticipant(ctx context.Context, code, playerID string) (*Session, error)
	RemoveParticipant(ctx context.Context, code, playerID string) error
}

type RedisServiceRedisGateway interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisServiceConfig struct {
	SessionExpiration time.Duration
}

// RedisService stores sessions as JSON values with a TTL, shared across
// instances the same way the ticket log is.
type RedisService struct {
	redisGateway RedisServiceRedisGateway
	cfg          RedisServiceConfig
}

func NewRedisService(redisGateway RedisServiceRedisGateway, cfg RedisServiceConfig) *RedisService {
	return &RedisService{redisGateway: redisGateway, cfg: cfg}
}

func sessionKey(code string) string {
	return fmt.Sprintf("lobby:session:%s", code)
}

func (s *RedisService) CreateSession(ctx context.Context, hostID, category, variant string) (string, error) {
	code := strings.ToUpper(uuid.New().String()[:8])
	session := Session{
		Code:         code,
		HostID:       hostID,
		Category:     category,
		Variant:      variant,
		Participants: []string{hostID},
		CreatedAt:    time.Now().Unix(),
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return "", err
	}
	if err := s.redisGateway.Set(ctx, sessionKey(code), raw, s.cfg.SessionExpiration).Err(); err != nil {
		return "", err
	}
	return code, nil
}

func (s *RedisService) load(ctx context.Context, code string) (*Session, error) {
	raw, err := s.redisGateway.Get(ctx, sessionKey(code)).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *RedisService) save(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.redisGateway.Set(ctx, sessionKey(session.Code), raw, s.cfg.SessionExpiration).Err()
}

func (s *RedisService) AddParticipant(ctx context.Context, code, playerID string) (*Session, error) {
	session, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}

	for _, existing := range session.Participants {
		if existing == playerID {
			return session, nil
		}
	}
	session.Participants = append(session.Participants, playerID)

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *RedisService) RemoveParticipant(ctx context.Context, code, playerID string) error {
	session, err := s.load(ctx, code)
	if err == ErrSessionNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	kept := session.Participants[:0]
	for _, existing := range session.Participants {
		if existing != playerID {
			kept = append(kept, existing)
		}
	}
	session.Participants = kept

	// An empty session is torn down rather than left to expire.
	if len(session.Participants) == 0 {
		return s.redisGateway.Del(ctx, sessionKey(code)).Err()
	}
	return s.save(ctx, session)
}
