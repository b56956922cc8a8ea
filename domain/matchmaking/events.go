package matchmaking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/playmesh/arena-matchmaker/domain/entities"
)

// Kafka message keys for the match lifecycle stream.
const (
	EventKey_MatchFound     = "match-found"
	EventKey_MatchCancelled = "match-cancelled"
)

// KafkaGateway is the slice of *kafka.Conn the publisher needs.
type KafkaGateway interface {
	SetWriteDeadline(t time.Time) error
	WriteMessages(msgs ...kafka.Message) (int, error)
}

type KafkaEventPublisherConfig struct {
	WriteTimeout time.Duration
}

// KafkaEventPublisher pushes every concluded match attempt onto the match
// lifecycle topic: successful commits under "match-found", rollbacks and
// abandoned attempts under "match-cancelled".
type KafkaEventPublisher struct {
	conn KafkaGateway
	cfg  KafkaEventPublisherConfig
}

func NewKafkaEventPublisher(conn KafkaGateway, cfg KafkaEventPublisherConfig) *KafkaEventPublisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &KafkaEventPublisher{conn: conn, cfg: cfg}
}

func (p *KafkaEventPublisher) PublishMatchResult(ctx context.Context, result entities.MatchResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	key := EventKey_MatchFound
	if !result.Success {
		key = EventKey_MatchCancelled
	}

	if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err = p.conn.WriteMessages(kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	return err
}
