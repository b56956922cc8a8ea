package health

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/playmesh/arena-matchmaker/domain/entities"
)

// Checker is the on-demand liveness probe consulted right before a match is
// committed, distinct from the periodic heartbeat monitor.
type Checker interface {
	VerifyHealthy(ctx context.Context, userID string) entities.HealthCheckResult
	VerifyBothHealthy(ctx context.Context, userA, userB string) (bool, entities.HealthCheckResult, entities.HealthCheckResult)
}

// ConnectionGateway is the slice of the connection registry the checker needs.
type ConnectionGateway interface {
	IsConnected(userID string) bool
	SendToUser(userID string, payload any) bool
}

type CheckerConfig struct {
	ProbeTimeout time.Duration
}

// RegistryChecker probes a player by sending a health ping over their live
// connection and waiting for the pong, with a bounded timeout so one bad
// connection can never stall the pairing loop.
type RegistryChecker struct {
	gateway ConnectionGateway
	clock   clockwork.Clock
	cfg     CheckerConfig

	mu      sync.Mutex
	waiters map[string]chan time.Time
}

func NewRegistryChecker(gateway ConnectionGateway, clock clockwork.Clock, cfg CheckerConfig) *RegistryChecker {
	return &RegistryChecker{
		gateway: gateway,
		clock:   clock,
		cfg:     cfg,
		waiters: make(map[string]chan time.Time),
	}
}

// RecordPong is called by the connection read loop when a health pong
// arrives. Pongs for users with no probe in flight are ignored.
func (c *RegistryChecker) RecordPong(userID string) {
	c.mu.Lock()
	waiter := c.waiters[userID]
	c.mu.Unlock()

	if waiter == nil {
		return
	}
	select {
	case waiter <- c.clock.Now():
	default:
	}
}

func (c *RegistryChecker) VerifyHealthy(ctx context.Context, userID string) entities.HealthCheckResult {
	result := entities.HealthCheckResult{
		UserID:    userID,
		CheckedAt: c.clock.Now(),
	}

	if !c.gateway.IsConnected(userID) {
		result.FailureReason = entities.HealthFailure_NotConnected
		return result
	}

	waiter := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters[userID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, userID)
		c.mu.Unlock()
	}()

	sentAt := c.clock.Now()
	ping := entities.HeartbeatPingPayload{
		Type:      entities.MessageType_HealthPing,
		Timestamp: sentAt.Unix(),
	}
	if !c.gateway.SendToUser(userID, ping) {
		result.FailureReason = entities.HealthFailure_SendFailed
		return result
	}

	select {
	case pongAt := <-waiter:
		result.Healthy = true
		result.LatencyMs = pongAt.Sub(sentAt).Milliseconds()
	case <-c.clock.After(c.cfg.ProbeTimeout):
		result.FailureReason = entities.HealthFailure_PingTimeout
	case <-ctx.Done():
		result.FailureReason = entities.HealthFailure_PingTimeout
	}

	if !result.Healthy {
		log.Info().
			Str("userId", userID).
			Str("reason", string(result.FailureReason)).
			Msg("health: probe failed")
	}
	return result
}

// VerifyBothHealthy probes both players concurrently so the slower connection
// bounds the gate, not the sum of the two.
func (c *RegistryChecker) VerifyBothHealthy(ctx context.Context, userA, userB string) (bool, entities.HealthCheckResult, entities.HealthCheckResult) {
	var resultA, resultB entities.HealthCheckResult

	var wg conc.WaitGroup
	wg.Go(func() {
		resultA = c.VerifyHealthy(ctx, userA)
	})
	wg.Go(func() {
		resultB = c.VerifyHealthy(ctx, userB)
	})
	wg.Wait()

	return resultA.Healthy && resultB.Healthy, resultA, resultB
}
