package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/playmesh/arena-matchmaker/domain/entities"
)

// PingSender delivers a heartbeat ping to a player's live connection. A
// synchronous failure counts as a missed heartbeat.
type PingSender interface {
	SendPing(userID string, timestamp int64) error
}

type MonitorConfig struct {
	PingInterval    time.Duration // time between ping passes
	MissedThreshold int           // consecutive misses before a player is stale
	SweepInterval   time.Duration // time between stale sweeps
	StaleBuffer     int           // capacity of the stale event channel
}

// Monitor tracks ping/pong liveness for every queued player. It never removes
// a stale player itself; it only publishes the user id on the Stale channel
// and leaves the removal policy to the subscriber.
type Monitor struct {
	mu       sync.Mutex
	statuses map[string]*entities.HeartbeatStatus

	sender PingSender
	clock  clockwork.Clock
	cfg    MonitorConfig
	stale  chan string
}

func NewMonitor(sender PingSender, clock clockwork.Clock, cfg MonitorConfig) *Monitor {
	if cfg.StaleBuffer <= 0 {
		cfg.StaleBuffer = 64
	}
	return &Monitor{
		statuses: make(map[string]*entities.HeartbeatStatus),
		sender:   sender,
		clock:    clock,
		cfg:      cfg,
		stale:    make(chan string, cfg.StaleBuffer),
	}
}

// Stale is the stream of players that have missed enough heartbeats to be
// presumed dead. Each stale player is re-announced every sweep until a
// subscriber unregisters them.
func (m *Monitor) Stale() <-chan string {
	return m.stale
}

// RegisterPlayer starts tracking a player. No-op if already registered.
func (m *Monitor) RegisterPlayer(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.statuses[userID]; exists {
		return
	}
	m.statuses[userID] = &entities.HeartbeatStatus{UserID: userID}
}

// UnregisterPlayer stops tracking a player. No-op if not registered.
func (m *Monitor) UnregisterPlayer(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, userID)
}

// RecordPong marks the player alive. It shares the monitor mutex with the
// ping pass so a pong answering an old ping can never be misread as covering
// a newer one.
func (m *Monitor) RecordPong(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, exists := m.statuses[userID]
	if !exists {
		return
	}
	status.LastPongReceivedAt = m.clock.Now()
	status.MissedCount = 0
	status.IsStale = false
}

// Status returns a copy of the player's liveness record.
func (m *Monitor) Status(userID string) (entities.HeartbeatStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, exists := m.statuses[userID]
	if !exists {
		return entities.HeartbeatStatus{}, false
	}
	return *status, true
}

// Start runs the ping and stale-sweep loops until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.pingLoop(ctx)
	go m.sweepLoop(ctx)
}

func (m *Monitor) pingLoop(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.pingPass()
		}
	}
}

// pingPass is one full heartbeat cycle: score the previous ping, then issue a
// new one. All bookkeeping happens under the mutex; the blocking sends do not.
func (m *Monitor) pingPass() {
	now := m.clock.Now()

	m.mu.Lock()
	toPing := make([]string, 0, len(m.statuses))
	for userID, status := range m.statuses {
		if !status.LastPingSentAt.IsZero() && status.LastPongReceivedAt.Before(status.LastPingSentAt) {
			// The previous ping was never answered, or the only pong on
			// record predates it.
			m.recordMissLocked(status)
		}
		status.LastPingSentAt = now
		toPing = append(toPing, userID)
	}
	m.mu.Unlock()

	var failed []string
	for _, userID := range toPing {
		if err := m.sender.SendPing(userID, now.Unix()); err != nil {
			failed = append(failed, userID)
		}
	}

	if len(failed) == 0 {
		return
	}

	m.mu.Lock()
	for _, userID := range failed {
		if status, exists := m.statuses[userID]; exists {
			m.recordMissLocked(status)
		}
	}
	m.mu.Unlock()
}

// recordMissLocked increments the miss count and flips the stale flag at the
// threshold. Caller holds m.mu.
func (m *Monitor) recordMissLocked(status *entities.HeartbeatStatus) {
	status.MissedCount++
	if status.MissedCount >= m.cfg.MissedThreshold && !status.IsStale {
		status.IsStale = true
		log.Warn().
			Str("userId", status.UserID).
			Int("missedCount", status.MissedCount).
			Msg("heartbeat: player marked stale")
	}
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	m.mu.Lock()
	var staleIDs []string
	for userID, status := range m.statuses {
		if status.IsStale {
			staleIDs = append(staleIDs, userID)
		}
	}
	m.mu.Unlock()

	for _, userID := range staleIDs {
		select {
		case m.stale <- userID:
		default:
			log.Warn().Str("userId", userID).Msg("heartbeat: stale channel full, event dropped until next sweep")
		}
	}
}
