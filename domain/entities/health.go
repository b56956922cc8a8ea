package entities

import "time"

// HeartbeatStatus is the per-queued-player liveness record, owned exclusively
// by the heartbeat monitor.
type HeartbeatStatus struct {
	UserID             string
	LastPingSentAt     time.Time
	LastPongReceivedAt time.Time
	MissedCount        int
	IsStale            bool
}

type HealthFailureReason string

const (
	HealthFailure_NotConnected HealthFailureReason = "not_connected"
	HealthFailure_PingTimeout  HealthFailureReason = "ping_timeout"
	HealthFailure_SendFailed   HealthFailureReason = "send_failed"
)

// HealthCheckResult is the outcome of one on-demand liveness probe.
type HealthCheckResult struct {
	UserID        string
	Healthy       bool
	LatencyMs     int64
	FailureReason HealthFailureReason
	CheckedAt     time.Time
}
