package entities

// MatchResult is the outcome of one atomic match attempt. It is built once
// per attempt and never mutated afterwards; callers use it for logging and
// telemetry only.
type MatchResult struct {
	Success           bool   `json:"success"`
	SessionCode       string `json:"sessionCode,omitempty"`
	Player1ID         string `json:"player1Id"`
	Player2ID         string `json:"player2Id"`
	Category          string `json:"category"`
	Player1Notified   bool   `json:"player1Notified"`
	Player2Notified   bool   `json:"player2Notified"`
	FailureReason     string `json:"failureReason,omitempty"`
	RollbackPerformed bool   `json:"rollbackPerformed"`
	RequeuedPlayerID  string `json:"requeuedPlayerId,omitempty"`
}
