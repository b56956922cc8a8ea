package entities

// Message types pushed to players over their live connection.
const (
	MessageType_MatchFound     = "match_found"
	MessageType_MatchCancelled = "match_cancelled"
	MessageType_HeartbeatPing  = "heartbeat_ping"
	MessageType_HeartbeatPong  = "heartbeat_pong"
	MessageType_HealthPing     = "health_ping"
	MessageType_HealthPong     = "health_pong"
)

type MatchFoundPayload struct {
	Type         string `json:"type"`
	SessionCode  string `json:"sessionCode"`
	OpponentID   string `json:"opponentId"`
	OpponentName string `json:"opponentName"`
	Variant      string `json:"variant"`
}

type MatchCancelledPayload struct {
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type HeartbeatPingPayload struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ClientMessage is the envelope for everything a client sends upstream.
type ClientMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
