package entities

import (
	"encoding/json"
	"time"
)

type TicketStatus string

const (
	TicketStatus_Waiting   TicketStatus = "waiting"
	TicketStatus_Matched   TicketStatus = "matched"
	TicketStatus_Expired   TicketStatus = "expired"
	TicketStatus_Cancelled TicketStatus = "cancelled"
)

// Ticket is a single player's queue membership. A player holds at most one
// active ticket at a time, across all categories.
type Ticket struct {
	ID                string       `json:"id"`
	PlayerID          string       `json:"playerId"`
	PlayerDisplayName string       `json:"playerDisplayName"`
	Category          string       `json:"category"`
	MapOrVariant      string       `json:"mapOrVariant"`
	QueuedAt          int64        `json:"queuedAt"`
	Status            TicketStatus `json:"status"`
}

func (t Ticket) MarshalBinary() (data []byte, err error) {
	bytes, err := json.Marshal(t)
	return bytes, err
}

// WaitSeconds reports how long the ticket has been queued as of now.
func (t Ticket) WaitSeconds(now time.Time) int64 {
	return now.Unix() - t.QueuedAt
}

// CooldownInfo is a temporary ban on re-entering the queue.
type CooldownInfo struct {
	Until  int64  `json:"until"`
	Reason string `json:"reason"`
}

func (c CooldownInfo) RemainingSeconds(now time.Time) int64 {
	remaining := c.Until - now.Unix()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c CooldownInfo) Active(now time.Time) bool {
	return c.RemainingSeconds(now) > 0
}
