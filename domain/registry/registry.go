package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// Admission rejection reasons, machine-readable so clients can degrade
// gracefully instead of being silently dropped.
const (
	RejectReason_MaxTotal    = "max_total_connections_reached"
	RejectReason_MaxPerGroup = "max_group_connections_reached"
)

type Config struct {
	MaxTotalConnections int
	MaxPerGroup         int
}

type Stats struct {
	TotalConnections    int            `json:"totalConnections"`
	GroupCounts         map[string]int `json:"groupCounts"`
	MaxTotalConnections int            `json:"maxTotalConnections"`
	MaxPerGroup         int            `json:"maxPerGroup"`
}

// conn wraps a websocket with a write lock; gorilla allows only one
// concurrent writer per connection.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// Registry tracks every live player connection and the group (session) each
// one belongs to, and enforces the connection caps.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	groups map[string]map[string]struct{}
	cfg    Config
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		conns:  make(map[string]*conn),
		groups: make(map[string]map[string]struct{}),
		cfg:    cfg,
	}
}

// CanAcceptConnection reports whether a new connection for the given group
// would fit under the caps, and a machine-readable reason when it would not.
// An empty group key checks only the total cap.
func (r *Registry) CanAcceptConnection(group string) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.cfg.MaxTotalConnections > 0 && len(r.conns) >= r.cfg.MaxTotalConnections {
		return false, RejectReason_MaxTotal
	}
	if group != "" && r.cfg.MaxPerGroup > 0 && len(r.groups[group]) >= r.cfg.MaxPerGroup {
		return false, RejectReason_MaxPerGroup
	}
	return true, ""
}

// Add registers a user's websocket. An existing connection for the same user
// is closed and replaced.
func (r *Registry) Add(userID string, ws *websocket.Conn) {
	r.mu.Lock()
	old, existed := r.conns[userID]
	r.conns[userID] = &conn{ws: ws}
	r.mu.Unlock()

	if existed && old.ws != nil {
		old.ws.Close()
		log.Info().Str("userId", userID).Msg("registry: replaced existing connection")
	}
}

// Remove drops the user's connection and group memberships. Safe to call for
// unknown users.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	c, existed := r.conns[userID]
	delete(r.conns, userID)
	for group, members := range r.groups {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	r.mu.Unlock()

	if existed && c.ws != nil {
		c.ws.Close()
	}
}

func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, connected := r.conns[userID]
	return connected
}

// JoinGroup adds a connected user to a group (session). Returns false with a
// reason if the group is at capacity.
func (r *Registry) JoinGroup(group, userID string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxPerGroup > 0 && len(r.groups[group]) >= r.cfg.MaxPerGroup {
		return false, RejectReason_MaxPerGroup
	}
	if r.groups[group] == nil {
		r.groups[group] = make(map[string]struct{})
	}
	r.groups[group][userID] = struct{}{}
	return true, ""
}

func (r *Registry) LeaveGroup(group, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[group], userID)
	if len(r.groups[group]) == 0 {
		delete(r.groups, group)
	}
}

// SendToUser delivers a JSON payload to one user. Returns false when the user
// is not connected or the write fails; a failed connection is evicted.
func (r *Registry) SendToUser(userID string, payload any) bool {
	r.mu.RLock()
	c, connected := r.conns[userID]
	r.mu.RUnlock()

	if !connected {
		return false
	}

	if err := c.writeJSON(payload); err != nil {
		log.Warn().Str("userId", userID).Err(err).Msg("registry: send failed, evicting connection")
		r.Remove(userID)
		return false
	}
	return true
}

// BroadcastToGroup delivers a JSON payload to every member of a group and
// returns the number of successful sends.
func (r *Registry) BroadcastToGroup(group string, payload any) int {
	r.mu.RLock()
	members := make([]string, 0, len(r.groups[group]))
	for userID := range r.groups[group] {
		members = append(members, userID)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, userID := range members {
		if r.SendToUser(userID, payload) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groupCounts := make(map[string]int, len(r.groups))
	for group, members := range r.groups {
		groupCounts[group] = len(members)
	}
	return Stats{
		TotalConnections:    len(r.conns),
		GroupCounts:         groupCounts,
		MaxTotalConnections: r.cfg.MaxTotalConnections,
		MaxPerGroup:         r.cfg.MaxPerGroup,
	}
}
