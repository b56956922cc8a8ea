package queue

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/playmesh/arena-matchmaker/domain/entities"
)

// TicketStore is the write-through slice of the matchmaking repository the
// queue needs. Every successful Add is persisted before it is acknowledged.
type TicketStore interface {
	SaveTicket(ctx context.Context, ticket *entities.Ticket) error
	GetCooldown(ctx context.Context, playerID string) (*entities.CooldownInfo, error)
}

// LivenessRegistrar receives every player entering or leaving the queue so the
// heartbeat monitor tracks exactly the queued population.
type LivenessRegistrar interface {
	RegisterPlayer(userID string)
	UnregisterPlayer(userID string)
}

// ReservedPair is the result of one successful FindMatch call: both tickets
// are already out of the queue, and Index1/Index2 record the 0-based positions
// they held so a rollback can restore their seniority.
type ReservedPair struct {
	Ticket1  *entities.Ticket
	Ticket2  *entities.Ticket
	Index1   int
	Index2   int
	Category string
}

// Manager keeps one FIFO of waiting tickets per category. Tickets from
// different categories never pair, and one category never blocks another.
type Manager struct {
	mu         sync.Mutex
	queues     map[string][]*entities.Ticket
	categories []string // first-seen order, keeps FindMatch scans deterministic
	byPlayer   map[string]string

	store    TicketStore
	liveness LivenessRegistrar
	clock    clockwork.Clock
}

func NewManager(store TicketStore, liveness LivenessRegistrar, clock clockwork.Clock) *Manager {
	return &Manager{
		queues:   make(map[string][]*entities.Ticket),
		byPlayer: make(map[string]string),
		store:    store,
		liveness: liveness,
		clock:    clock,
	}
}

// Add appends the ticket to the tail of its category queue. It returns false,
// without error, when the player already has an active ticket or is under a
// cooldown; repository failures are returned as errors and leave the queue
// untouched.
func (m *Manager) Add(ctx context.Context, ticket *entities.Ticket) (bool, error) {
	cooldown, err := m.store.GetCooldown(ctx, ticket.PlayerID)
	if err != nil {
		return false, err
	}
	if cooldown != nil && cooldown.Active(m.clock.Now()) {
		log.Info().
			Str("playerId", ticket.PlayerID).
			Str("reason", cooldown.Reason).
			Int64("remainingSeconds", cooldown.RemainingSeconds(m.clock.Now())).
			Msg("queue: enqueue rejected, cooldown active")
		return false, nil
	}

	m.mu.Lock()
	if _, exists := m.byPlayer[ticket.PlayerID]; exists {
		m.mu.Unlock()
		log.Info().Str("playerId", ticket.PlayerID).Msg("queue: enqueue rejected, ticket already active")
		return false, nil
	}
	m.insertLocked(ticket, len(m.queues[ticket.Category]))
	m.mu.Unlock()

	if err := m.store.SaveTicket(ctx, ticket); err != nil {
		m.Remove(ticket.PlayerID)
		return false, err
	}

	m.liveness.RegisterPlayer(ticket.PlayerID)
	return true, nil
}

// AddWithPosition re-inserts a ticket at a specific 0-based index. Used only
// by the rollback path so a bumped player keeps their queue seniority. The
// ticket is reset to waiting and persisted again.
func (m *Manager) AddWithPosition(ctx context.Context, ticket *entities.Ticket, position int) error {
	ticket.Status = entities.TicketStatus_Waiting

	m.mu.Lock()
	if _, exists := m.byPlayer[ticket.PlayerID]; exists {
		m.mu.Unlock()
		return nil
	}
	m.insertLocked(ticket, position)
	m.mu.Unlock()

	if err := m.store.SaveTicket(ctx, ticket); err != nil {
		return err
	}

	m.liveness.RegisterPlayer(ticket.PlayerID)
	return nil
}

// insertLocked places the ticket at the given index, clamped to the queue
// bounds. Caller holds m.mu.
func (m *Manager) insertLocked(ticket *entities.Ticket, position int) {
	q := m.queues[ticket.Category]
	if _, known := m.queues[ticket.Category]; !known {
		m.categories = append(m.categories, ticket.Category)
	}

	if position < 0 {
		position = 0
	}
	if position > len(q) {
		position = len(q)
	}

	q = append(q, nil)
	copy(q[position+1:], q[position:])
	q[position] = ticket

	m.queues[ticket.Category] = q
	m.byPlayer[ticket.PlayerID] = ticket.Category
}

// FindMatch scans categories in first-seen order and, for the first one
// holding at least two waiting tickets, removes and returns the two with the
// oldest QueuedAt (stable on ties). The pair is reserved the moment it is
// returned: no concurrent caller can see the same tickets.
func (m *Manager) FindMatch() *ReservedPair {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, category := range m.categories {
		q := m.queues[category]
		if len(q) < 2 {
			continue
		}

		first, second := oldestTwo(q)
		pair := &ReservedPair{
			Ticket1:  q[first],
			Ticket2:  q[second],
			Index1:   first,
			Index2:   second,
			Category: category,
		}

		// Remove the higher index first so the lower one stays valid.
		q = removeAt(q, second)
		q = removeAt(q, first)
		m.queues[category] = q
		delete(m.byPlayer, pair.Ticket1.PlayerID)
		delete(m.byPlayer, pair.Ticket2.PlayerID)

		return pair
	}

	return nil
}

// oldestTwo returns the indices of the two tickets with the smallest QueuedAt,
// preserving insertion order on ties. len(q) >= 2.
func oldestTwo(q []*entities.Ticket) (int, int) {
	first, second := 0, 1
	if q[second].QueuedAt < q[first].QueuedAt {
		first, second = second, first
	}
	for i := 2; i < len(q); i++ {
		switch {
		case q[i].QueuedAt < q[first].QueuedAt:
			second = first
			first = i
		case q[i].QueuedAt < q[second].QueuedAt:
			second = i
		}
	}
	if first > second {
		first, second = second, first
	}
	return first, second
}

func removeAt(q []*entities.Ticket, i int) []*entities.Ticket {
	return append(q[:i], q[i+1:]...)
}

// Remove takes the player's ticket out of its queue and returns it, or nil if
// the player is not queued. Used for cancellation and the unhealthy-player
// rollback path.
func (m *Manager) Remove(playerID string) *entities.Ticket {
	m.mu.Lock()
	category, exists := m.byPlayer[playerID]
	if !exists {
		m.mu.Unlock()
		return nil
	}

	var removed *entities.Ticket
	q := m.queues[category]
	for i, ticket := range q {
		if ticket.PlayerID == playerID {
			removed = ticket
			m.queues[category] = removeAt(q, i)
			break
		}
	}
	delete(m.byPlayer, playerID)
	m.mu.Unlock()

	if removed != nil {
		m.liveness.UnregisterPlayer(playerID)
	}
	return removed
}

// GetPosition returns the player's 1-indexed position within their category.
func (m *Manager) GetPosition(playerID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	category, exists := m.byPlayer[playerID]
	if !exists {
		return 0, false
	}
	for i, ticket := range m.queues[category] {
		if ticket.PlayerID == playerID {
			return i + 1, true
		}
	}
	return 0, false
}

// Get returns a copy of the player's waiting ticket, if any.
func (m *Manager) Get(playerID string) (entities.Ticket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	category, exists := m.byPlayer[playerID]
	if !exists {
		return entities.Ticket{}, false
	}
	for _, ticket := range m.queues[category] {
		if ticket.PlayerID == playerID {
			return *ticket, true
		}
	}
	return entities.Ticket{}, false
}

func (m *Manager) Contains(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.byPlayer[playerID]
	return exists
}

func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, q := range m.queues {
		total += len(q)
	}
	return total
}

func (m *Manager) SizeByCategory() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make(map[string]int, len(m.queues))
	for category, q := range m.queues {
		sizes[category] = len(q)
	}
	return sizes
}
