package matchmaking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playmesh/arena-matchmaker/domain/entities"
	"github.com/playmesh/arena-matchmaker/domain/lobby"
	"github.com/playmesh/arena-matchmaker/domain/queue"
)

type stubChecker struct {
	unhealthy map[string]bool
}

func (s *stubChecker) VerifyHealthy(_ context.Context, userID string) entities.HealthCheckResult {
	if s.unhealthy[userID] {
		return entities.HealthCheckResult{UserID: userID, FailureReason: entities.HealthFailure_PingTimeout}
	}
	return entities.HealthCheckResult{UserID: userID, Healthy: true}
}

func (s *stubChecker) VerifyBothHealthy(ctx context.Context, userA, userB string) (bool, entities.HealthCheckResult, entities.HealthCheckResult) {
	resultA := s.VerifyHealthy(ctx, userA)
	resultB := s.VerifyHealthy(ctx, userB)
	return resultA.Healthy && resultB.Healthy, resultA, resultB
}

type fakeLobby struct {
	mu        sync.Mutex
	createErr error
	addErr    error
	created   []string
	added     []string
	removed   []string
}

func (f *fakeLobby) CreateSession(_ context.Context, hostID, _, _ string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, hostID)
	return "SESS1234", nil
}

func (f *fakeLobby) AddParticipant(_ context.Context, code, playerID string) (*lobby.Session, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, playerID)
	return &lobby.Session{Code: code}, nil
}

func (f *fakeLobby) RemoveParticipant(_ context.Context, _, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, playerID)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    map[string][]any
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: make(map[string]bool), sent: make(map[string][]any)}
}

func (f *fakeNotifier) SendToUser(userID string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[userID] {
		return false
	}
	f.sent[userID] = append(f.sent[userID], payload)
	return true
}

func (f *fakeNotifier) lastPayload(userID string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	payloads := f.sent[userID]
	if len(payloads) == 0 {
		return nil
	}
	return payloads[len(payloads)-1]
}

// fakeLog backs both the queue's write-through store and the creator's
// ticket log.
type fakeLog struct {
	mu       sync.Mutex
	statuses map[string]entities.TicketStatus
}

func newFakeLog() *fakeLog {
	return &fakeLog{statuses: make(map[string]entities.TicketStatus)}
}

func (f *fakeLog) SaveTicket(_ context.Context, ticket *entities.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[ticket.PlayerID] = ticket.Status
	return nil
}

func (f *fakeLog) GetCooldown(_ context.Context, _ string) (*entities.CooldownInfo, error) {
	return nil, nil
}

func (f *fakeLog) UpdateTicketStatus(_ context.Context, playerID string, status entities.TicketStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[playerID] = status
	return nil
}

func (f *fakeLog) statusOf(playerID string) entities.TicketStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[playerID]
}

type recordingLiveness struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
}

func (r *recordingLiveness) RegisterPlayer(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, userID)
}

func (r *recordingLiveness) UnregisterPlayer(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, userID)
}

type creatorFixture struct {
	creator  *MatchCreator
	queue    *queue.Manager
	checker  *stubChecker
	lobby    *fakeLobby
	notifier *fakeNotifier
	store    *fakeLog
	liveness *recordingLiveness
}

func newCreatorFixture(t *testing.T) *creatorFixture {
	t.Helper()
	store := newFakeLog()
	liveness := &recordingLiveness{}
	queueManager := queue.NewManager(store, liveness, clockwork.NewRealClock())
	checker := &stubChecker{unhealthy: make(map[string]bool)}
	lobbyService := &fakeLobby{}
	notifier := newFakeNotifier()

	creator := NewMatchCreator(checker, lobbyService, notifier, store, queueManager, liveness, clockwork.NewRealClock(), MatchCreatorConfig{
		NotifyAttempts:   3,
		NotifyRetryDelay: time.Millisecond,
	})
	return &creatorFixture{
		creator:  creator,
		queue:    queueManager,
		checker:  checker,
		lobby:    lobbyService,
		notifier: notifier,
		store:    store,
		liveness: liveness,
	}
}

// enqueuePair seeds A, B and C in one category and reserves (A, B), leaving C
// waiting so position restores are observable.
func (f *creatorFixture) enqueuePair(t *testing.T) *queue.ReservedPair {
	t.Helper()
	ctx := context.Background()
	for i, playerID := range []string{"a", "b", "c"} {
		added, err := f.queue.Add(ctx, &entities.Ticket{
			ID:                playerID + "-ticket",
			PlayerID:          playerID,
			PlayerDisplayName: playerID,
			Category:          "duel",
			MapOrVariant:      "classic",
			QueuedAt:          int64(i),
			Status:            entities.TicketStatus_Waiting,
		})
		require.NoError(t, err)
		require.True(t, added)
	}

	pair := f.queue.FindMatch()
	require.NotNil(t, pair)
	require.Equal(t, "a", pair.Ticket1.PlayerID)
	require.Equal(t, "b", pair.Ticket2.PlayerID)
	return pair
}

func TestCreateMatch_BothHealthyCommits(t *testing.T) {
	f := newCreatorFixture(t)
	pair := f.enqueuePair(t)

	result := f.creator.CreateMatch(context.Background(), pair)

	assert.True(t, result.Success)
	assert.Equal(t, "SESS1234", result.SessionCode)
	assert.True(t, result.Player1Notified)
	assert.True(t, result.Player2Notified)
	assert.False(t, result.RollbackPerformed)

	assert.Equal(t, []string{"a"}, f.lobby.created)
	assert.Equal(t, []string{"b"}, f.lobby.added)
	assert.Empty(t, f.lobby.removed)

	assert.Equal(t, entities.TicketStatus_Matched, f.store.statusOf("a"))
	assert.Equal(t, entities.TicketStatus_Matched, f.store.statusOf("b"))
	assert.ElementsMatch(t, []string{"a", "b"}, f.liveness.unregistered)

	found, ok := f.notifier.lastPayload("a").(entities.MatchFoundPayload)
	require.True(t, ok)
	assert.Equal(t, "b", found.OpponentID)
	assert.Equal(t, "SESS1234", found.SessionCode)
}

func TestCreateMatch_OneUnhealthyRequeuesTheOther(t *testing.T) {
	f := newCreatorFixture(t)
	pair := f.enqueuePair(t)
	f.checker.unhealthy["b"] = true

	result := f.creator.CreateMatch(context.Background(), pair)

	assert.False(t, result.Success)
	assert.True(t, result.RollbackPerformed)
	assert.Equal(t, "a", result.RequeuedPlayerID)
	assert.Equal(t, FailureReason_PlayerUnhealthy, result.FailureReason)

	// No session state was ever created.
	assert.Empty(t, f.lobby.created)

	// A is back at the head of the queue, ahead of C.
	pos, ok := f.queue.GetPosition("a")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.False(t, f.queue.Contains("b"))
	assert.Equal(t, entities.TicketStatus_Expired, f.store.statusOf("b"))

	cancelled, ok := f.notifier.lastPayload("a").(entities.MatchCancelledPayload)
	require.True(t, ok)
	assert.Equal(t, CancelReason_OpponentDisconnected, cancelled.Reason)
}

func TestCreateMatch_BothUnhealthyRequeuesNeither(t *testing.T) {
	f := newCreatorFixture(t)
	pair := f.enqueuePair(t)
	f.checker.unhealthy["a"] = true
	f.checker.unhealthy["b"] = true

	result := f.creator.CreateMatch(context.Background(), pair)

	assert.False(t, result.Success)
	assert.False(t, result.RollbackPerformed)
	assert.Empty(t, result.RequeuedPlayerID)
	assert.Equal(t, FailureReason_BothUnhealthy, result.FailureReason)

	assert.False(t, f.queue.Contains("a"))
	assert.False(t, f.queue.Contains("b"))
	assert.Equal(t, entities.TicketStatus_Expired, f.store.statusOf("a"))
	assert.Equal(t, entities.TicketStatus_Expired, f.store.statusOf("b"))
}

func TestCreateMatch_SessionFailureRequeuesBoth(t *testing.T) {
	f := newCreatorFixture(t)
	pair := f.enqueuePair(t)
	f.lobby.createErr = errors.New("lobby store unavailable")

	result := f.creator.CreateMatch(context.Background(), pair)

	assert.False(t, result.Success)
	assert.True(t, result.RollbackPerformed)
	assert.Contains(t, result.FailureReason, "lobby store unavailable")

	// Both players regain their original positions, ahead of C.
	posA, ok := f.queue.GetPosition("a")
	require.True(t, ok)
	posB, ok := f.queue.GetPosition("b")
	require.True(t, ok)
	posC, ok := f.queue.GetPosition("c")
	require.True(t, ok)
	assert.Equal(t, 1, posA)
	assert.Equal(t, 2, posB)
	assert.Equal(t, 3, posC)
}

func TestCreateMatch_PartialNotificationRollsBack(t *testing.T) {
	f := newCreatorFixture(t)
	pair := f.enqueuePair(t)
	f.notifier.failFor["b"] = true

	result := f.creator.CreateMatch(context.Background(), pair)

	assert.False(t, result.Success)
	assert.True(t, result.RollbackPerformed)
	assert.True(t, result.Player1Notified)
	assert.False(t, result.Player2Notified)
	assert.Equal(t, "a", result.RequeuedPlayerID)
	assert.Equal(t, FailureReason_Notification, result.FailureReason)

	// The session was torn down for both participants.
	assert.ElementsMatch(t, []string{"a", "b"}, f.lobby.removed)

	// A re-queued with a cancellation notice; B presumed gone.
	pos, ok := f.queue.GetPosition("a")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.False(t, f.queue.Contains("b"))
	assert.Equal(t, entities.TicketStatus_Expired, f.store.statusOf("b"))

	cancelled, ok := f.notifier.lastPayload("a").(entities.MatchCancelledPayload)
	require.True(t, ok)
	assert.Equal(t, CancelReason_OpponentDisconnected, cancelled.Reason)
}

func TestCreateMatch_TotalNotificationFailureRequeuesNeither(t *testing.T) {
	f := newCreatorFixture(t)
	pair := f.enqueuePair(t)
	f.notifier.failFor["a"] = true
	f.notifier.failFor["b"] = true

	result := f.creator.CreateMatch(context.Background(), pair)

	assert.False(t, result.Success)
	assert.True(t, result.RollbackPerformed)
	assert.Empty(t, result.RequeuedPlayerID)

	assert.False(t, f.queue.Contains("a"))
	assert.False(t, f.queue.Contains("b"))
	assert.Equal(t, entities.TicketStatus_Expired, f.store.statusOf("a"))
	assert.Equal(t, entities.TicketStatus_Expired, f.store.statusOf("b"))
}
