package handlers

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playmesh/arena-matchmaker/domain/health"
	"github.com/playmesh/arena-matchmaker/domain/heartbeat"
	"github.com/playmesh/arena-matchmaker/domain/queue"
	"github.com/playmesh/arena-matchmaker/domain/registry"
	"github.com/playmesh/arena-matchmaker/domain/tickets"
)

type fakeRedis struct {
	hashes map[string]map[string]string
	kv     map[string]string
	zsets  map[string]map[string]float64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: make(map[string]map[string]string),
		kv:     make(map[string]string),
		zsets:  make(map[string]map[string]float64),
	}
}

func encodeValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case encoding.BinaryMarshaler:
		raw, _ := v.MarshalBinary()
		return string(raw)
	default:
		return fmt.Sprint(v)
	}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	for i := 0; i < len(values); i += 2 {
		f.hashes[key][values[i].(string)] = encodeValue(values[i+1])
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	value, ok := f.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (f *fakeRedis) HScan(ctx context.Context, key string, cursor uint64, match string, count int64) *redis.ScanCmd {
	var flat []string
	for field, value := range f.hashes[key] {
		flat = append(flat, field, value)
	}
	return redis.NewScanCmdResult(flat, 0, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.kv[key] = encodeValue(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	value, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) ZScore(ctx context.Context, key, member string) *redis.FloatCmd {
	return redis.NewFloatResult(0, redis.Nil)
}

type noopPinger struct{}

func (noopPinger) SendPing(string, int64) error { return nil }

func newTestServer() *Server {
	clock := clockwork.NewFakeClock()
	repo := tickets.NewRepository(newFakeRedis(), tickets.RepositoryConfig{
		TicketsRedisSetName: "matchmaking:tickets",
		TicketMaxAge:        10 * time.Minute,
		CountPerIteration:   100,
	})
	monitor := heartbeat.NewMonitor(noopPinger{}, clock, heartbeat.MonitorConfig{
		PingInterval:    15 * time.Second,
		MissedThreshold: 2,
		SweepInterval:   5 * time.Second,
	})
	reg := registry.NewRegistry(registry.Config{MaxTotalConnections: 10, MaxPerGroup: 2})
	checker := health.NewRegistryChecker(reg, clock, health.CheckerConfig{ProbeTimeout: time.Second})
	queueManager := queue.NewManager(repo, monitor, clock)

	return NewServer(queueManager, repo, monitor, checker, reg, clock)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueAndStatus(t *testing.T) {
	s := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/matchmaking/queue", enqueueRequest{
		PlayerID:          "p1",
		PlayerDisplayName: "Player One",
		Category:          "duel",
		MapOrVariant:      "classic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.TicketID)
	assert.Equal(t, 1, created.Position)

	rec = doRequest(t, s, http.MethodGet, "/matchmaking/queue/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status queueStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Queued)
	assert.Equal(t, 1, status.Position)
	assert.Equal(t, "duel", status.Category)
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	s := newTestServer()
	body := enqueueRequest{PlayerID: "p1", Category: "duel"}

	rec := doRequest(t, s, http.MethodPost, "/matchmaking/queue", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/matchmaking/queue", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnqueueValidation(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, http.MethodPost, "/matchmaking/queue", enqueueRequest{PlayerID: "p1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelQueuedPlayer(t *testing.T) {
	s := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/matchmaking/queue", enqueueRequest{PlayerID: "p1", Category: "duel"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/matchmaking/queue/p1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/matchmaking/queue/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var status queueStatusResponse
	rec = doRequest(t, s, http.MethodGet, "/matchmaking/queue/p1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Queued)
}

func TestCooldownBlocksEnqueue(t *testing.T) {
	s := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/matchmaking/cooldown/p1", cooldownRequest{Minutes: 5, Reason: "early_leave"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/matchmaking/queue", enqueueRequest{PlayerID: "p1", Category: "duel"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/matchmaking/queue", enqueueRequest{PlayerID: "p1", Category: "duel"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/matchmaking/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.QueueTotal)
	assert.Equal(t, map[string]int{"duel": 1}, stats.QueueSizes)
}
