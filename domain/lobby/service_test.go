package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	kv map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: make(map[string]string)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.kv[key] = string(v)
	case string:
		f.kv[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	value, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	removed := int64(0)
	for _, key := range keys {
		if _, ok := f.kv[key]; ok {
			delete(f.kv, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func newTestService() (*RedisService, *fakeRedis) {
	gateway := newFakeRedis()
	return NewRedisService(gateway, RedisServiceConfig{SessionExpiration: time.Hour}), gateway
}

func TestCreateSessionAndAddParticipant(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()

	code, err := service.CreateSession(ctx, "host", "duel", "classic")
	require.NoError(t, err)
	require.Len(t, code, 8)

	session, err := service.AddParticipant(ctx, code, "guest")
	require.NoError(t, err)
	assert.Equal(t, "host", session.HostID)
	assert.Equal(t, []string{"host", "guest"}, session.Participants)
	assert.Equal(t, "duel", session.Category)
	assert.Equal(t, "classic", session.Variant)

	// Adding the same participant twice is a no-op.
	session, err = service.AddParticipant(ctx, code, "guest")
	require.NoError(t, err)
	assert.Len(t, session.Participants, 2)
}

func TestAddParticipant_UnknownSession(t *testing.T) {
	service, _ := newTestService()
	_, err := service.AddParticipant(context.Background(), "NOPE1234", "guest")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRemoveParticipant_TearsDownEmptySession(t *testing.T) {
	service, gateway := newTestService()
	ctx := context.Background()

	code, err := service.CreateSession(ctx, "host", "duel", "classic")
	require.NoError(t, err)
	_, err = service.AddParticipant(ctx, code, "guest")
	require.NoError(t, err)

	require.NoError(t, service.RemoveParticipant(ctx, code, "guest"))
	session, err := service.AddParticipant(ctx, code, "guest")
	require.NoError(t, err)
	assert.Equal(t, []string{"host", "guest"}, session.Participants)

	require.NoError(t, service.RemoveParticipant(ctx, code, "guest"))
	require.NoError(t, service.RemoveParticipant(ctx, code, "host"))
	assert.Empty(t, gateway.kv)

	// Removing from a gone session is not an error; rollback paths call it
	// unconditionally.
	require.NoError(t, service.RemoveParticipant(ctx, code, "host"))
}
