package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPresenceStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	s := NewRedisPresenceStore(client, "chat")

	_, err := s.FindPresence(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, s.SavePresence(ctx, &domain.PresenceRecord{Identity: "alice", Online: true, LastSeen: now, InstanceID: "node-1"}))

	got, err := s.FindPresence(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Online)
	assert.Equal(t, "node-1", got.InstanceID)
	assert.True(t, now.Equal(got.LastSeen))
}

func TestRedisPresenceStoreListOnlineFiltersStale(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	s := NewRedisPresenceStore(client, "chat")
	now := time.Now().UTC()

	require.NoError(t, s.SavePresence(ctx, &domain.PresenceRecord{Identity: "alice", Online: true, LastSeen: now, InstanceID: "node-1"}))
	require.NoError(t, s.SavePresence(ctx, &domain.PresenceRecord{Identity: "bob", Online: true, LastSeen: now, InstanceID: "node-1"}))
	// bob reconnects elsewhere; node-1's set still lists him
	require.NoError(t, s.SavePresence(ctx, &domain.PresenceRecord{Identity: "bob", Online: true, LastSeen: now, InstanceID: "node-2"}))

	online, err := s.ListOnline(ctx, "node-1")
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "alice", online[0].Identity)

	members, err := mr.Members("chat:presence:online:node-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func TestRedisPresenceStoreOfflineLeavesOnlineSet(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	s := NewRedisPresenceStore(client, "chat")
	now := time.Now().UTC()

	require.NoError(t, s.SavePresence(ctx, &domain.PresenceRecord{Identity: "alice", Online: true, LastSeen: now, InstanceID: "node-1"}))
	require.NoError(t, s.SavePresence(ctx, &domain.PresenceRecord{Identity: "alice", Online: false, LastSeen: now, InstanceID: "node-1"}))

	online, err := s.ListOnline(ctx, "node-1")
	require.NoError(t, err)
	assert.Empty(t, online)

	got, err := s.FindPresence(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, got.Online)
}
