package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
)

func receive(t *testing.T, s *Subscription) []byte {
	t.Helper()
	select {
	case p, ok := <-s.C:
		require.True(t, ok, "subscription closed")
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestMemoryBrokerDeliversToEverySubscriber(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(4)
	defer b.Close()

	s1, err := b.Subscribe(ctx, "room.r1")
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, "room.r1")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "room.r2")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "room.r1", []byte("hi")))

	assert.Equal(t, []byte("hi"), receive(t, s1))
	assert.Equal(t, []byte("hi"), receive(t, s2))
	assert.Empty(t, other.C)
}

func TestMemoryBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(2)
	defer b.Close()

	slow, err := b.Subscribe(ctx, "room.r1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = b.Publish(ctx, "room.r1", []byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Equal(t, []byte{0}, receive(t, slow))
	assert.Equal(t, []byte{1}, receive(t, slow))
	assert.Empty(t, slow.C)
}

func TestMemoryBrokerSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(4)
	defer b.Close()

	s, err := b.Subscribe(ctx, "room.r1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("room.r1"))

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.SubscriberCount("room.r1"))

	_, ok := <-s.C
	assert.False(t, ok)
	require.NoError(t, b.Publish(ctx, "room.r1", []byte("after")))
}

func TestMemoryBrokerContextCancelDetaches(t *testing.T) {
	b := NewMemoryBroker(4)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := b.Subscribe(ctx, "presence.global")
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool { return b.SubscriberCount("presence.global") == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-s.C
	assert.False(t, ok)
}

func TestMemoryBrokerClosed(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(4)
	s, err := b.Subscribe(ctx, "room.r1")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	_, ok := <-s.C
	assert.False(t, ok)
	s.Close()

	assert.ErrorIs(t, b.Publish(ctx, "room.r1", []byte("x")), ErrBrokerClosed)
	_, err = b.Subscribe(ctx, "room.r1")
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestRedisBroker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedisBroker(client, "chat:fanout:", 8)
	defer b.Close()

	s, err := b.Subscribe(ctx, "room.r1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "room.r1", []byte(`{"id":"1"}`)))
	assert.Equal(t, []byte(`{"id":"1"}`), receive(t, s))

	s.Close()
	assert.Eventually(t, func() bool {
		_, ok := <-s.C
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNewBroker(t *testing.T) {
	b, err := NewBroker(config.FanoutConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)

	_, err = NewBroker(config.FanoutConfig{Driver: "redis"}, nil)
	assert.Error(t, err)

	_, err = NewBroker(config.FanoutConfig{Driver: "nats"}, nil)
	assert.Error(t, err)
}
