package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

const driverRedis = "redis"

// RedisBroker fans out through Redis pub/sub so that several processes on
// one host can share channels. Each Subscribe owns one redis.PubSub.
type RedisBroker struct {
	client        *redis.Client
	prefix        string
	bufferSize    int
	subscriptions map[*redis.PubSub]struct{}
	mu            sync.Mutex
	closed        bool
}

func NewRedisBroker(client *redis.Client, prefix string, bufferSize int) *RedisBroker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &RedisBroker{
		client:        client,
		prefix:        prefix,
		bufferSize:    bufferSize,
		subscriptions: make(map[*redis.PubSub]struct{}),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	metrics.FanoutPublished.WithLabelValues(driverRedis).Inc()
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, b.prefix+channel)
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subscriptions[ps] = struct{}{}
	b.mu.Unlock()

	out := make(chan []byte, b.bufferSize)
	done := make(chan struct{})
	s := newSubscription(channel, out, func() {
		close(done)
		b.release(ps)
	})

	go b.processMessages(ctx, channel, ps, out, done, s)

	return s, nil
}

// processMessages copies payloads from the redis subscription into out,
// dropping when out is full.
func (b *RedisBroker) processMessages(ctx context.Context, channel string, ps *redis.PubSub, out chan<- []byte, done <-chan struct{}, s *Subscription) {
	defer close(out)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				metrics.FanoutDropped.WithLabelValues(driverRedis).Inc()
				l := log.L()
				l.Warn().Str(log.FieldChannel, channel).Msg("subscriber buffer full, payload dropped")
			}
		}
	}
}

func (b *RedisBroker) release(ps *redis.PubSub) {
	b.mu.Lock()
	_, ok := b.subscriptions[ps]
	delete(b.subscriptions, ps)
	b.mu.Unlock()

	if ok {
		_ = ps.Close()
	}
}

// Close detaches every subscription. The redis client is owned by main.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	for ps := range subs {
		_ = ps.Close()
	}
	return nil
}
