package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

const driverMemory = "memory"

type subscriber struct {
	send chan []byte
}

// MemoryBroker fans out in-process. Subscribers of one channel are kept in
// a set guarded by a RWMutex; publishers only take the read lock.
type MemoryBroker struct {
	channels   map[string]map[*subscriber]struct{}
	mu         sync.RWMutex
	bufferSize int
	closed     bool
}

func NewMemoryBroker(bufferSize int) *MemoryBroker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &MemoryBroker{
		channels:   make(map[string]map[*subscriber]struct{}),
		bufferSize: bufferSize,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("failed to publish to %s: %w", channel, ErrBrokerClosed)
	}

	dropped := 0
	for sub := range b.channels[channel] {
		select {
		case sub.send <- payload:
		default:
			dropped++
		}
	}

	metrics.FanoutPublished.WithLabelValues(driverMemory).Inc()
	if dropped > 0 {
		metrics.FanoutDropped.WithLabelValues(driverMemory).Add(float64(dropped))
		l := log.Ctx(ctx)
		l.Warn().Str(log.FieldChannel, channel).Int("dropped", dropped).Msg("subscriber buffer full, payload dropped")
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := &subscriber{send: make(chan []byte, b.bufferSize)}
	if _, ok := b.channels[channel]; !ok {
		b.channels[channel] = make(map[*subscriber]struct{})
	}
	b.channels[channel][sub] = struct{}{}

	done := make(chan struct{})
	s := newSubscription(channel, sub.send, func() {
		close(done)
		b.remove(channel, sub)
	})

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	return s, nil
}

func (b *MemoryBroker) remove(channel string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.channels[channel]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
}

// SubscriberCount returns the number of live subscriptions on channel.
func (b *MemoryBroker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.channels {
		for sub := range subs {
			close(sub.send)
		}
		delete(b.channels, channel)
	}
	return nil
}
