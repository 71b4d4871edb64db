package fanout

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("fanout broker closed")

// Broker is the local real-time fan-out. Publish never blocks on subscriber
// speed; a full subscriber buffer drops the payload for that subscriber.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	Close() error
}

// Subscription delivers payloads published to one channel. C is closed
// after Close, when the subscribe context ends, or when the broker closes.
type Subscription struct {
	Channel string
	C       <-chan []byte

	once   sync.Once
	cancel func()
}

func newSubscription(channel string, c <-chan []byte, cancel func()) *Subscription {
	return &Subscription{Channel: channel, C: c, cancel: cancel}
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
