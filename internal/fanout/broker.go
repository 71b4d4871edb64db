package fanout

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
)

// NewBroker returns the broker selected by cfg.Driver. client may be nil for
// the memory driver.
func NewBroker(cfg config.FanoutConfig, client *redis.Client) (Broker, error) {
	switch cfg.Driver {
	case driverMemory, "":
		return NewMemoryBroker(cfg.BufferSize), nil
	case driverRedis:
		if client == nil {
			return nil, fmt.Errorf("fanout driver %q requires a redis client", cfg.Driver)
		}
		return NewRedisBroker(client, cfg.ChannelPrefix, cfg.BufferSize), nil
	default:
		return nil, fmt.Errorf("unsupported fanout driver: %s", cfg.Driver)
	}
}
