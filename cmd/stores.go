package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/store"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/database"
	"gorm.io/gorm"
)

// backends holds every connection main opens, so shutdown can release them
// in one place.
type backends struct {
	redis    *redis.Client
	db       *gorm.DB
	messages store.MessageStore
	presence store.PresenceStore
	history  cache.HistoryCache
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Store.Presence == "redis" || cfg.Fanout.Driver == "redis" || cfg.Cache.Enabled
}

func needsSQL(cfg *config.Config) bool {
	return cfg.Store.Messages == "sql" || cfg.Store.Presence == "sql"
}

func openBackends(cfg *config.Config) (*backends, error) {
	b := &backends{}

	if needsRedis(cfg) {
		client, err := store.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
	}

	if needsSQL(cfg) {
		db, err := database.New(&cfg.Database)
		if err != nil {
			b.close()
			return nil, err
		}
		b.db = db
	}

	switch cfg.Store.Messages {
	case "cassandra":
		client, err := store.NewCassandraClient(cfg.Cassandra)
		if err != nil {
			b.close()
			return nil, err
		}
		b.messages = store.NewCassandraMessageStore(client)
	case "sql":
		s, err := store.NewGormMessageStore(b.db)
		if err != nil {
			b.close()
			return nil, err
		}
		b.messages = s
	default:
		b.close()
		return nil, fmt.Errorf("unsupported message store: %s", cfg.Store.Messages)
	}

	switch cfg.Store.Presence {
	case "redis":
		b.presence = store.NewRedisPresenceStore(b.redis, cfg.Redis.Prefix)
	case "sql":
		s, err := store.NewGormPresenceStore(b.db)
		if err != nil {
			b.close()
			return nil, err
		}
		b.presence = s
	default:
		b.close()
		return nil, fmt.Errorf("unsupported presence store: %s", cfg.Store.Presence)
	}

	if cfg.Cache.Enabled {
		b.history = cache.NewRedisHistoryCache(b.redis, cfg.Redis.Prefix)
	}

	return b, nil
}

func (b *backends) close() {
	if b.messages != nil {
		_ = b.messages.Close()
	}
	if b.presence != nil {
		_ = b.presence.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = database.Close(b.db)
	}
}
