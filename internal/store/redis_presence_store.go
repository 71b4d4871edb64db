package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

// Redis key patterns:
// {prefix}:presence:identity:{identity}   HASH  online, last_seen, instance_id
// {prefix}:presence:online:{instance_id}  SET<identity> - identities this instance set online
//
// The online set may hold stale members after an identity moves to another
// instance; ListOnline filters them against the hash.
type RedisPresenceStore struct {
	client *redis.Client
	prefix string
}

func NewRedisPresenceStore(client *redis.Client, prefix string) *RedisPresenceStore {
	return &RedisPresenceStore{client: client, prefix: prefix}
}

func (s *RedisPresenceStore) identityKey(identity string) string {
	return fmt.Sprintf("%s:presence:identity:%s", s.prefix, identity)
}

func (s *RedisPresenceStore) onlineKey(instanceID string) string {
	return fmt.Sprintf("%s:presence:online:%s", s.prefix, instanceID)
}

func (s *RedisPresenceStore) SavePresence(ctx context.Context, rec *domain.PresenceRecord) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.identityKey(rec.Identity), map[string]interface{}{
		"online":      strconv.FormatBool(rec.Online),
		"last_seen":   rec.LastSeen.UTC().Format(time.RFC3339Nano),
		"instance_id": rec.InstanceID,
	})
	if rec.Online {
		pipe.SAdd(ctx, s.onlineKey(rec.InstanceID), rec.Identity)
	} else {
		pipe.SRem(ctx, s.onlineKey(rec.InstanceID), rec.Identity)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save presence: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisPresenceStore) FindPresence(ctx context.Context, identity string) (*domain.PresenceRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.identityKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find presence: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodePresence(identity, fields)
}

func (s *RedisPresenceStore) ListOnline(ctx context.Context, instanceID string) ([]*domain.PresenceRecord, error) {
	key := s.onlineKey(instanceID)
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list online presence: %w: %w", domain.ErrStoreUnavailable, err)
	}

	var records []*domain.PresenceRecord
	var stale []interface{}
	for _, identity := range members {
		rec, err := s.FindPresence(ctx, identity)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				stale = append(stale, identity)
				continue
			}
			return nil, err
		}
		if !rec.Online || rec.InstanceID != instanceID {
			stale = append(stale, identity)
			continue
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		_ = s.client.SRem(ctx, key, stale...).Err()
	}
	return records, nil
}

// Close is a no-op: main owns the shared redis client.
func (s *RedisPresenceStore) Close() error {
	return nil
}

func decodePresence(identity string, fields map[string]string) (*domain.PresenceRecord, error) {
	rec := &domain.PresenceRecord{
		Identity:   identity,
		InstanceID: fields["instance_id"],
	}

	online, err := strconv.ParseBool(fields["online"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode presence online flag: %w", err)
	}
	rec.Online = online

	if ts := fields["last_seen"]; ts != "" {
		lastSeen, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to decode presence last_seen: %w", err)
		}
		rec.LastSeen = lastSeen
	}
	return rec, nil
}
