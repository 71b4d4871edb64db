package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/store"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

type historyService struct {
	store    store.MessageStore
	cache    cache.HistoryCache
	cacheTTL time.Duration
	sf       singleflight.Group
}

// NewHistoryService returns a history reader. historyCache may be nil.
func NewHistoryService(
	messages store.MessageStore,
	historyCache cache.HistoryCache,
	cacheTTL time.Duration,
) HistoryService {
	return &historyService{
		store:    messages,
		cache:    historyCache,
		cacheTTL: cacheTTL,
	}
}

// ClampLimit applies the default and upper bound to a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func (s *historyService) GetHistory(ctx context.Context, roomID, before string, limit int) (*cache.HistoryPage, error) {
	limit = ClampLimit(limit)

	// The latest page changes with every message, so it is never cached.
	if before == "" || s.cache == nil {
		return s.fetch(ctx, roomID, before, limit)
	}

	cacheKey := s.cache.BuildKey(roomID, before, limit)

	// Use singleflight to prevent duplicate requests for the same key
	result, err, _ := s.sf.Do(cacheKey, func() (interface{}, error) {
		return s.fetchWithCache(ctx, roomID, before, limit, cacheKey)
	})
	if err != nil {
		return nil, err
	}
	return result.(*cache.HistoryPage), nil
}

func (s *historyService) fetchWithCache(ctx context.Context, roomID, before string, limit int, cacheKey string) (*cache.HistoryPage, error) {
	l := log.Ctx(ctx)

	page, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		metrics.HistoryCacheHits.WithLabelValues("hit").Inc()
		return page, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Str("cache_key", cacheKey).Msg("history cache read failed")
	}
	metrics.HistoryCacheHits.WithLabelValues("miss").Inc()

	page, err = s.fetch(ctx, roomID, before, limit)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, page, s.cacheTTL); err != nil {
		l.Warn().Err(err).Str("cache_key", cacheKey).Msg("history cache write failed")
	}
	return page, nil
}

// fetch reads one extra row to learn whether older messages exist.
func (s *historyService) fetch(ctx context.Context, roomID, before string, limit int) (*cache.HistoryPage, error) {
	messages, err := s.store.FindMessagesByRoom(ctx, roomID, before, limit+1)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("history").Inc()
		return nil, fmt.Errorf("failed to get messages from store: %w", err)
	}

	if messages == nil {
		messages = []*domain.Message{}
	}
	page := &cache.HistoryPage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[len(messages)-limit:]
		page.HasMore = true
	}
	if page.HasMore && len(page.Messages) > 0 {
		page.NextCursor = page.Messages[0].ID
	}
	return page, nil
}
