package cache

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

// HistoryPage is one page of room history, oldest first.
type HistoryPage struct {
	Messages   []*domain.Message `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

type HistoryCache interface {
	Get(ctx context.Context, key string) (*HistoryPage, error)
	Set(ctx context.Context, key string, page *HistoryPage, ttl time.Duration) error
	BuildKey(roomID, before string, limit int) string
	// InvalidateRoom drops every cached page of roomID.
	InvalidateRoom(ctx context.Context, roomID string) error
}
