package store

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

// MessageStore persists messages. Saves are idempotent by message id.
type MessageStore interface {
	// SaveMessage upserts msg. A stored status is never lowered: a save
	// carrying an earlier status keeps the stored one.
	SaveMessage(ctx context.Context, msg *domain.Message) error
	// FindMessageByID returns domain.ErrNotFound when no message has id.
	FindMessageByID(ctx context.Context, id string) (*domain.Message, error)
	// FindMessagesByRoom returns up to limit messages older than before
	// (newest when before is empty), oldest first.
	FindMessagesByRoom(ctx context.Context, roomID, before string, limit int) ([]*domain.Message, error)
	Close() error
}

// PresenceStore persists the last known presence per identity.
type PresenceStore interface {
	SavePresence(ctx context.Context, rec *domain.PresenceRecord) error
	// FindPresence returns domain.ErrNotFound when identity has no record.
	FindPresence(ctx context.Context, identity string) (*domain.PresenceRecord, error)
	// ListOnline returns records still online that were last written by instanceID.
	ListOnline(ctx context.Context, instanceID string) ([]*domain.PresenceRecord, error)
	Close() error
}
