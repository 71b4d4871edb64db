package service

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

// ChatService is the single entry point for authored messages and the
// room side channels (typing, receipts, call signalling).
type ChatService interface {
	// Submit stores, broadcasts locally and distributes a new message. Store
	// and local fan-out failures are only logged; the returned error is
	// domain.ErrInvalidMessage or wraps domain.ErrDistributionUnavailable.
	Submit(ctx context.Context, roomID, sender, content string, file *domain.FileRef) (*domain.Message, error)
	UpdateTyping(ctx context.Context, roomID, sender string, payload json.RawMessage) error
	// RelayCall returns domain.ErrInvalidMessage without a room or payload
	// and wraps domain.ErrFanoutFailed when the signal could not be sent.
	RelayCall(ctx context.Context, roomID, sender string, payload json.RawMessage) error
	MarkRead(ctx context.Context, roomID, messageID string) error
}

// PresenceTracker binds live connections to identities and announces
// online/offline transitions. It does not count sessions per identity: the
// latest connect or disconnect wins.
type PresenceTracker interface {
	OnConnect(ctx context.Context, connectionID, identity string)
	OnDisconnect(ctx context.Context, connectionID string)
	// Reconcile marks offline every identity this instance left online,
	// e.g. after a crash.
	Reconcile(ctx context.Context) error
	Lookup(ctx context.Context, identity string) (*domain.PresenceRecord, error)
	Connections() int
}

type HistoryService interface {
	GetHistory(ctx context.Context, roomID, before string, limit int) (*cache.HistoryPage, error)
}

// Distributor hands a message to the cross-instance transport.
type Distributor interface {
	Publish(ctx context.Context, msg *domain.Message) error
}
