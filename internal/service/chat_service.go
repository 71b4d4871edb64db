package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/audit"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/store"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

type chatService struct {
	store        store.MessageStore
	broker       fanout.Broker
	distributor  Distributor
	history      cache.HistoryCache
	instanceID   string
	storeTimeout time.Duration
	now          func() time.Time
}

func NewChatService(
	messages store.MessageStore,
	broker fanout.Broker,
	distributor Distributor,
	history cache.HistoryCache,
	instanceID string,
	storeTimeout time.Duration,
) ChatService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &chatService{
		store:        messages,
		broker:       broker,
		distributor:  distributor,
		history:      history,
		instanceID:   instanceID,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

func (s *chatService) Submit(ctx context.Context, roomID, sender, content string, file *domain.FileRef) (*domain.Message, error) {
	msg, err := domain.NewMessage(roomID, sender, content, file, s.instanceID, s.now())
	if err != nil {
		metrics.MessagesSubmitted.WithLabelValues("invalid").Inc()
		return nil, err
	}

	ctx = log.WithFields(ctx, log.FieldRoomID, msg.RoomID, log.FieldMessageID, msg.ID, log.FieldSender, sender)
	l := log.Ctx(ctx)

	// Primary path: local store then local fan-out, each only logged on failure.
	if err := s.save(ctx, msg); err != nil {
		metrics.StoreErrors.WithLabelValues("submit_save").Inc()
		l.Error().Err(err).Msg("failed to persist message, broadcasting anyway")
	}
	if err := s.publishJSON(ctx, domain.RoomChannel(msg.RoomID), msg); err != nil {
		l.Error().Err(err).Msg("failed to fan out message locally")
	}

	// Secondary path: always attempted.
	if err := s.distributor.Publish(ctx, msg); err != nil {
		metrics.MessagesSubmitted.WithLabelValues("distribution_unavailable").Inc()
		l.Error().Err(err).Msg("message could not be handed to distribution")
		return msg, fmt.Errorf("%w: %w", domain.ErrDistributionUnavailable, err)
	}

	metrics.MessagesSubmitted.WithLabelValues("accepted").Inc()
	audit.LogTarget(ctx, audit.ActionSendMessage, sender, msg.ID, "message submitted")
	return msg, nil
}

func (s *chatService) UpdateTyping(ctx context.Context, roomID, sender string, payload json.RawMessage) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.ErrInvalidMessage
	}

	event := domain.TypingEvent{RoomID: roomID, Sender: sender, Payload: payload}
	if err := s.publishJSON(ctx, domain.TypingChannel(roomID), event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to fan out typing indicator")
	}
	return nil
}

// RelayCall forwards call signalling to the room. Unlike typing, a failed
// relay is reported because the peer cannot recover a lost offer.
func (s *chatService) RelayCall(ctx context.Context, roomID, sender string, payload json.RawMessage) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || len(payload) == 0 {
		return domain.ErrInvalidMessage
	}

	signal := domain.CallSignal{RoomID: roomID, Sender: sender, Payload: payload}
	if err := s.publishJSON(ctx, domain.CallChannel(roomID), signal); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to relay call signal")
		return err
	}
	return nil
}

// MarkRead advances a stored message to READ. A missing message is not an
// error. The receipt is broadcast whether or not the update happened.
func (s *chatService) MarkRead(ctx context.Context, roomID, messageID string) error {
	roomID = strings.TrimSpace(roomID)
	messageID = strings.TrimSpace(messageID)
	if roomID == "" || messageID == "" {
		return domain.ErrInvalidMessage
	}

	ctx = log.WithFields(ctx, log.FieldRoomID, roomID, log.FieldMessageID, messageID)
	l := log.Ctx(ctx)

	advanced, err := s.markRead(ctx, messageID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		l.Debug().Msg("read receipt for unknown message ignored")
	default:
		metrics.StoreErrors.WithLabelValues("mark_read").Inc()
		l.Error().Err(err).Msg("failed to persist read receipt")
	}
	if advanced && s.history != nil {
		if err := s.history.InvalidateRoom(ctx, roomID); err != nil {
			l.Warn().Err(err).Msg("failed to drop cached history after read receipt")
		}
	}

	receipt := domain.ReadReceipt{MessageID: messageID, RoomID: roomID, Status: domain.StatusRead}
	if err := s.publishJSON(ctx, domain.StatusChannel(roomID), receipt); err != nil {
		l.Error().Err(err).Msg("failed to fan out read receipt")
	}
	return nil
}

// markRead reports whether the stored status moved.
func (s *chatService) markRead(ctx context.Context, messageID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	msg, err := s.store.FindMessageByID(ctx, messageID)
	if err != nil {
		return false, err
	}
	if !msg.Advance(domain.StatusRead) {
		return false, nil
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}

func (s *chatService) save(ctx context.Context, msg *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.SaveMessage(ctx, msg)
}

func (s *chatService) publishJSON(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to encode payload: %w", domain.ErrFanoutFailed, err)
	}
	if err := s.broker.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrFanoutFailed, err)
	}
	return nil
}
