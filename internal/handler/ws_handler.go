package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/audit"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/service"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/jwt"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/response"
)

const headerUsername = "X-Username"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub      *hub.Hub
	chat     service.ChatService
	presence service.PresenceTracker
	broker   fanout.Broker
	verifier *jwt.Verifier
	wsCfg    config.WebSocketConfig
}

// NewWSHandler returns the websocket gateway. A nil verifier accepts the
// identity from the username query parameter or X-Username header.
func NewWSHandler(
	h *hub.Hub,
	chat service.ChatService,
	presence service.PresenceTracker,
	broker fanout.Broker,
	verifier *jwt.Verifier,
	wsCfg config.WebSocketConfig,
) *WSHandler {
	return &WSHandler{
		hub:      h,
		chat:     chat,
		presence: presence,
		broker:   broker,
		verifier: verifier,
		wsCfg:    wsCfg,
	}
}

func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identify(r)
	if err != nil {
		audit.Log(r.Context(), audit.ActionAuthFailed, "", err.Error())
		response.WriteError(w, http.StatusUnauthorized, response.CodeUnauthorized, "identity is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), identity, h.hub, conn, h.wsCfg)

	// The request context ends when this handler returns; the connection
	// outlives it.
	ctx := context.WithoutCancel(r.Context())
	ctx = log.WithFields(ctx, log.FieldConnectionID, client.ID, log.FieldIdentity, identity)

	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	h.presence.OnConnect(ctx, client.ID, identity)
	audit.LogTarget(ctx, audit.ActionConnect, identity, client.ID, "websocket connected")

	if err := client.Subscribe(ctx, h.broker, domain.PresenceChannel); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to subscribe to presence channel")
	}

	go client.WritePump()
	go func() {
		client.ReadPump(func(c *hub.Client, message []byte) {
			h.handleFrame(ctx, c, message)
		})
		h.presence.OnDisconnect(ctx, client.ID)
		audit.LogTarget(ctx, audit.ActionDisconnect, identity, client.ID, "websocket disconnected")
	}()
}

var errNoIdentity = errors.New("no identity presented")

func (h *WSHandler) identify(r *http.Request) (string, error) {
	if h.verifier != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			return "", errNoIdentity
		}
		return h.verifier.Verify(token)
	}

	identity := strings.TrimSpace(r.URL.Query().Get("username"))
	if identity == "" {
		identity = strings.TrimSpace(r.Header.Get(headerUsername))
	}
	if identity == "" {
		return "", errNoIdentity
	}
	return identity, nil
}

func (h *WSHandler) handleFrame(ctx context.Context, client *hub.Client, message []byte) {
	var frame domain.InboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		client.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	switch frame.Type {
	case domain.FrameSubscribe:
		h.handleSubscribe(ctx, client, frame.RoomID)

	case domain.FrameUnsubscribe:
		if frame.RoomID == "" {
			client.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "room_id is required"))
			return
		}
		for _, ch := range domain.RoomChannels(frame.RoomID) {
			client.Unsubscribe(ch)
		}
		client.SendMessage(&domain.SubscribedFrame{Type: domain.FrameUnsubscribed, RoomID: frame.RoomID})

	case domain.FrameSend:
		h.handleSend(ctx, client, &frame)

	case domain.FrameTyping:
		if err := h.chat.UpdateTyping(ctx, frame.RoomID, client.Identity, frame.Payload); err != nil {
			client.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "room_id is required"))
		}

	case domain.FrameRead:
		if err := h.chat.MarkRead(ctx, frame.RoomID, frame.MessageID); err != nil {
			client.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "room_id and message_id are required"))
			return
		}
		audit.LogTarget(ctx, audit.ActionMarkRead, client.Identity, frame.MessageID, "message marked read")

	case domain.FrameCall:
		if err := h.chat.RelayCall(ctx, frame.RoomID, client.Identity, frame.Payload); err != nil {
			if errors.Is(err, domain.ErrInvalidMessage) {
				client.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "room_id and payload are required"))
				return
			}
			client.SendMessage(domain.NewErrorFrame(domain.ErrCodeInternalError, "call signal not delivered"))
		}

	case domain.FramePing:
		client.SendMessage(&domain.PongFrame{Type: domain.FramePong})

	default:
		client.SendMessage(domain.NewErrorFrame(domain.ErrCodeUnknownMessage, "Unknown message type"))
	}
}

func (h *WSHandler) handleSubscribe(ctx context.Context, client *hub.Client, roomID string) {
	if roomID == "" {
		client.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "room_id is required"))
		return
	}

	for _, ch := range domain.RoomChannels(roomID) {
		if err := client.Subscribe(ctx, h.broker, ch); err != nil {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldChannel, ch).Msg("failed to subscribe")
			client.SendMessage(domain.NewErrorFrame(domain.ErrCodeInternalError, "subscribe failed"))
			return
		}
	}

	audit.LogTarget(ctx, audit.ActionSubscribe, client.Identity, roomID, "subscribed to room")
	client.SendMessage(&domain.SubscribedFrame{Type: domain.FrameSubscribed, RoomID: roomID})
}

func (h *WSHandler) handleSend(ctx context.Context, client *hub.Client, frame *domain.InboundFrame) {
	_, err := h.chat.Submit(ctx, frame.RoomID, client.Identity, frame.Content, frame.File())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidMessage):
		client.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, err.Error()))
	case errors.Is(err, domain.ErrDistributionUnavailable):
		client.SendMessage(domain.NewErrorFrame(domain.ErrCodeUnavailable, "message stored locally but not distributed"))
	default:
		client.SendMessage(domain.NewErrorFrame(domain.ErrCodeInternalError, "failed to send message"))
	}
}
