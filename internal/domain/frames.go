package domain

import "encoding/json"

// WebSocket frame types from client.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FrameTyping      = "typing"
	FrameRead        = "read"
	FrameCall        = "call"
	FramePing        = "ping"
)

// WebSocket frame types to client.
const (
	FrameEvent        = "event"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
	FramePong         = "pong"
)

// Error codes
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeUnavailable    = "DISTRIBUTION_UNAVAILABLE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUnknownMessage = "UNKNOWN_TYPE"
)

// InboundFrame is the union of every client frame; fields unused by a type
// are left empty.
type InboundFrame struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	FileURL   string          `json:"file_url,omitempty"`
	FileName  string          `json:"file_name,omitempty"`
	FileType  string          `json:"file_type,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// File returns the attachment carried by a send frame, if any.
func (f *InboundFrame) File() *FileRef {
	if f.FileURL == "" {
		return nil
	}
	return &FileRef{URL: f.FileURL, Name: f.FileName, Type: f.FileType}
}

// EventFrame delivers a fan-out payload to a client.
type EventFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribedFrame acknowledges subscribe/unsubscribe.
type SubscribedFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ErrorFrame reports a rejected client frame.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongFrame answers ping.
type PongFrame struct {
	Type string `json:"type"`
}

func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{
		Type:    FrameError,
		Code:    code,
		Message: message,
	}
}

// TypingEvent is what clients receive on a typing channel.
type TypingEvent struct {
	RoomID  string          `json:"room_id"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CallSignal relays opaque call negotiation data (offer, answer, candidate)
// to everyone in a room; the server never inspects Payload.
type CallSignal struct {
	RoomID  string          `json:"room_id"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}
