package domain

import (
	"strings"
	"time"
)

// Status is the delivery state of a message. It only moves forward.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() > 0
}

// Before reports whether s precedes other in the SENT -> DELIVERED -> READ order.
func (s Status) Before(other Status) bool {
	return s.rank() < other.rank()
}

// Predecessors lists the known statuses that precede s.
func (s Status) Predecessors() []Status {
	var out []Status
	for _, candidate := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if candidate.Before(s) {
			out = append(out, candidate)
		}
	}
	return out
}

// Max returns the further-along of two statuses.
func Max(a, b Status) Status {
	if a.Before(b) {
		return b
	}
	return a
}

// FileRef points at an attachment stored elsewhere.
type FileRef struct {
	URL  string `json:"file_url"`
	Name string `json:"file_name,omitempty"`
	Type string `json:"file_type,omitempty"`
}

// Message is a chat message. Everything but Status is fixed at creation.
type Message struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"room_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content,omitempty"`
	FileURL        string    `json:"file_url,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	FileType       string    `json:"file_type,omitempty"`
	Status         Status    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	OriginInstance string    `json:"origin_instance,omitempty"`
}

// NewMessage builds a SENT message with a fresh id.
func NewMessage(roomID, sender, content string, file *FileRef, origin string, now time.Time) (*Message, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrInvalidMessage
	}
	hasFile := file != nil && strings.TrimSpace(file.URL) != ""
	if strings.TrimSpace(content) == "" && !hasFile {
		return nil, ErrInvalidMessage
	}

	msg := &Message{
		ID:             NewMessageID(now),
		RoomID:         roomID,
		Sender:         sender,
		Content:        content,
		Status:         StatusSent,
		Timestamp:      now.UTC(),
		OriginInstance: origin,
	}
	if hasFile {
		msg.FileURL = file.URL
		msg.FileName = file.Name
		msg.FileType = file.Type
	}
	return msg, nil
}

// Advance moves the status forward to s. It returns false when the message
// is already at or past s, leaving it untouched.
func (m *Message) Advance(s Status) bool {
	if !m.Status.Before(s) {
		return false
	}
	m.Status = s
	return true
}

// ReadReceipt is fanned out on a room's status channel.
type ReadReceipt struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	Status    Status `json:"status"`
}
