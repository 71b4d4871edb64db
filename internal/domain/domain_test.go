package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOrder(t *testing.T) {
	assert.True(t, StatusSent.Before(StatusDelivered))
	assert.True(t, StatusDelivered.Before(StatusRead))
	assert.False(t, StatusRead.Before(StatusSent))
	assert.False(t, StatusRead.Before(StatusRead))
	assert.False(t, Status("BOGUS").Valid())

	assert.Equal(t, StatusRead, Max(StatusRead, StatusSent))
	assert.Equal(t, StatusRead, Max(StatusSent, StatusRead))
	assert.Equal(t, StatusSent, Max(StatusSent, ""))

	assert.Empty(t, StatusSent.Predecessors())
	assert.Equal(t, []Status{StatusSent, StatusDelivered}, StatusRead.Predecessors())
}

func TestAdvanceNeverRegresses(t *testing.T) {
	m := &Message{Status: StatusSent}
	assert.True(t, m.Advance(StatusRead))
	assert.Equal(t, StatusRead, m.Status)

	assert.False(t, m.Advance(StatusRead))
	assert.False(t, m.Advance(StatusSent))
	assert.Equal(t, StatusRead, m.Status)
}

func TestNewMessage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	m, err := NewMessage("r1", "a", "hi", nil, "node-1", now)
	require.NoError(t, err)
	assert.Equal(t, "r1", m.RoomID)
	assert.Equal(t, StatusSent, m.Status)
	assert.Equal(t, "node-1", m.OriginInstance)
	assert.Equal(t, time.UTC, m.Timestamp.Location())
	assert.Len(t, m.ID, 26)

	_, err = NewMessage(" ", "a", "hi", nil, "node-1", now)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = NewMessage("r1", "a", "", nil, "node-1", now)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	m, err = NewMessage("r1", "a", "", &FileRef{URL: "https://files/x.png", Name: "x.png", Type: "image/png"}, "node-1", now)
	require.NoError(t, err)
	assert.Equal(t, "x.png", m.FileName)
}

func TestMessageIDsSortInCreationOrder(t *testing.T) {
	now := time.Now()
	prev := NewMessageID(now)
	for i := 0; i < 100; i++ {
		next := NewMessageID(now)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "room.r1", RoomChannel("r1"))
	assert.Equal(t, "room.r1.typing", TypingChannel("r1"))
	assert.Equal(t, "room.r1.status", StatusChannel("r1"))
	assert.Equal(t, "room.r1.call", CallChannel("r1"))
	assert.Len(t, RoomChannels("r1"), 4)

	for _, ch := range RoomChannels("r1") {
		room, ok := RoomFromChannel(ch)
		assert.True(t, ok)
		assert.Equal(t, "r1", room)
	}

	_, ok := RoomFromChannel(PresenceChannel)
	assert.False(t, ok)
}
