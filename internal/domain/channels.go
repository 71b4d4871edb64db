package domain

import "strings"

const (
	roomChannelPrefix = "room."
	typingSuffix      = ".typing"
	statusSuffix      = ".status"
	callSuffix        = ".call"

	// PresenceChannel carries every online/offline transition.
	PresenceChannel = "presence.global"
)

// RoomChannel is where a room's messages are fanned out.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// TypingChannel carries typing indicators for a room.
func TypingChannel(roomID string) string {
	return roomChannelPrefix + roomID + typingSuffix
}

// StatusChannel carries read receipts for a room.
func StatusChannel(roomID string) string {
	return roomChannelPrefix + roomID + statusSuffix
}

// CallChannel carries call signalling for a room.
func CallChannel(roomID string) string {
	return roomChannelPrefix + roomID + callSuffix
}

// RoomChannels lists every channel a room member listens on.
func RoomChannels(roomID string) []string {
	return []string{RoomChannel(roomID), TypingChannel(roomID), StatusChannel(roomID), CallChannel(roomID)}
}

// RoomFromChannel extracts the room id from any room channel.
func RoomFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, roomChannelPrefix) {
		return "", false
	}
	room := strings.TrimPrefix(channel, roomChannelPrefix)
	room = strings.TrimSuffix(room, typingSuffix)
	room = strings.TrimSuffix(room, statusSuffix)
	room = strings.TrimSuffix(room, callSuffix)
	return room, room != ""
}
