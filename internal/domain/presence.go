package domain

import "time"

// PresenceRecord is the last known state of an identity. Never deleted.
type PresenceRecord struct {
	Identity   string    `json:"identity"`
	Online     bool      `json:"online"`
	LastSeen   time.Time `json:"last_seen"`
	InstanceID string    `json:"instance_id,omitempty"`
}

// PresenceEvent is broadcast on the global presence channel.
type PresenceEvent struct {
	Identity string    `json:"identity"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Event returns the broadcast form of the record.
func (r *PresenceRecord) Event() PresenceEvent {
	return PresenceEvent{Identity: r.Identity, Online: r.Online, LastSeen: r.LastSeen}
}
