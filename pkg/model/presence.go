package model

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// PresenceRecord is the ephemeral view of a connected identity. It exists from
// authenticated connect until disconnect; LastSeen survives as the offline
// timestamp.
type PresenceRecord struct {
	IdentityID string         `json:"identity_id"`
	Name       string         `json:"name,omitempty"`
	Status     PresenceStatus `json:"status"`
	LastSeen   time.Time      `json:"last_seen"`
	Room       string         `json:"room,omitempty"`
}
