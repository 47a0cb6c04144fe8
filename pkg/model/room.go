package model

import (
	"time"

	"github.com/google/uuid"
)

type RoomType string

const (
	RoomDirect  RoomType = "direct"
	RoomGroup   RoomType = "group"
	RoomChannel RoomType = "channel"
)

// DefaultMaxParticipants bounds room size (and with it the growth of
// per-message read/delivery receipt maps).
const DefaultMaxParticipants = 256

type RoomSettings struct {
	MaxParticipants int  `json:"max_participants"`
	ReadOnly        bool `json:"read_only"`
}

// LastMessage is the denormalized snapshot kept on the room so conversation
// lists render without touching the message log.
type LastMessage struct {
	ID        int64     `json:"id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Room struct {
	ID           string       `json:"id"`
	Type         RoomType     `json:"type"`
	Name         string       `json:"name,omitempty"`
	Description  string       `json:"description,omitempty"`
	Participants []string     `json:"participants"`
	Admins       []string     `json:"admins,omitempty"`
	Settings     RoomSettings `json:"settings"`
	Archived     bool         `json:"archived,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`

	// Unread maps participant id to the number of messages appended since
	// that participant last marked the room read.
	Unread map[string]int `json:"unread,omitempty"`
}

// NewRoom builds a room shell. The creator is always a participant and the
// first admin; duplicate participant ids collapse.
func NewRoom(creator string, participants []string, rtype RoomType, name string) *Room {
	now := time.Now().UTC()
	seen := map[string]bool{creator: true}
	all := []string{creator}
	for _, p := range participants {
		if p != "" && !seen[p] {
			seen[p] = true
			all = append(all, p)
		}
	}
	return &Room{
		ID:           uuid.NewString(),
		Type:         rtype,
		Name:         name,
		Participants: all,
		Admins:       []string{creator},
		Settings:     RoomSettings{MaxParticipants: DefaultMaxParticipants},
		CreatedAt:    now,
		LastActivity: now,
		Unread:       map[string]int{},
	}
}

// HasParticipant reports whether id belongs to the room.
func (r *Room) HasParticipant(id string) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// IsAdmin reports whether id is on the room's admin list.
func (r *Room) IsAdmin(id string) bool {
	for _, a := range r.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// UnreadFor returns the unread counter for id, zero when absent.
func (r *Room) UnreadFor(id string) int {
	if r.Unread == nil {
		return 0
	}
	return r.Unread[id]
}
