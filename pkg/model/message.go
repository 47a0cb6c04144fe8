package model

import "time"

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
)

// MaxBodyLength is the hard cap on message bodies, checked before any mutation.
const MaxBodyLength = 2000

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// Message is one entry in a room's append-only log. ID, RoomID, SenderID and
// Timestamp are immutable after the append; edits touch only Body/EditedAt and
// deletes leave a tombstone with the body hidden.
type Message struct {
	ID        int64       `json:"id"`
	RoomID    string      `json:"room_id"`
	SenderID  string      `json:"sender_id"`
	Body      string      `json:"body"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`

	Mentions    []string     `json:"mentions,omitempty"`
	Hashtags    []string     `json:"hashtags,omitempty"`
	URLs        []string     `json:"urls,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     int64        `json:"reply_to,omitempty"`

	// Reactions maps symbol -> identity id -> reaction time.
	Reactions map[string]map[string]time.Time `json:"reactions,omitempty"`

	Edited    bool       `json:"is_edited,omitempty"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	Deleted   bool       `json:"is_deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	ReadBy      map[string]time.Time `json:"read_by,omitempty"`
	DeliveredTo map[string]time.Time `json:"delivered_to,omitempty"`
}

// Tombstone clears the visible content of a deleted message in place. The id
// stays resolvable so clients can render a "message deleted" placeholder.
func (m *Message) Tombstone(at time.Time) {
	m.Body = ""
	m.Mentions = nil
	m.Hashtags = nil
	m.URLs = nil
	m.Attachments = nil
	m.Deleted = true
	m.DeletedAt = &at
}

// AllowedReactions is the fixed symbol allow-list; anything else is rejected
// with INVALID_REACTION before the store is touched.
var AllowedReactions = map[string]bool{
	"👍": true, "👎": true, "❤️": true, "😂": true, "😮": true,
	"😢": true, "😡": true, "🎉": true, "🔥": true, "👀": true,
}
