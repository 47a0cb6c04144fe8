// Package store holds the room/message persistence contract and its two
// implementations: ScyllaDB for durable deployments and an in-process fallback
// used when the cluster is unreachable at startup. Callers never branch on the
// backend; the factory picks one and everything else goes through Store.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/arush/chatcore/pkg/errs"
	"github.com/arush/chatcore/pkg/model"
)

// Page is one window of a room's history. Items are in insertion order; page 1
// is the most recent window, higher pages walk backwards in time.
type Page struct {
	Items      []*model.Message `json:"items"`
	TotalCount int              `json:"totalCount"`
	HasMore    bool             `json:"hasMore"`
}

type SearchFilter struct {
	RoomID string
	Sender string
	After  time.Time
	Limit  int
}

// Store is the single persistence surface for rooms and messages. Every method
// is one atomic read-modify-write against the backend; handlers never compose
// separate reads and writes that could interleave.
type Store interface {
	CreateRoom(ctx context.Context, room *model.Room) error
	Room(ctx context.Context, id string) (*model.Room, error)
	RoomsForIdentity(ctx context.Context, identityID string) ([]*model.Room, error)
	ArchiveRoom(ctx context.Context, id string) error

	// AppendMessage persists msg and, in the same operation, refreshes the
	// room's lastMessage/lastActivity and bumps every other participant's
	// unread counter.
	AppendMessage(ctx context.Context, msg *model.Message) error
	Message(ctx context.Context, roomID string, id int64) (*model.Message, error)
	History(ctx context.Context, roomID string, page, limit int) (*Page, error)

	EditMessage(ctx context.Context, roomID string, id int64, editor, body string, at time.Time) (*model.Message, error)
	DeleteMessage(ctx context.Context, roomID string, id int64, requester string, at time.Time) (*model.Message, error)

	AddReaction(ctx context.Context, roomID string, id int64, identity, symbol string, at time.Time) (*model.Message, error)
	RemoveReaction(ctx context.Context, roomID string, id int64, identity, symbol string) (*model.Message, error)

	// MarkRead zeroes the identity's unread counter and stamps a read receipt
	// on the given message, or on every message in the room when messageID is
	// zero.
	MarkRead(ctx context.Context, roomID, identity string, messageID int64, at time.Time) error
	MarkDelivered(ctx context.Context, roomID string, messageID int64, identity string, at time.Time) error

	// Search runs a substring match over rooms the identity participates in.
	// Messages from other rooms are never returned.
	Search(ctx context.Context, identity, query string, f SearchFilter) ([]*model.Message, error)

	Kind() string
	Close() error
}

const defaultSearchLimit = 50

func validateRoom(room *model.Room) error {
	if len(room.Participants) == 0 {
		return errs.New(errs.InvalidRoomData, "room needs at least one participant")
	}
	if room.Type == model.RoomDirect && len(room.Participants) != 2 {
		return errs.New(errs.InvalidRoomData, "direct room needs exactly two participants")
	}
	max := room.Settings.MaxParticipants
	if max == 0 {
		max = model.DefaultMaxParticipants
	}
	if len(room.Participants) > max {
		return errs.New(errs.InvalidRoomData, "too many participants")
	}
	switch room.Type {
	case model.RoomDirect, model.RoomGroup, model.RoomChannel:
	default:
		return errs.New(errs.InvalidRoomData, "unknown room type")
	}
	return nil
}

func validateMessage(m *model.Message, max int) error {
	if len([]rune(m.Body)) > max {
		return errs.New(errs.MessageTooLong, "message exceeds maximum length")
	}
	if strings.TrimSpace(m.Body) == "" && len(m.Attachments) == 0 {
		return errs.New(errs.EmptyMessage, "message body is empty")
	}
	return nil
}

func validateReaction(symbol string) error {
	if !model.AllowedReactions[symbol] {
		return errs.New(errs.InvalidReaction, "reaction not in allow-list")
	}
	return nil
}

func validateBody(body string, max int) error {
	if strings.TrimSpace(body) == "" {
		return errs.New(errs.EmptyMessage, "message body is empty")
	}
	if len([]rune(body)) > max {
		return errs.New(errs.MessageTooLong, "message exceeds maximum length")
	}
	return nil
}

func matchesSearch(m *model.Message, query string, f SearchFilter) bool {
	if m.Deleted {
		return false
	}
	if f.Sender != "" && m.SenderID != f.Sender {
		return false
	}
	if !f.After.IsZero() && m.Timestamp.Before(f.After) {
		return false
	}
	return strings.Contains(strings.ToLower(m.Body), strings.ToLower(query))
}
