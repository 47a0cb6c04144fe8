package store

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/arush/chatcore/pkg/db"
	"github.com/arush/chatcore/pkg/errs"
	"github.com/arush/chatcore/pkg/model"
)

// Scylla persists rooms and messages as JSON payloads keyed the same way the
// memory store keys them: rooms by id, messages clustered by snowflake id
// inside the room partition, unread counters in a dedicated counter table
// (reset by row deletion, which is how Scylla counters go back to zero).
//
// Read-modify-write sequences on a room are serialized through striped
// in-process locks. The engine is a single logical address space, so this is
// the documented consistency level: per-room serialization in-process, counter
// increments atomic server-side.
type Scylla struct {
	session *db.Session
	maxBody int
	locks   [64]sync.Mutex
}

func NewScylla(session *db.Session, maxBody int) *Scylla {
	if maxBody <= 0 {
		maxBody = model.MaxBodyLength
	}
	return &Scylla{session: session, maxBody: maxBody}
}

func (s *Scylla) Kind() string { return "scylla" }

func (s *Scylla) Close() error {
	s.session.Close()
	return nil
}

func (s *Scylla) lock(roomID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

func (s *Scylla) CreateRoom(ctx context.Context, room *model.Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	payload, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := s.session.Query(`INSERT INTO rooms (id, payload) VALUES (?, ?)`,
		room.ID, string(payload)).WithContext(ctx).Exec(); err != nil {
		return err
	}
	for _, p := range room.Participants {
		if err := s.session.Query(`INSERT INTO rooms_by_user (user_id, room_id) VALUES (?, ?)`,
			p, room.ID).WithContext(ctx).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scylla) loadRoom(ctx context.Context, id string) (*model.Room, error) {
	var payload string
	if err := s.session.Query(`SELECT payload FROM rooms WHERE id = ?`, id).
		WithContext(ctx).Scan(&payload); err != nil {
		return nil, errs.New(errs.RoomNotFound, "no such room")
	}
	var room model.Room
	if err := json.Unmarshal([]byte(payload), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Scylla) saveRoom(ctx context.Context, room *model.Room) error {
	payload, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.session.Query(`INSERT INTO rooms (id, payload) VALUES (?, ?)`,
		room.ID, string(payload)).WithContext(ctx).Exec()
}

func (s *Scylla) unreadFor(ctx context.Context, userID, roomID string) int {
	var n int64
	if err := s.session.Query(`SELECT unread FROM room_unread WHERE user_id = ? AND room_id = ?`,
		userID, roomID).WithContext(ctx).Scan(&n); err != nil {
		return 0
	}
	return int(n)
}

func (s *Scylla) Room(ctx context.Context, id string) (*model.Room, error) {
	room, err := s.loadRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	room.Unread = map[string]int{}
	for _, p := range room.Participants {
		if n := s.unreadFor(ctx, p, id); n > 0 {
			room.Unread[p] = n
		}
	}
	return room, nil
}

func (s *Scylla) RoomsForIdentity(ctx context.Context, identityID string) ([]*model.Room, error) {
	iter := s.session.Query(`SELECT room_id FROM rooms_by_user WHERE user_id = ?`, identityID).
		WithContext(ctx).Iter()
	var roomIDs []string
	var roomID string
	for iter.Scan(&roomID) {
		roomIDs = append(roomIDs, roomID)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	var out []*model.Room
	for _, id := range roomIDs {
		room, err := s.loadRoom(ctx, id)
		if err != nil {
			continue
		}
		room.Unread = map[string]int{}
		if n := s.unreadFor(ctx, identityID, id); n > 0 {
			room.Unread[identityID] = n
		}
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *Scylla) ArchiveRoom(ctx context.Context, id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	room, err := s.loadRoom(ctx, id)
	if err != nil {
		return err
	}
	room.Archived = true
	return s.saveRoom(ctx, room)
}

func (s *Scylla) AppendMessage(ctx context.Context, msg *model.Message) error {
	if err := validateMessage(msg, s.maxBody); err != nil {
		return err
	}
	mu := s.lock(msg.RoomID)
	mu.Lock()
	defer mu.Unlock()

	room, err := s.loadRoom(ctx, msg.RoomID)
	if err != nil {
		return err
	}
	if room.Archived {
		return errs.New(errs.RoomAccessDenied, "room is archived")
	}
	if !room.HasParticipant(msg.SenderID) {
		return errs.New(errs.RoomAccessDenied, "sender is not a participant")
	}

	if err := s.saveMessage(ctx, msg); err != nil {
		return err
	}

	room.LastActivity = msg.Timestamp
	room.LastMessage = &model.LastMessage{
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Message:   msg.Body,
		Timestamp: msg.Timestamp,
	}
	if err := s.saveRoom(ctx, room); err != nil {
		return err
	}

	for _, p := range room.Participants {
		if p == msg.SenderID {
			continue
		}
		if err := s.session.Query(`UPDATE room_unread SET unread = unread + 1 WHERE user_id = ? AND room_id = ?`,
			p, msg.RoomID).WithContext(ctx).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scylla) saveMessage(ctx context.Context, msg *model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.session.Query(`INSERT INTO messages (room_id, id, payload) VALUES (?, ?, ?)`,
		msg.RoomID, msg.ID, string(payload)).WithContext(ctx).Exec()
}

func (s *Scylla) Message(ctx context.Context, roomID string, id int64) (*model.Message, error) {
	var payload string
	if err := s.session.Query(`SELECT payload FROM messages WHERE room_id = ? AND id = ?`,
		roomID, id).WithContext(ctx).Scan(&payload); err != nil {
		return nil, errs.New(errs.MessageNotFound, "no such message")
	}
	var msg model.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// roomLog reads the whole room partition in clustering order. Rooms are
// bounded by MaxParticipants and practical history depth; paging happens on
// the slice like the memory store.
func (s *Scylla) roomLog(ctx context.Context, roomID string) ([]*model.Message, error) {
	iter := s.session.Query(`SELECT payload FROM messages WHERE room_id = ?`, roomID).
		WithContext(ctx).Iter()
	var log []*model.Message
	var payload string
	for iter.Scan(&payload) {
		var msg model.Message
		if err := json.Unmarshal([]byte(payload), &msg); err == nil {
			log = append(log, &msg)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return log, nil
}

func (s *Scylla) History(ctx context.Context, roomID string, page, limit int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}
	log, err := s.roomLog(ctx, roomID)
	if err != nil {
		return nil, err
	}
	total := len(log)
	end := total - (page-1)*limit
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return &Page{Items: log[start:end], TotalCount: total, HasMore: start > 0}, nil
}

func (s *Scylla) mutateMessage(ctx context.Context, roomID string, id int64, fn func(*model.Message) error) (*model.Message, error) {
	mu := s.lock(roomID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := s.Message(ctx, roomID, id)
	if err != nil {
		return nil, err
	}
	if err := fn(msg); err != nil {
		return nil, err
	}
	if err := s.saveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Scylla) EditMessage(ctx context.Context, roomID string, id int64, editor, body string, at time.Time) (*model.Message, error) {
	if err := validateBody(body, s.maxBody); err != nil {
		return nil, err
	}
	return s.mutateMessage(ctx, roomID, id, func(m *model.Message) error {
		if m.Deleted {
			return errs.New(errs.MessageNotFound, "message deleted")
		}
		if m.SenderID != editor {
			return errs.New(errs.NotSender, "only the sender can edit")
		}
		m.Body = body
		m.Edited = true
		m.EditedAt = &at
		m.Mentions, m.Hashtags, m.URLs = model.ExtractEntities(body)
		return nil
	})
}

func (s *Scylla) DeleteMessage(ctx context.Context, roomID string, id int64, requester string, at time.Time) (*model.Message, error) {
	return s.mutateMessage(ctx, roomID, id, func(m *model.Message) error {
		if m.SenderID != requester {
			return errs.New(errs.NotSender, "only the sender can delete")
		}
		if !m.Deleted {
			m.Tombstone(at)
		}
		return nil
	})
}

func (s *Scylla) AddReaction(ctx context.Context, roomID string, id int64, identity, symbol string, at time.Time) (*model.Message, error) {
	if err := validateReaction(symbol); err != nil {
		return nil, err
	}
	return s.mutateMessage(ctx, roomID, id, func(m *model.Message) error {
		if m.Deleted {
			return errs.New(errs.MessageNotFound, "message deleted")
		}
		if m.Reactions == nil {
			m.Reactions = map[string]map[string]time.Time{}
		}
		if m.Reactions[symbol] == nil {
			m.Reactions[symbol] = map[string]time.Time{}
		}
		if _, ok := m.Reactions[symbol][identity]; !ok {
			m.Reactions[symbol][identity] = at
		}
		return nil
	})
}

func (s *Scylla) RemoveReaction(ctx context.Context, roomID string, id int64, identity, symbol string) (*model.Message, error) {
	return s.mutateMessage(ctx, roomID, id, func(m *model.Message) error {
		if users, ok := m.Reactions[symbol]; ok {
			delete(users, identity)
			if len(users) == 0 {
				delete(m.Reactions, symbol)
			}
		}
		return nil
	})
}

func (s *Scylla) MarkRead(ctx context.Context, roomID, identity string, messageID int64, at time.Time) error {
	mu := s.lock(roomID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return err
	}
	// Counter reset is a row delete.
	if err := s.session.Query(`DELETE FROM room_unread WHERE user_id = ? AND room_id = ?`,
		identity, roomID).WithContext(ctx).Exec(); err != nil {
		return err
	}

	stamp := func(m *model.Message) bool {
		if m.SenderID == identity {
			return false
		}
		if m.ReadBy == nil {
			m.ReadBy = map[string]time.Time{}
		}
		if _, ok := m.ReadBy[identity]; ok {
			return false
		}
		m.ReadBy[identity] = at
		return true
	}

	if messageID != 0 {
		msg, err := s.Message(ctx, roomID, messageID)
		if err != nil {
			return nil
		}
		if stamp(msg) {
			return s.saveMessage(ctx, msg)
		}
		return nil
	}

	log, err := s.roomLog(ctx, roomID)
	if err != nil {
		return err
	}
	for _, m := range log {
		if stamp(m) {
			if err := s.saveMessage(ctx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scylla) MarkDelivered(ctx context.Context, roomID string, messageID int64, identity string, at time.Time) error {
	_, err := s.mutateMessage(ctx, roomID, messageID, func(m *model.Message) error {
		if m.DeliveredTo == nil {
			m.DeliveredTo = map[string]time.Time{}
		}
		if _, ok := m.DeliveredTo[identity]; !ok {
			m.DeliveredTo[identity] = at
		}
		return nil
	})
	return err
}

func (s *Scylla) Search(ctx context.Context, identity, query string, f SearchFilter) ([]*model.Message, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rooms, err := s.RoomsForIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	var out []*model.Message
	for _, room := range rooms {
		if f.RoomID != "" && room.ID != f.RoomID {
			continue
		}
		log, err := s.roomLog(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range log {
			if matchesSearch(m, query, f) {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
