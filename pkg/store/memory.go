package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arush/chatcore/pkg/errs"
	"github.com/arush/chatcore/pkg/model"
)

// Memory is the in-process fallback store. One mutex serializes every
// operation, which is what makes each call an atomic read-modify-write.
type Memory struct {
	mu       sync.RWMutex
	maxBody  int
	rooms    map[string]*model.Room
	messages map[string][]*model.Message
	index    map[string]map[int64]*model.Message
}

func NewMemory(maxBody int) *Memory {
	if maxBody <= 0 {
		maxBody = model.MaxBodyLength
	}
	return &Memory{
		maxBody:  maxBody,
		rooms:    make(map[string]*model.Room),
		messages: make(map[string][]*model.Message),
		index:    make(map[string]map[int64]*model.Message),
	}
}

func (s *Memory) Kind() string { return "memory" }
func (s *Memory) Close() error { return nil }

func (s *Memory) CreateRoom(_ context.Context, room *model.Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *Memory) Room(_ context.Context, id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, errs.New(errs.RoomNotFound, "no such room")
	}
	return cloneRoom(r), nil
}

func (s *Memory) RoomsForIdentity(_ context.Context, identityID string) ([]*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Room
	for _, r := range s.rooms {
		if !r.HasParticipant(identityID) {
			continue
		}
		c := cloneRoom(r)
		// Conversation lists carry only the requester's counter.
		c.Unread = map[string]int{}
		if n := r.UnreadFor(identityID); n > 0 {
			c.Unread[identityID] = n
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *Memory) ArchiveRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return errs.New(errs.RoomNotFound, "no such room")
	}
	r.Archived = true
	return nil
}

func (s *Memory) AppendMessage(_ context.Context, msg *model.Message) error {
	if err := validateMessage(msg, s.maxBody); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[msg.RoomID]
	if !ok {
		return errs.New(errs.RoomNotFound, "no such room")
	}
	if room.Archived {
		return errs.New(errs.RoomAccessDenied, "room is archived")
	}
	if !room.HasParticipant(msg.SenderID) {
		return errs.New(errs.RoomAccessDenied, "sender is not a participant")
	}

	stored := cloneMessage(msg)
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], stored)
	if s.index[msg.RoomID] == nil {
		s.index[msg.RoomID] = make(map[int64]*model.Message)
	}
	s.index[msg.RoomID][msg.ID] = stored

	room.LastActivity = msg.Timestamp
	room.LastMessage = &model.LastMessage{
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Message:   msg.Body,
		Timestamp: msg.Timestamp,
	}
	if room.Unread == nil {
		room.Unread = map[string]int{}
	}
	for _, p := range room.Participants {
		if p != msg.SenderID {
			room.Unread[p]++
		}
	}
	return nil
}

func (s *Memory) Message(_ context.Context, roomID string, id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.index[roomID][id]
	if m == nil {
		return nil, errs.New(errs.MessageNotFound, "no such message")
	}
	return cloneMessage(m), nil
}

func (s *Memory) History(_ context.Context, roomID string, page, limit int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, errs.New(errs.RoomNotFound, "no such room")
	}

	log := s.messages[roomID]
	total := len(log)
	end := total - (page-1)*limit
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	items := make([]*model.Message, 0, end-start)
	for _, m := range log[start:end] {
		items = append(items, cloneMessage(m))
	}
	return &Page{Items: items, TotalCount: total, HasMore: start > 0}, nil
}

func (s *Memory) EditMessage(_ context.Context, roomID string, id int64, editor, body string, at time.Time) (*model.Message, error) {
	if err := validateBody(body, s.maxBody); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.index[roomID][id]
	if m == nil {
		return nil, errs.New(errs.MessageNotFound, "no such message")
	}
	if m.Deleted {
		return nil, errs.New(errs.MessageNotFound, "message deleted")
	}
	if m.SenderID != editor {
		return nil, errs.New(errs.NotSender, "only the sender can edit")
	}
	m.Body = body
	m.Edited = true
	m.EditedAt = &at
	m.Mentions, m.Hashtags, m.URLs = model.ExtractEntities(body)
	return cloneMessage(m), nil
}

func (s *Memory) DeleteMessage(_ context.Context, roomID string, id int64, requester string, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.index[roomID][id]
	if m == nil {
		return nil, errs.New(errs.MessageNotFound, "no such message")
	}
	if m.SenderID != requester {
		return nil, errs.New(errs.NotSender, "only the sender can delete")
	}
	if !m.Deleted {
		m.Tombstone(at)
	}
	return cloneMessage(m), nil
}

func (s *Memory) AddReaction(_ context.Context, roomID string, id int64, identity, symbol string, at time.Time) (*model.Message, error) {
	if err := validateReaction(symbol); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.index[roomID][id]
	if m == nil || m.Deleted {
		return nil, errs.New(errs.MessageNotFound, "no such message")
	}
	if m.Reactions == nil {
		m.Reactions = map[string]map[string]time.Time{}
	}
	if m.Reactions[symbol] == nil {
		m.Reactions[symbol] = map[string]time.Time{}
	}
	// Idempotent: a repeat reaction keeps the original timestamp.
	if _, ok := m.Reactions[symbol][identity]; !ok {
		m.Reactions[symbol][identity] = at
	}
	return cloneMessage(m), nil
}

func (s *Memory) RemoveReaction(_ context.Context, roomID string, id int64, identity, symbol string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.index[roomID][id]
	if m == nil {
		return nil, errs.New(errs.MessageNotFound, "no such message")
	}
	if users, ok := m.Reactions[symbol]; ok {
		delete(users, identity)
		if len(users) == 0 {
			delete(m.Reactions, symbol)
		}
	}
	return cloneMessage(m), nil
}

func (s *Memory) MarkRead(_ context.Context, roomID, identity string, messageID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return errs.New(errs.RoomNotFound, "no such room")
	}
	if room.Unread != nil {
		room.Unread[identity] = 0
	}
	stamp := func(m *model.Message) {
		if m.SenderID == identity {
			return
		}
		if m.ReadBy == nil {
			m.ReadBy = map[string]time.Time{}
		}
		if _, ok := m.ReadBy[identity]; !ok {
			m.ReadBy[identity] = at
		}
	}
	if messageID != 0 {
		if m := s.index[roomID][messageID]; m != nil {
			stamp(m)
		}
		return nil
	}
	for _, m := range s.messages[roomID] {
		stamp(m)
	}
	return nil
}

func (s *Memory) MarkDelivered(_ context.Context, roomID string, messageID int64, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.index[roomID][messageID]
	if m == nil {
		return errs.New(errs.MessageNotFound, "no such message")
	}
	if m.DeliveredTo == nil {
		m.DeliveredTo = map[string]time.Time{}
	}
	if _, ok := m.DeliveredTo[identity]; !ok {
		m.DeliveredTo[identity] = at
	}
	return nil
}

func (s *Memory) Search(_ context.Context, identity, query string, f SearchFilter) ([]*model.Message, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Message
	for roomID, room := range s.rooms {
		if !room.HasParticipant(identity) {
			continue
		}
		if f.RoomID != "" && roomID != f.RoomID {
			continue
		}
		for _, m := range s.messages[roomID] {
			if matchesSearch(m, query, f) {
				out = append(out, cloneMessage(m))
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

func cloneRoom(r *model.Room) *model.Room {
	c := *r
	c.Participants = append([]string(nil), r.Participants...)
	c.Admins = append([]string(nil), r.Admins...)
	if r.LastMessage != nil {
		lm := *r.LastMessage
		c.LastMessage = &lm
	}
	if r.Unread != nil {
		c.Unread = make(map[string]int, len(r.Unread))
		for k, v := range r.Unread {
			c.Unread[k] = v
		}
	}
	return &c
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	c.Mentions = append([]string(nil), m.Mentions...)
	c.Hashtags = append([]string(nil), m.Hashtags...)
	c.URLs = append([]string(nil), m.URLs...)
	c.Attachments = append([]model.Attachment(nil), m.Attachments...)
	if m.Reactions != nil {
		c.Reactions = make(map[string]map[string]time.Time, len(m.Reactions))
		for sym, users := range m.Reactions {
			cu := make(map[string]time.Time, len(users))
			for u, t := range users {
				cu[u] = t
			}
			c.Reactions[sym] = cu
		}
	}
	c.ReadBy = cloneTimes(m.ReadBy)
	c.DeliveredTo = cloneTimes(m.DeliveredTo)
	return &c
}

func cloneTimes(m map[string]time.Time) map[string]time.Time {
	if m == nil {
		return nil
	}
	c := make(map[string]time.Time, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
