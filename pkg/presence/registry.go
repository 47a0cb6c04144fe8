// Package presence tracks which identities are connected and what status they
// advertise. Records are ephemeral: created on authenticated connect, removed
// on disconnect, with lastSeen surviving as the offline timestamp.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arush/chatcore/pkg/model"
)

// Registry is constructed once at startup and injected into the session
// coordinator, so a distributed backend can replace the in-process one without
// touching call sites.
type Registry interface {
	SetOnline(ctx context.Context, rec model.PresenceRecord) error
	SetOffline(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status model.PresenceStatus) error
	IsOnline(ctx context.Context, id string) (bool, error)
	ListOnline(ctx context.Context) ([]model.PresenceRecord, error)
	LastSeen(ctx context.Context, id string) (time.Time, error)
	Kind() string
	Close() error
}

// Memory is the in-process registry.
type Memory struct {
	mu       sync.RWMutex
	online   map[string]model.PresenceRecord
	lastSeen map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		online:   make(map[string]model.PresenceRecord),
		lastSeen: make(map[string]time.Time),
	}
}

func (m *Memory) Kind() string { return "memory" }
func (m *Memory) Close() error { return nil }

func (m *Memory) SetOnline(_ context.Context, rec model.PresenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Status == "" || rec.Status == model.StatusOffline {
		rec.Status = model.StatusOnline
	}
	rec.LastSeen = time.Now().UTC()
	m.online[rec.IdentityID] = rec
	return nil
}

func (m *Memory) SetOffline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, id)
	m.lastSeen[id] = time.Now().UTC()
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id string, status model.PresenceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.online[id]
	if !ok {
		return nil
	}
	rec.Status = status
	m.online[id] = rec
	return nil
}

func (m *Memory) IsOnline(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.online[id]
	return ok, nil
}

func (m *Memory) ListOnline(_ context.Context) ([]model.PresenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PresenceRecord, 0, len(m.online))
	for _, rec := range m.online {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out, nil
}

func (m *Memory) LastSeen(_ context.Context, id string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.online[id]; ok {
		return rec.LastSeen, nil
	}
	return m.lastSeen[id], nil
}
