package gateway

import "sync"

// Hub tracks live connections and their channel bindings: one personal
// channel per identity plus one channel per joined room. Fan-out never blocks
// on a slow connection; enqueue drops the connection instead.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]bool
	rooms map[string]map[*Conn]bool
	users map[string]map[*Conn]bool
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*Conn]bool),
		rooms: make(map[string]map[*Conn]bool),
		users: make(map[string]map[*Conn]bool),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	for roomID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if id := c.Identity(); id != nil {
		if set, ok := h.users[id.ID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.users, id.ID)
			}
		}
	}
	h.mu.Unlock()
	c.shutdown()
}

// Activate binds the authenticated connection's personal channel and queues
// the presence snapshot under the hub lock, so every global broadcast that
// follows is ordered after the snapshot on this connection.
func (h *Hub) Activate(c *Conn, identityID string, snapshot []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[identityID] == nil {
		h.users[identityID] = make(map[*Conn]bool)
	}
	h.users[identityID][c] = true
	c.enqueue(snapshot)
	c.ready = true
}

func (h *Hub) JoinRoom(roomID string, c *Conn) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Conn]bool)
	}
	h.rooms[roomID][c] = true
	h.mu.Unlock()
}

func (h *Hub) LeaveRoom(roomID string, c *Conn) {
	h.mu.Lock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// BroadcastRoom fans a frame out to every connection in the room channel,
// skipping except when non-nil.
func (h *Hub) BroadcastRoom(roomID string, frame []byte, except *Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if c != except {
			c.enqueue(frame)
		}
	}
}

// RoomIdentityIDs lists the identities currently connected to a room channel.
func (h *Hub) RoomIdentityIDs(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for c := range h.rooms[roomID] {
		if id := c.Identity(); id != nil && !seen[id.ID] {
			seen[id.ID] = true
			out = append(out, id.ID)
		}
	}
	return out
}

// SendToUser delivers a frame on an identity's personal channel.
func (h *Hub) SendToUser(identityID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.users[identityID] {
		c.enqueue(frame)
	}
}

// Broadcast fans a frame out to every activated connection.
func (h *Hub) Broadcast(frame []byte, except *Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c != except && c.ready {
			c.enqueue(frame)
		}
	}
}
