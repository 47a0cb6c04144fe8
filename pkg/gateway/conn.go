package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arush/chatcore/pkg/logger"
	"github.com/arush/chatcore/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size; covers a max-length body plus envelope.
	maxFrameSize = 16 * 1024

	sendBuffer = 256
)

// Conn is the middleman between one websocket and the coordinator. It owns
// the per-connection state machine data: the resolved identity, joined rooms
// and typing timers.
type Conn struct {
	hub *Hub
	ws  *websocket.Conn

	send chan []byte

	mu       sync.Mutex
	closed   bool
	identity *model.Identity
	rooms    map[string]bool
	typing   map[string]*time.Timer

	// ready is owned by the hub mutex: set once the presence snapshot has
	// been queued, gating global broadcast traffic.
	ready bool
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		hub:    hub,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]bool),
		typing: make(map[string]*time.Timer),
	}
}

// Identity returns the resolved identity, nil while unauthenticated.
func (c *Conn) Identity() *model.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conn) setIdentity(id model.Identity) {
	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()
}

func (c *Conn) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

func (c *Conn) trackRoom(roomID string, joined bool) {
	c.mu.Lock()
	if joined {
		c.rooms[roomID] = true
	} else {
		delete(c.rooms, roomID)
	}
	c.mu.Unlock()
}

func (c *Conn) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// armTyping starts or refreshes the server-owned typing timer for a room and
// reports whether the indicator was freshly armed.
func (c *Conn) armTyping(roomID string, ttl time.Duration, onExpire func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	refresh := false
	if t, ok := c.typing[roomID]; ok {
		if t.Stop() {
			t.Reset(ttl)
			return false
		}
		// The timer fired and its callback is pending; it finds a newer
		// timer in the map and stands down. Arm a replacement.
		refresh = true
	}
	var t *time.Timer
	t = time.AfterFunc(ttl, func() {
		c.mu.Lock()
		if c.typing[roomID] != t {
			// Refreshed or stopped while this callback was in flight.
			c.mu.Unlock()
			return
		}
		delete(c.typing, roomID)
		c.mu.Unlock()
		onExpire()
	})
	c.typing[roomID] = t
	return !refresh
}

// stopTyping cancels the timer for a room, reporting whether one was armed.
func (c *Conn) stopTyping(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.typing[roomID]
	if !ok {
		return false
	}
	t.Stop()
	delete(c.typing, roomID)
	return true
}

// cancelAllTyping stops every typing timer and returns the rooms that had one
// armed, so the coordinator can broadcast explicit typing-stop for each.
func (c *Conn) cancelAllTyping() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rooms []string
	for room, t := range c.typing {
		t.Stop()
		rooms = append(rooms, room)
	}
	c.typing = make(map[string]*time.Timer)
	return rooms
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps frames from the websocket to the coordinator. One goroutine
// per connection; a slow store call inside a handler only stalls this
// connection's reads, never another connection's.
func (c *Conn) readPump(co *Coordinator) {
	defer func() {
		co.handleDisconnect(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug("websocket read error", "err", err)
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil || ev.Event == "" {
			c.enqueue(encode(EvError, errorEvent{Type: "MALFORMED_EVENT", Message: "expected {event, data} frame"}))
			continue
		}
		co.dispatch(c, ev)
	}
}

// writePump pumps queued frames to the websocket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a frame to the write pump without ever blocking the caller. A
// connection that cannot drain its buffer is shut down.
func (c *Conn) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.closed = true
		close(c.send)
	}
}
