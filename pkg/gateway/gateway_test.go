package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arush/chatcore/pkg/auth"
	"github.com/arush/chatcore/pkg/config"
	"github.com/arush/chatcore/pkg/model"
	"github.com/arush/chatcore/pkg/presence"
	"github.com/arush/chatcore/pkg/queue"
	"github.com/arush/chatcore/pkg/snowflake"
	"github.com/arush/chatcore/pkg/store"
)

type testEnv struct {
	srv        *httptest.Server
	store      *store.Memory
	presence   *presence.Memory
	dispatcher *queue.Dispatcher
	auth       *auth.Authenticator
}

func newTestEnv(t *testing.T, typingTimeout time.Duration) *testEnv {
	t.Helper()
	cfg := config.Config{
		JWTSecret:        "test-secret",
		MaxMessageLength: model.MaxBodyLength,
		HistoryPageSize:  50,
		TypingTimeout:    typingTimeout,
	}
	st := store.NewMemory(cfg.MaxMessageLength)
	reg := presence.NewMemory()
	dispatcher := queue.NewDispatcher(queue.NewMemoryBroker())
	ids, err := snowflake.NewGenerator(1)
	require.NoError(t, err)
	authenticator := auth.New(cfg.JWTSecret)

	hub := NewHub()
	co := NewCoordinator(hub, st, reg, authenticator, dispatcher, ids, cfg)
	srv := httptest.NewServer(http.HandlerFunc(co.ServeWS))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: st, presence: reg, dispatcher: dispatcher, auth: authenticator}
}

func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Event{Event: event, Data: raw}))
}

// waitFor reads frames until one matches the wanted event name, skipping
// interleaved broadcasts.
func waitFor(t *testing.T, ws *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	ws.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var ev Event
		require.NoError(t, ws.ReadJSON(&ev), "waiting for %q", event)
		if ev.Event == event {
			return ev.Data
		}
	}
	t.Fatalf("timed out waiting for %q", event)
	return nil
}

func authenticateAs(t *testing.T, ws *websocket.Conn, id string) {
	t.Helper()
	send(t, ws, EvAuthenticate, auth.Credential{ID: id})
	waitFor(t, ws, EvAuthenticated)
	waitFor(t, ws, EvOnlineUsersList)
}

func makeRoom(t *testing.T, e *testEnv, creator string, others ...string) *model.Room {
	t.Helper()
	room := model.NewRoom(creator, others, model.RoomGroup, "test room")
	require.NoError(t, e.store.CreateRoom(context.Background(), room))
	return room
}

func TestAuthenticateViaEvent(t *testing.T) {
	e := newTestEnv(t, time.Second)
	ws := e.dial(t, nil)

	send(t, ws, EvAuthenticate, auth.Credential{ID: "alice"})

	data := waitFor(t, ws, EvAuthenticated)
	var id model.Identity
	require.NoError(t, json.Unmarshal(data, &id))
	assert.Equal(t, "alice", id.ID)

	// Snapshot arrives before anything else and includes ourselves.
	data = waitFor(t, ws, EvOnlineUsersList)
	var online []model.PresenceRecord
	require.NoError(t, json.Unmarshal(data, &online))
	require.Len(t, online, 1)
	assert.Equal(t, "alice", online[0].IdentityID)

	on, err := e.presence.IsOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestAuthenticateViaUpgradeToken(t *testing.T) {
	e := newTestEnv(t, time.Second)
	token, err := e.auth.GenerateToken(model.Identity{ID: "alice", Name: "Alice"})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws := e.dial(t, header)

	data := waitFor(t, ws, EvAuthenticated)
	var id model.Identity
	require.NoError(t, json.Unmarshal(data, &id))
	assert.Equal(t, "alice", id.ID)
	assert.Equal(t, "Alice", id.Name)
}

func TestUnauthenticatedActionRejected(t *testing.T) {
	e := newTestEnv(t, time.Second)
	ws := e.dial(t, nil)

	send(t, ws, EvJoinRoom, joinRoomReq{RoomID: "r1"})

	data := waitFor(t, ws, EvError)
	var ee errorEvent
	require.NoError(t, json.Unmarshal(data, &ee))
	assert.Equal(t, "AUTH_REQUIRED", ee.Type)
}

func TestJoinRoomDeniedForNonParticipant(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	ws := e.dial(t, nil)
	authenticateAs(t, ws, "mallory")
	send(t, ws, EvJoinRoom, joinRoomReq{RoomID: room.ID})

	data := waitFor(t, ws, EvError)
	var ee errorEvent
	require.NoError(t, json.Unmarshal(data, &ee))
	assert.Equal(t, "ROOM_ACCESS_DENIED", ee.Type)
}

func TestJoinDeliversRoomAndHistory(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	seed := &model.Message{
		ID: 1, RoomID: room.ID, SenderID: "alice", Body: "earlier",
		Type: model.TypeText, Timestamp: time.Now().UTC(),
	}
	require.NoError(t, e.store.AppendMessage(context.Background(), seed))

	ws := e.dial(t, nil)
	authenticateAs(t, ws, "bob")
	send(t, ws, EvJoinRoom, joinRoomReq{RoomID: room.ID})

	data := waitFor(t, ws, EvRoomJoined)
	var got model.Room
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, room.ID, got.ID)

	data = waitFor(t, ws, EvChatHistory)
	var hist struct {
		RoomID  string     `json:"room_id"`
		History store.Page `json:"history"`
	}
	require.NoError(t, json.Unmarshal(data, &hist))
	assert.Equal(t, room.ID, hist.RoomID)
	require.Len(t, hist.History.Items, 1)
	assert.Equal(t, "earlier", hist.History.Items[0].Body)

	// Joining resets the unread counter.
	fresh, err := e.store.Room(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.UnreadFor("bob"))
}

func TestSendMessageFanOut(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")
	send(t, bob, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, bob, EvChatHistory)

	send(t, alice, EvSendMessage, sendMessageReq{RoomID: room.ID, Body: "hello @bob"})

	// The sender gets message-sent, the peer gets new-message.
	data := waitFor(t, alice, EvMessageSent)
	var sent model.Message
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, "hello @bob", sent.Body)
	assert.NotZero(t, sent.ID)
	assert.Equal(t, []string{"bob"}, sent.Mentions)

	data = waitFor(t, bob, EvNewMessage)
	var recv model.Message
	require.NoError(t, json.Unmarshal(data, &recv))
	assert.Equal(t, sent.ID, recv.ID)
	assert.Equal(t, "alice", recv.SenderID)

	// The write happened before the fan-out, so history already has it.
	page, err := e.store.History(context.Background(), room.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, sent.ID, page.Items[0].ID)

	// Analytics is queued for every message.
	depth, err := e.dispatcher.Broker().Depth(context.Background(), "chat-analytics-queue")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestPersonalChannelDeliveryOutsideRoomChannel(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	// Bob is connected and authenticated but never joins the room channel.
	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")

	send(t, alice, EvSendMessage, sendMessageReq{RoomID: room.ID, Body: "direct to you"})
	waitFor(t, alice, EvMessageSent)

	// The message reaches bob on his personal channel.
	data := waitFor(t, bob, EvNewMessage)
	var recv model.Message
	require.NoError(t, json.Unmarshal(data, &recv))
	assert.Equal(t, "direct to you", recv.Body)
	assert.Equal(t, "alice", recv.SenderID)

	// Live delivery also stamps the receipt.
	require.Eventually(t, func() bool {
		m, err := e.store.Message(context.Background(), room.ID, recv.ID)
		if err != nil {
			return false
		}
		_, ok := m.DeliveredTo["bob"]
		return ok
	}, time.Second, 10*time.Millisecond)

	// And bob counts as online, so no notification job is queued.
	depth, err := e.dispatcher.Broker().Depth(context.Background(), "notification-queue")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestOfflineParticipantGetsNotificationJob(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	// bob never connects.
	send(t, alice, EvSendMessage, sendMessageReq{RoomID: room.ID, Body: "you there?"})
	waitFor(t, alice, EvMessageSent)

	require.Eventually(t, func() bool {
		depth, _ := e.dispatcher.Broker().Depth(context.Background(), "notification-queue")
		return depth == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTypingIndicatorAutoExpires(t *testing.T) {
	e := newTestEnv(t, 150*time.Millisecond)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")
	send(t, bob, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, bob, EvChatHistory)

	started := time.Now()
	send(t, alice, EvTypingStart, typingReq{RoomID: room.ID})

	data := waitFor(t, bob, EvTypingStart)
	var ev typingEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "alice", ev.IdentityID)

	// No explicit stop: the server-owned timer fires on its own.
	waitFor(t, bob, EvTypingStop)
	assert.GreaterOrEqual(t, time.Since(started), 100*time.Millisecond)
}

func TestTypingStopOnExplicitStop(t *testing.T) {
	e := newTestEnv(t, 5*time.Second)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")
	send(t, bob, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, bob, EvChatHistory)

	send(t, alice, EvTypingStart, typingReq{RoomID: room.ID})
	waitFor(t, bob, EvTypingStart)

	send(t, alice, EvTypingStop, typingReq{RoomID: room.ID})
	data := waitFor(t, bob, EvTypingStop)
	var ev typingEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "alice", ev.IdentityID)
}

func TestReactionBroadcast(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	msg := &model.Message{
		ID: 7, RoomID: room.ID, SenderID: "alice", Body: "react to this",
		Type: model.TypeText, Timestamp: time.Now().UTC(),
	}
	require.NoError(t, e.store.AppendMessage(context.Background(), msg))

	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")
	send(t, bob, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, bob, EvChatHistory)

	send(t, bob, EvAddReaction, reactionReq{RoomID: room.ID, MessageID: msg.ID, Reaction: "👍"})

	data := waitFor(t, bob, EvReactionAdded)
	var payload struct {
		RoomID     string         `json:"room_id"`
		IdentityID string         `json:"identity_id"`
		Reaction   string         `json:"reaction"`
		Message    *model.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "bob", payload.IdentityID)
	assert.Equal(t, "👍", payload.Reaction)
	require.NotNil(t, payload.Message)
	assert.Contains(t, payload.Message.Reactions, "👍")
}

func TestInvalidReactionRejected(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	msg := &model.Message{
		ID: 8, RoomID: room.ID, SenderID: "alice", Body: "x",
		Type: model.TypeText, Timestamp: time.Now().UTC(),
	}
	require.NoError(t, e.store.AppendMessage(context.Background(), msg))

	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")
	send(t, bob, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, bob, EvChatHistory)

	send(t, bob, EvAddReaction, reactionReq{RoomID: room.ID, MessageID: msg.ID, Reaction: "🤖"})

	data := waitFor(t, bob, EvError)
	var ee errorEvent
	require.NoError(t, json.Unmarshal(data, &ee))
	assert.Equal(t, "INVALID_REACTION", ee.Type)
}

func TestMalformedFrameReportsError(t *testing.T) {
	e := newTestEnv(t, time.Second)
	ws := e.dial(t, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	data := waitFor(t, ws, EvError)
	var ee errorEvent
	require.NoError(t, json.Unmarshal(data, &ee))
	assert.Equal(t, "MALFORMED_EVENT", ee.Type)
}

func TestDisconnectBroadcastsOfflineAndTypingStop(t *testing.T) {
	e := newTestEnv(t, 5*time.Second)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")
	send(t, bob, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, bob, EvChatHistory)

	// Alice starts typing, then drops without an explicit stop.
	send(t, alice, EvTypingStart, typingReq{RoomID: room.ID})
	waitFor(t, bob, EvTypingStart)
	alice.Close()

	waitFor(t, bob, EvTypingStop)
	data := waitFor(t, bob, EvUserOffline)
	var rec model.PresenceRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "alice", rec.IdentityID)
	assert.Equal(t, model.StatusOffline, rec.Status)

	require.Eventually(t, func() bool {
		on, _ := e.presence.IsOnline(context.Background(), "alice")
		return !on
	}, time.Second, 10*time.Millisecond)
}

func TestEditAndDeleteBroadcast(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	send(t, alice, EvSendMessage, sendMessageReq{RoomID: room.ID, Body: "draft"})
	data := waitFor(t, alice, EvMessageSent)
	var sent model.Message
	require.NoError(t, json.Unmarshal(data, &sent))

	send(t, alice, EvEditMessage, editMessageReq{RoomID: room.ID, MessageID: sent.ID, Body: "final"})
	data = waitFor(t, alice, EvMessageEdited)
	var edited model.Message
	require.NoError(t, json.Unmarshal(data, &edited))
	assert.Equal(t, "final", edited.Body)
	assert.True(t, edited.Edited)

	send(t, alice, EvDeleteMessage, deleteMessageReq{RoomID: room.ID, MessageID: sent.ID})
	data = waitFor(t, alice, EvMessageDeleted)
	var deleted model.Message
	require.NoError(t, json.Unmarshal(data, &deleted))
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Body)
}

func TestMarkReadBroadcast(t *testing.T) {
	e := newTestEnv(t, time.Second)
	room := makeRoom(t, e, "alice", "bob")

	alice := e.dial(t, nil)
	authenticateAs(t, alice, "alice")
	send(t, alice, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, alice, EvChatHistory)

	bob := e.dial(t, nil)
	authenticateAs(t, bob, "bob")
	send(t, bob, EvJoinRoom, joinRoomReq{RoomID: room.ID})
	waitFor(t, bob, EvChatHistory)

	send(t, alice, EvSendMessage, sendMessageReq{RoomID: room.ID, Body: "read me"})
	waitFor(t, bob, EvNewMessage)

	send(t, bob, EvMarkAsRead, markReadReq{RoomID: room.ID})

	data := waitFor(t, alice, EvMessageRead)
	var ev messageReadEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "bob", ev.IdentityID)
	assert.Equal(t, room.ID, ev.RoomID)
}
