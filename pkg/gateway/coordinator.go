package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arush/chatcore/pkg/auth"
	"github.com/arush/chatcore/pkg/config"
	"github.com/arush/chatcore/pkg/errs"
	"github.com/arush/chatcore/pkg/logger"
	"github.com/arush/chatcore/pkg/model"
	"github.com/arush/chatcore/pkg/presence"
	"github.com/arush/chatcore/pkg/queue"
	"github.com/arush/chatcore/pkg/snowflake"
	"github.com/arush/chatcore/pkg/store"
	"github.com/arush/chatcore/pkg/workers"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Coordinator binds connection events to room and message operations. Each
// connection moves Unauthenticated -> Authenticated -> JoinedRoom(r)* ->
// Disconnected; every room-scoped action re-verifies membership against the
// store rather than trusting the channel binding.
type Coordinator struct {
	hub      *Hub
	store    store.Store
	presence presence.Registry
	auth     *auth.Authenticator
	jobs     *queue.Dispatcher
	ids      *snowflake.Generator
	cfg      config.Config
}

func NewCoordinator(hub *Hub, st store.Store, reg presence.Registry, a *auth.Authenticator, jobs *queue.Dispatcher, ids *snowflake.Generator, cfg config.Config) *Coordinator {
	return &Coordinator{
		hub:      hub,
		store:    st,
		presence: reg,
		auth:     a,
		jobs:     jobs,
		ids:      ids,
		cfg:      cfg,
	}
}

// ServeWS upgrades the request and starts the connection pumps. A token
// supplied at upgrade time (header or query, the way bare websocket clients
// pass it) authenticates immediately; otherwise the connection waits for an
// authenticate event.
func (co *Coordinator) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	token = strings.TrimPrefix(token, "Bearer ")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := newConn(co.hub, ws)
	co.hub.Register(c)
	go c.writePump()
	go c.readPump(co)

	if token != "" {
		co.authenticate(c, auth.Credential{Token: token})
	}
}

func (co *Coordinator) dispatch(c *Conn, ev Event) {
	switch ev.Event {
	case EvAuthenticate:
		var cred auth.Credential
		if err := json.Unmarshal(ev.Data, &cred); err != nil {
			c.enqueue(encodeError(errs.New(errs.AuthRequired, "malformed credential")))
			return
		}
		co.authenticate(c, cred)
	case EvJoinRoom:
		co.handleJoinRoom(c, ev.Data)
	case EvLeaveRoom:
		co.handleLeaveRoom(c, ev.Data)
	case EvSendMessage:
		co.handleSendMessage(c, ev.Data)
	case EvTypingStart:
		co.handleTypingStart(c, ev.Data)
	case EvTypingStop:
		co.handleTypingStop(c, ev.Data)
	case EvAddReaction:
		co.handleAddReaction(c, ev.Data)
	case EvRemoveReaction:
		co.handleRemoveReaction(c, ev.Data)
	case EvEditMessage:
		co.handleEditMessage(c, ev.Data)
	case EvDeleteMessage:
		co.handleDeleteMessage(c, ev.Data)
	case EvMarkAsRead:
		co.handleMarkRead(c, ev.Data)
	default:
		c.enqueue(encode(EvError, errorEvent{Type: "UNKNOWN_EVENT", Message: ev.Event}))
	}
}

func (co *Coordinator) authenticate(c *Conn, cred auth.Credential) {
	identity, err := co.auth.Resolve(cred)
	if err != nil {
		c.enqueue(encodeError(err))
		return
	}
	c.setIdentity(identity)

	ctx := context.Background()
	rec := model.PresenceRecord{IdentityID: identity.ID, Name: identity.Name, Status: model.StatusOnline}
	if err := co.presence.SetOnline(ctx, rec); err != nil {
		logger.Log.Error("presence set online failed", "identity", identity.ID, "err", err)
	}

	c.enqueue(encode(EvAuthenticated, identity))

	// Snapshot goes out before this connection sees any broadcast, so it can
	// never miss a transition that happened while it was connecting.
	online, err := co.presence.ListOnline(ctx)
	if err != nil {
		logger.Log.Error("presence snapshot failed", "err", err)
	}
	co.hub.Activate(c, identity.ID, encode(EvOnlineUsersList, online))

	co.hub.Broadcast(encode(EvUserOnline, rec), c)
	logger.Log.Info("connection authenticated", "identity", identity.ID)
}

// requireIdentity gates room-scoped actions behind authentication.
func (co *Coordinator) requireIdentity(c *Conn) *model.Identity {
	id := c.Identity()
	if id == nil {
		c.enqueue(encodeError(errs.New(errs.AuthRequired, "authenticate first")))
	}
	return id
}

// memberRoom loads the room and checks the identity is a participant. Channel
// bindings can be forged or stale, so this runs on every room-scoped action.
func (co *Coordinator) memberRoom(ctx context.Context, c *Conn, identityID, roomID string) *model.Room {
	room, err := co.store.Room(ctx, roomID)
	if err != nil {
		c.enqueue(encodeError(err))
		return nil
	}
	if !room.HasParticipant(identityID) {
		c.enqueue(encodeError(errs.New(errs.RoomAccessDenied, "not a participant")))
		return nil
	}
	return room
}

func (co *Coordinator) handleJoinRoom(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req joinRoomReq
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		c.enqueue(encodeError(errs.New(errs.RoomNotFound, "room_id required")))
		return
	}
	ctx := context.Background()
	room := co.memberRoom(ctx, c, id.ID, req.RoomID)
	if room == nil {
		return
	}

	co.hub.JoinRoom(req.RoomID, c)
	c.trackRoom(req.RoomID, true)

	history, err := co.store.History(ctx, req.RoomID, 1, co.cfg.HistoryPageSize)
	if err != nil {
		c.enqueue(encodeError(err))
		return
	}
	if err := co.store.MarkRead(ctx, req.RoomID, id.ID, 0, time.Now().UTC()); err != nil {
		logger.Log.Error("unread reset on join failed", "room", req.RoomID, "err", err)
	}

	c.enqueue(encode(EvRoomJoined, room))
	c.enqueue(encode(EvChatHistory, map[string]any{"room_id": req.RoomID, "history": history}))
	co.hub.BroadcastRoom(req.RoomID, encode(EvParticipantJoined, participantEvent{
		RoomID: req.RoomID, IdentityID: id.ID, Name: id.Name,
	}), c)
}

func (co *Coordinator) handleLeaveRoom(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req joinRoomReq
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		return
	}
	if c.stopTyping(req.RoomID) {
		co.hub.BroadcastRoom(req.RoomID, encode(EvTypingStop, typingEvent{RoomID: req.RoomID, IdentityID: id.ID}), c)
	}
	co.hub.LeaveRoom(req.RoomID, c)
	c.trackRoom(req.RoomID, false)
	co.hub.BroadcastRoom(req.RoomID, encode(EvParticipantLeft, participantEvent{
		RoomID: req.RoomID, IdentityID: id.ID, Name: id.Name,
	}), nil)
}

func (co *Coordinator) handleSendMessage(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req sendMessageReq
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueue(encodeError(errs.New(errs.EmptyMessage, "malformed send-message")))
		return
	}
	ctx := context.Background()
	room := co.memberRoom(ctx, c, id.ID, req.RoomID)
	if room == nil {
		return
	}

	msgType := req.Type
	if msgType == "" {
		msgType = model.TypeText
	}
	mentions, hashtags, urls := model.ExtractEntities(req.Body)
	msg := &model.Message{
		ID:          co.ids.NextID(),
		RoomID:      req.RoomID,
		SenderID:    id.ID,
		Body:        req.Body,
		Type:        msgType,
		Timestamp:   time.Now().UTC(),
		Mentions:    mentions,
		Hashtags:    hashtags,
		URLs:        urls,
		Attachments: req.Attachments,
		ReplyTo:     req.ReplyTo,
	}

	// The durable write completes before any fan-out: a client joining after
	// this point replays the message from history, so nobody sees it live
	// without it being persisted.
	if err := co.store.AppendMessage(ctx, msg); err != nil {
		c.enqueue(encodeError(err))
		return
	}

	frame := encode(EvNewMessage, msg)
	co.hub.BroadcastRoom(req.RoomID, frame, c)
	c.enqueue(encode(EvMessageSent, msg))

	delivered := map[string]bool{id.ID: true}
	for _, memberID := range co.hub.RoomIdentityIDs(req.RoomID) {
		if delivered[memberID] {
			continue
		}
		delivered[memberID] = true
		if err := co.store.MarkDelivered(ctx, req.RoomID, msg.ID, memberID, time.Now().UTC()); err != nil {
			logger.Log.Debug("delivery receipt failed", "room", req.RoomID, "err", err)
		}
	}

	// Participants who are connected but not on the room channel still get the
	// message live, on their personal channel.
	for _, p := range room.Participants {
		if delivered[p] {
			continue
		}
		online, err := co.presence.IsOnline(ctx, p)
		if err != nil || !online {
			continue
		}
		delivered[p] = true
		if err := co.store.MarkDelivered(ctx, req.RoomID, msg.ID, p, time.Now().UTC()); err != nil {
			logger.Log.Debug("delivery receipt failed", "room", req.RoomID, "err", err)
		}
		co.hub.SendToUser(p, frame)
	}

	co.enqueueSideEffects(ctx, room, id, msg)
}

// enqueueSideEffects hands the slow work to the queue layer: offline
// participants get a push notification job, every message feeds analytics.
func (co *Coordinator) enqueueSideEffects(ctx context.Context, room *model.Room, sender *model.Identity, msg *model.Message) {
	var offline []string
	for _, p := range room.Participants {
		if p == sender.ID {
			continue
		}
		online, err := co.presence.IsOnline(ctx, p)
		if err != nil || !online {
			offline = append(offline, p)
		}
	}
	if len(offline) > 0 {
		if _, err := co.jobs.Publish(ctx, workers.NotificationQueue, "new-message", workers.NotificationJob{
			Recipients: offline,
			Title:      sender.Name,
			Body:       msg.Body,
			RoomID:     msg.RoomID,
			MessageID:  msg.ID,
		}); err != nil {
			logger.Log.Error("notification publish failed", "room", msg.RoomID, "err", err)
		}
	}
	if _, err := co.jobs.Publish(ctx, workers.AnalyticsQueue, "message", workers.AnalyticsJob{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Mentions:  msg.Mentions,
		Hashtags:  msg.Hashtags,
		Timestamp: msg.Timestamp,
	}); err != nil {
		logger.Log.Error("analytics publish failed", "room", msg.RoomID, "err", err)
	}
}

func (co *Coordinator) handleTypingStart(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req typingReq
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		return
	}
	ctx := context.Background()
	if co.memberRoom(ctx, c, id.ID, req.RoomID) == nil {
		return
	}
	roomID, identityID := req.RoomID, id.ID
	fresh := c.armTyping(roomID, co.cfg.TypingTimeout, func() {
		co.hub.BroadcastRoom(roomID, encode(EvTypingStop, typingEvent{RoomID: roomID, IdentityID: identityID}), c)
	})
	if fresh {
		co.hub.BroadcastRoom(roomID, encode(EvTypingStart, typingEvent{RoomID: roomID, IdentityID: identityID}), c)
	}
}

func (co *Coordinator) handleTypingStop(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req typingReq
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		return
	}
	if c.stopTyping(req.RoomID) {
		co.hub.BroadcastRoom(req.RoomID, encode(EvTypingStop, typingEvent{RoomID: req.RoomID, IdentityID: id.ID}), c)
	}
}

func (co *Coordinator) handleAddReaction(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req reactionReq
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	ctx := context.Background()
	if co.memberRoom(ctx, c, id.ID, req.RoomID) == nil {
		return
	}
	msg, err := co.store.AddReaction(ctx, req.RoomID, req.MessageID, id.ID, req.Reaction, time.Now().UTC())
	if err != nil {
		c.enqueue(encodeError(err))
		return
	}
	co.hub.BroadcastRoom(req.RoomID, encode(EvReactionAdded, map[string]any{
		"room_id": req.RoomID, "message": msg, "identity_id": id.ID, "reaction": req.Reaction,
	}), nil)
}

func (co *Coordinator) handleRemoveReaction(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req reactionReq
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	ctx := context.Background()
	if co.memberRoom(ctx, c, id.ID, req.RoomID) == nil {
		return
	}
	msg, err := co.store.RemoveReaction(ctx, req.RoomID, req.MessageID, id.ID, req.Reaction)
	if err != nil {
		c.enqueue(encodeError(err))
		return
	}
	co.hub.BroadcastRoom(req.RoomID, encode(EvReactionRemoved, map[string]any{
		"room_id": req.RoomID, "message": msg, "identity_id": id.ID, "reaction": req.Reaction,
	}), nil)
}

func (co *Coordinator) handleEditMessage(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req editMessageReq
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	ctx := context.Background()
	if co.memberRoom(ctx, c, id.ID, req.RoomID) == nil {
		return
	}
	msg, err := co.store.EditMessage(ctx, req.RoomID, req.MessageID, id.ID, req.Body, time.Now().UTC())
	if err != nil {
		c.enqueue(encodeError(err))
		return
	}
	co.hub.BroadcastRoom(req.RoomID, encode(EvMessageEdited, msg), nil)
}

func (co *Coordinator) handleDeleteMessage(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req deleteMessageReq
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	ctx := context.Background()
	if co.memberRoom(ctx, c, id.ID, req.RoomID) == nil {
		return
	}
	msg, err := co.store.DeleteMessage(ctx, req.RoomID, req.MessageID, id.ID, time.Now().UTC())
	if err != nil {
		c.enqueue(encodeError(err))
		return
	}
	co.hub.BroadcastRoom(req.RoomID, encode(EvMessageDeleted, msg), nil)
}

func (co *Coordinator) handleMarkRead(c *Conn, data json.RawMessage) {
	id := co.requireIdentity(c)
	if id == nil {
		return
	}
	var req markReadReq
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	ctx := context.Background()
	if co.memberRoom(ctx, c, id.ID, req.RoomID) == nil {
		return
	}
	at := time.Now().UTC()
	if err := co.store.MarkRead(ctx, req.RoomID, id.ID, req.MessageID, at); err != nil {
		c.enqueue(encodeError(err))
		return
	}
	co.hub.BroadcastRoom(req.RoomID, encode(EvMessageRead, messageReadEvent{
		RoomID: req.RoomID, IdentityID: id.ID, MessageID: req.MessageID, At: at,
	}), c)
}

// handleDisconnect tears a connection down from any state: typing indicators
// get an explicit stop in every room so none sticks after an abrupt drop,
// then presence goes offline.
func (co *Coordinator) handleDisconnect(c *Conn) {
	id := c.Identity()
	for _, roomID := range c.cancelAllTyping() {
		if id != nil {
			co.hub.BroadcastRoom(roomID, encode(EvTypingStop, typingEvent{RoomID: roomID, IdentityID: id.ID}), c)
		}
	}
	co.hub.Unregister(c)

	if id == nil {
		return
	}
	ctx := context.Background()
	if err := co.presence.SetOffline(ctx, id.ID); err != nil {
		logger.Log.Error("presence set offline failed", "identity", id.ID, "err", err)
	}
	for _, roomID := range c.joinedRooms() {
		co.hub.BroadcastRoom(roomID, encode(EvParticipantLeft, participantEvent{
			RoomID: roomID, IdentityID: id.ID, Name: id.Name,
		}), nil)
	}
	co.hub.Broadcast(encode(EvUserOffline, model.PresenceRecord{
		IdentityID: id.ID, Status: model.StatusOffline, LastSeen: time.Now().UTC(),
	}), nil)
	logger.Log.Info("connection closed", "identity", id.ID)
}
