package gateway

import (
	"encoding/json"
	"time"

	"github.com/arush/chatcore/pkg/errs"
	"github.com/arush/chatcore/pkg/model"
)

// Event is the wire frame in both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EvAuthenticate   = "authenticate"
	EvJoinRoom       = "join-room"
	EvLeaveRoom      = "leave-room"
	EvSendMessage    = "send-message"
	EvTypingStart    = "typing-start"
	EvTypingStop     = "typing-stop"
	EvAddReaction    = "add-reaction"
	EvRemoveReaction = "remove-reaction"
	EvEditMessage    = "edit-message"
	EvDeleteMessage  = "delete-message"
	EvMarkAsRead     = "mark-as-read"
)

// Outbound event names. typing-start/typing-stop are reused on the way out.
const (
	EvAuthenticated     = "authenticated"
	EvOnlineUsersList   = "online-users-list"
	EvRoomJoined        = "room-joined"
	EvChatHistory       = "chat-history"
	EvNewMessage        = "new-message"
	EvMessageSent       = "message-sent"
	EvReactionAdded     = "reaction-added"
	EvReactionRemoved   = "reaction-removed"
	EvMessageEdited     = "message-edited"
	EvMessageDeleted    = "message-deleted"
	EvMessageRead       = "message-read"
	EvParticipantJoined = "participant-joined"
	EvParticipantLeft   = "participant-left"
	EvUserOnline        = "user-online"
	EvUserOffline       = "user-offline"
	EvError             = "error"
)

type joinRoomReq struct {
	RoomID string `json:"room_id"`
}

type sendMessageReq struct {
	RoomID      string             `json:"room_id"`
	Body        string             `json:"body"`
	Type        model.MessageType  `json:"type,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	ReplyTo     int64              `json:"reply_to,omitempty"`
}

type typingReq struct {
	RoomID string `json:"room_id"`
}

type reactionReq struct {
	RoomID    string `json:"room_id"`
	MessageID int64  `json:"message_id"`
	Reaction  string `json:"reaction"`
}

type editMessageReq struct {
	RoomID    string `json:"room_id"`
	MessageID int64  `json:"message_id"`
	Body      string `json:"body"`
}

type deleteMessageReq struct {
	RoomID    string `json:"room_id"`
	MessageID int64  `json:"message_id"`
}

type markReadReq struct {
	RoomID    string `json:"room_id"`
	MessageID int64  `json:"message_id,omitempty"`
}

type typingEvent struct {
	RoomID     string `json:"room_id"`
	IdentityID string `json:"identity_id"`
}

type participantEvent struct {
	RoomID     string `json:"room_id"`
	IdentityID string `json:"identity_id"`
	Name       string `json:"name,omitempty"`
}

type messageReadEvent struct {
	RoomID     string    `json:"room_id"`
	IdentityID string    `json:"identity_id"`
	MessageID  int64     `json:"message_id,omitempty"`
	At         time.Time `json:"at"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encode frames an outbound event. Marshal failures cannot happen for the
// payload types used here, so they only show up as an error event downstream.
func encode(event string, data any) []byte {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	frame, _ := json.Marshal(Event{Event: event, Data: raw})
	return frame
}

func encodeError(err error) []byte {
	return encode(EvError, errorEvent{
		Type:    string(errs.CodeOf(err)),
		Message: err.Error(),
	})
}
