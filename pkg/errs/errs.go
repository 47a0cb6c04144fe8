// Package errs carries the typed error codes surfaced to clients. Everything
// that reaches a connection as an error event goes through one of these codes;
// anything unclassified is reported as BACKEND_ERROR.
package errs

import "errors"

type Code string

const (
	AuthRequired     Code = "AUTH_REQUIRED"
	InvalidToken     Code = "INVALID_TOKEN"
	RoomAccessDenied Code = "ROOM_ACCESS_DENIED"
	RoomNotFound     Code = "ROOM_NOT_FOUND"
	InvalidRoomData  Code = "INVALID_ROOM_DATA"
	MessageNotFound  Code = "MESSAGE_NOT_FOUND"
	MessageTooLong   Code = "MESSAGE_TOO_LONG"
	EmptyMessage     Code = "EMPTY_MESSAGE"
	InvalidReaction  Code = "INVALID_REACTION"
	NotSender        Code = "NOT_MESSAGE_SENDER"
	Backend          Code = "BACKEND_ERROR"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf classifies err, falling back to Backend for plain errors.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return Backend
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}
