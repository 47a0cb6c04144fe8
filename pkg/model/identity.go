package model

// Identity is the resolved principal behind a connection. Avatar is opaque to
// the engine and only carried through to clients.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}
