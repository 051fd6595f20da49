package chat

import "time"

// Conversation is one end-user's thread of turns, keyed by an opaque
// caller-supplied id. Created on first contact, never deleted in-band.
type Conversation struct {
	ID        string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
