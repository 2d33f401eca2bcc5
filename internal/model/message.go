// Package model defines the core conversation data types.
package model

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one immutable conversational turn as recorded in history.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is a bounded slice of a message's text used as the unit of indexing.
// ID and UserID tag the chunk inside the vector index.
type Chunk struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Seq        int       `json:"seq"`
	Text       string    `json:"text"`
	SourceRole Role      `json:"source_role"`
	Embedding  []float32 `json:"-"`
}
