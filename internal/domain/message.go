package domain

import "time"

// Role tags a transcript message with its author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the transcript roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser:
		return true
	}
	return false
}

// ChatMessage is one entry of a session transcript. Messages are append-only;
// transcript order is CreatedAt ascending with Seq breaking ties.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Tokens    int            `json:"tokens"`
	Feedback  map[string]any `json:"feedback,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Seq       int64          `json:"-"`
}

// PromptMessage is the provider-bound (role, content) pair.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
