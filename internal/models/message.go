package models

import "time"

// Role names the producer of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation transcript.
//
// Local marks messages injected by the widget itself (the greeting) that were
// never sent to or received from the model.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Local     bool      `json:"local,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CloneMessages copies a transcript so callers cannot alias widget state.
func CloneMessages(in []Message) []Message {
	if len(in) == 0 {
		return []Message{}
	}
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
