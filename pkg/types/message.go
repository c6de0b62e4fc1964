package types

import "time"

// MessageRole identifies who or what produced a message.
type MessageRole string

const (
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleSystem     MessageRole = "system"
	RoleToolUse    MessageRole = "tool_use"
	RoleToolResult MessageRole = "tool_result"
)

// Message is one entry in a session transcript. MessageType preserves
// the runtime's raw event kind so transcripts can be reconstructed;
// Extra carries per-role metadata such as tool names and ids.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        MessageRole    `json:"role"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
