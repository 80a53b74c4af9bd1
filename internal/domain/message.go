package domain

import "time"

// Message roles. Tool-role records carry tool results and are never shown
// directly; the display layer drops them.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one record of the authoritative chat log. Optional fields use
// zero values for "absent": an empty Content, empty Thinking, or nil
// ToolCalls all mean the field was not set.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content,omitempty"`
	Thinking   string     `json:"thinking,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	// Timestamp is Unix milliseconds, monotonic within a session.
	Timestamp int64 `json:"timestamp"`
}

// DisplayMessage is a coalesced logical turn produced by the display merger.
// It has the same shape as Message: the identity of the earliest record in
// the run is kept, content is the deduplicated concatenation of the run's
// fragments, and thinking/tool calls hold the first non-absent value found.
type DisplayMessage = Message

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// NowMillis returns the current time in the unit Message.Timestamp uses.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

type InboundMessage struct {
	Channel   string
	SessionID string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// OutboundMessage carries one merged assistant turn back to a channel.
type OutboundMessage struct {
	Channel   string
	SessionID string
	Turn      DisplayMessage
	Format    string // text | markdown
}
