package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a persisted message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolUse    Role = "tool_use"
	RoleToolResult Role = "tool_result"
)

// ToolCall is an LLM's request to execute a tool, normalized across
// provider wire formats.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the normalized outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is a single persisted entry in an agent/branch's conversation
// history.
type Message struct {
	ID        string     `json:"id"`
	Agent     string     `json:"agent"`
	Branch    int64      `json:"branch"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set on ROLE_TOOL_RESULT messages.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError is set on ROLE_TOOL_RESULT messages whose tool execution failed.
	IsError bool `json:"is_error,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// OutboundMessageID is the chat-service message id this entry produced,
	// when applicable (assistant replies that were actually sent).
	OutboundMessageID string `json:"outbound_message_id,omitempty"`
}
