package models

import (
	"encoding/json"
	"time"
)

// AuditDecision is the permission engine's verdict recorded for a tool call.
type AuditDecision string

const (
	DecisionAllow AuditDecision = "allow"
	DecisionAsk   AuditDecision = "ask"
	DecisionDeny  AuditDecision = "deny"
)

// AuditRecord is one immutable row in the audit log: every tool call the
// permission engine decided on, regardless of outcome.
type AuditRecord struct {
	ID       int64         `json:"id"`
	Agent    string        `json:"agent"`
	Branch   int64         `json:"branch"`
	ToolName string        `json:"tool_name"`
	Action   string        `json:"action"`
	Decision AuditDecision `json:"decision"`

	// MatchedPattern is the allow/ask pattern that produced the decision, or
	// "" when the decision fell through to the default deny.
	MatchedPattern string `json:"matched_pattern,omitempty"`

	// Detail is a JSON blob of the decision's inputs (tool input, resolved
	// path, command line) making the row self-describing without a join
	// back to messages.
	Detail json.RawMessage `json:"detail,omitempty"`

	At time.Time `json:"at"`
}
