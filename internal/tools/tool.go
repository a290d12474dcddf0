// Package tools implements Chorus's tool registry and the built-in tools:
// file ops, bash, git, self-edit, agent-to-agent messaging, and process
// control. Each tool builds its own action-detail string for the
// permission engine and is projected per profile to cut input tokens.
package tools

import (
	"context"
	"encoding/json"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// Tool is one callable the LLM may invoke.
type Tool interface {
	// Name is the LLM-facing function name.
	Name() string

	Description() string

	// Schema is the JSON-schema-shaped parameter definition.
	Schema() json.RawMessage

	// ActionDetail builds the detail half of the action string
	// ("tool:<name>:<detail>") from the call's parameters, without
	// executing anything.
	ActionDetail(params json.RawMessage) string

	// Execute runs the tool. ctx carries the branch's cancellation.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// errorResult builds an IsError ToolResult carrying a structured
// {"error": kind, "message": detail} payload.
func errorResult(kind, message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": kind, "message": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}

func jsonResult(v any) *models.ToolResult {
	payload, err := json.Marshal(v)
	if err != nil {
		return errorResult(string(errkind.UnknownTool), err.Error())
	}
	return &models.ToolResult{Content: string(payload)}
}
