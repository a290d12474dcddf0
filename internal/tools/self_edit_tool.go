package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/internal/permission"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// AgentStore is the slice of the durable store self-edit needs: reading
// and persisting the agent being edited.
type AgentStore interface {
	GetAgent(ctx context.Context, name string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
}

// RoleAuthorizer gates permission-profile self-edits: granting a profile
// requires the invoking human to hold a role authorized for it, independent
// of what the permission engine itself decided about the self_edit call.
type RoleAuthorizer interface {
	AuthorizedForPreset(role, preset string) bool
}

// SelfEditTool implements self_edit(kind, target) mutating the calling
// agent's own configuration. kind is one of "model", "system_prompt",
// "permissions", "docs_dir".
type SelfEditTool struct {
	agent      string
	store      AgentStore
	authorizer RoleAuthorizer
	// InvokingRole is set per-call by the loop from the inbound message's
	// sender before Execute runs, since the tool interface carries no
	// caller identity of its own.
	InvokingRole string
}

func NewSelfEditTool(agent string, store AgentStore, authorizer RoleAuthorizer) *SelfEditTool {
	return &SelfEditTool{agent: agent, store: store, authorizer: authorizer}
}

func (t *SelfEditTool) Name() string { return "self_edit" }
func (t *SelfEditTool) Description() string {
	return "Edit this agent's own model, system prompt, permission profile, or docs directory."
}
func (t *SelfEditTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"kind":   stringProp("One of \"model\", \"system_prompt\", \"permissions\", \"docs_dir\"."),
		"target": stringProp("The new value: model id, prompt text, preset name, or directory path."),
	}, []string{"kind", "target"})
}

type selfEditParams struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

func (t *SelfEditTool) ActionDetail(params json.RawMessage) string {
	var p selfEditParams
	_ = json.Unmarshal(params, &p)
	if p.Target == "" {
		return p.Kind
	}
	return p.Kind + ":" + p.Target
}

func (t *SelfEditTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p selfEditParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}

	agent, err := t.store.GetAgent(ctx, t.agent)
	if err != nil {
		return errorResult(string(errkind.UnknownTool), err.Error()), nil
	}

	switch p.Kind {
	case "model":
		agent.Model = p.Target
	case "system_prompt":
		agent.SystemPrompt = p.Target
	case "docs_dir":
		agent.DocsDir = p.Target
	case "permissions":
		if !t.authorizer.AuthorizedForPreset(t.InvokingRole, p.Target) {
			return errorResult(string(errkind.PermissionDenied), fmt.Sprintf("role %q is not authorized to grant preset %q", t.InvokingRole, p.Target)), nil
		}
		profile, err := permission.Preset(p.Target)
		if err != nil {
			return toolErrorFromKind(err), nil
		}
		agent.Permissions = *profile
	default:
		return errorResult(string(errkind.UnknownTool), "unknown self_edit kind: "+p.Kind), nil
	}

	if err := t.store.UpdateAgent(ctx, agent); err != nil {
		return errorResult(string(errkind.UnknownTool), err.Error()), nil
	}
	return jsonResult(map[string]any{"kind": p.Kind, "target": p.Target}), nil
}
