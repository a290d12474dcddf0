package tools

import (
	"context"
	"encoding/json"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// AgentMessenger delivers an inter-agent message, seeding a new branch on
// the target agent the same way an inbound chat message would.
type AgentMessenger interface {
	SendToAgent(ctx context.Context, from, to, message string) (branchID int64, err error)
}

// AgentCommTool implements agent_comm(op, target, message) for inter-agent
// coordination ("tool:agent_comm:<op> <target>" actions).
type AgentCommTool struct {
	agent     string
	messenger AgentMessenger
}

func NewAgentCommTool(agent string, messenger AgentMessenger) *AgentCommTool {
	return &AgentCommTool{agent: agent, messenger: messenger}
}

func (t *AgentCommTool) Name() string        { return "agent_comm" }
func (t *AgentCommTool) Description() string { return "Send a message to another agent." }
func (t *AgentCommTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"op":      stringProp("Currently only \"notify\" is supported."),
		"target":  stringProp("Name of the agent to message."),
		"message": stringProp("Message body."),
	}, []string{"op", "target", "message"})
}

type agentCommParams struct {
	Op      string `json:"op"`
	Target  string `json:"target"`
	Message string `json:"message"`
}

func (t *AgentCommTool) ActionDetail(params json.RawMessage) string {
	var p agentCommParams
	_ = json.Unmarshal(params, &p)
	return p.Op + " " + p.Target
}

func (t *AgentCommTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p agentCommParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	if !models.ValidName(p.Target) {
		return errorResult(string(errkind.UnknownTool), "invalid target agent name: "+p.Target), nil
	}

	branchID, err := t.messenger.SendToAgent(ctx, t.agent, p.Target, p.Message)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	return jsonResult(map[string]any{"target": p.Target, "branch": branchID}), nil
}
