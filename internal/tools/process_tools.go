package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// ProcessSpawner is the process manager's slice needed by the process tools:
// starting a tracked command either inline (blocking the branch) or detached
// with callback hooks.
type ProcessSpawner interface {
	SpawnConcurrent(ctx context.Context, agent string, branch int64, command string, timeout time.Duration) (*models.TrackedProcess, error)
	SpawnBackground(ctx context.Context, agent string, branch int64, command string, callbacks []models.Callback) (*models.TrackedProcess, error)
}

type callbackParam struct {
	Trigger      string  `json:"trigger"`
	Filter       string  `json:"filter,omitempty"`
	Pattern      string  `json:"pattern,omitempty"`
	DelaySeconds float64 `json:"delay_seconds,omitempty"`
	Action       string  `json:"action"`
	Prompt       string  `json:"prompt,omitempty"`
	MaxFires     int     `json:"max_fires,omitempty"`
}

func (p callbackParam) toModel() models.Callback {
	return models.Callback{
		Trigger:      models.TriggerKind(p.Trigger),
		Filter:       models.ExitFilter(p.Filter),
		Pattern:      p.Pattern,
		DelaySeconds: p.DelaySeconds,
		Action:       models.ActionKind(p.Action),
		Prompt:       p.Prompt,
		MaxFires:     p.MaxFires,
	}
}

func callbackSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"trigger":       stringProp("\"on_exit\", \"on_output_match\", or \"on_timeout\"."),
			"filter":        stringProp("For on_exit: \"any\", \"success\", or \"failure\"."),
			"pattern":       stringProp("For on_output_match: a regexp matched against output."),
			"delay_seconds": map[string]any{"type": "number", "description": "For on_output_match, seconds to wait after a match before firing. For on_timeout, the timeout duration."},
			"action":        stringProp("\"stop_process\", \"stop_branch\", \"inject_context\", or \"spawn_branch\"."),
			"prompt":        stringProp("Text injected (inject_context) or seed instruction (spawn_branch)."),
			"max_fires":     intProp("Maximum number of times this callback may fire (default 1)."),
		},
		"required": []string{"trigger", "action"},
	}
}

// RunConcurrentTool implements run_concurrent(command, timeout_seconds), a
// process that blocks the issuing branch's loop until it exits or times out.
type RunConcurrentTool struct {
	agent          string
	spawner        ProcessSpawner
	defaultTimeout time.Duration
}

func NewRunConcurrentTool(agent string, spawner ProcessSpawner, defaultTimeout time.Duration) *RunConcurrentTool {
	return &RunConcurrentTool{agent: agent, spawner: spawner, defaultTimeout: defaultTimeout}
}

func (t *RunConcurrentTool) Name() string { return "run_concurrent" }
func (t *RunConcurrentTool) Description() string {
	return "Run a command and block until it exits or times out."
}
func (t *RunConcurrentTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"command":         stringProp("Shell command to run."),
		"timeout_seconds": intProp("Timeout in seconds (default 120)."),
	}, []string{"command"})
}

type runConcurrentParams struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (t *RunConcurrentTool) ActionDetail(params json.RawMessage) string {
	var p runConcurrentParams
	_ = json.Unmarshal(params, &p)
	return p.Command
}

func (t *RunConcurrentTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p runConcurrentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}

	timeout := t.defaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}

	proc, err := t.spawner.SpawnConcurrent(ctx, t.agent, branchFromContext(ctx), p.Command, timeout)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	return jsonResult(map[string]any{
		"id":        proc.ID,
		"status":    proc.Status,
		"exit_code": proc.ExitCode,
		"output":    proc.OutputTail,
	}), nil
}

// RunBackgroundTool implements run_background(command, callbacks), a process
// detached from the issuing branch with callback hooks watching its
// lifecycle and output.
type RunBackgroundTool struct {
	agent   string
	spawner ProcessSpawner
}

func NewRunBackgroundTool(agent string, spawner ProcessSpawner) *RunBackgroundTool {
	return &RunBackgroundTool{agent: agent, spawner: spawner}
}

func (t *RunBackgroundTool) Name() string { return "run_background" }
func (t *RunBackgroundTool) Description() string {
	return "Run a command detached from this branch, with callbacks on exit, output match, or timeout."
}
func (t *RunBackgroundTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"command": stringProp("Shell command to run."),
		"callbacks": map[string]any{
			"type":  "array",
			"items": callbackSchema(),
		},
	}, []string{"command"})
}

type runBackgroundParams struct {
	Command   string          `json:"command"`
	Callbacks []callbackParam `json:"callbacks"`
}

func (t *RunBackgroundTool) ActionDetail(params json.RawMessage) string {
	var p runBackgroundParams
	_ = json.Unmarshal(params, &p)
	return p.Command
}

func (t *RunBackgroundTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p runBackgroundParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}

	callbacks := make([]models.Callback, 0, len(p.Callbacks))
	for _, c := range p.Callbacks {
		callbacks = append(callbacks, c.toModel())
	}

	proc, err := t.spawner.SpawnBackground(ctx, t.agent, branchFromContext(ctx), p.Command, callbacks)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	return jsonResult(map[string]any{
		"id":     proc.ID,
		"status": proc.Status,
		"pid":    proc.PID,
	}), nil
}

type branchContextKey struct{}

// WithBranch attaches the issuing branch id to ctx so tools can report it
// without threading it through every Execute signature.
func WithBranch(ctx context.Context, branch int64) context.Context {
	return context.WithValue(ctx, branchContextKey{}, branch)
}

func branchFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(branchContextKey{}).(int64); ok {
		return v
	}
	return 0
}

// BranchFromContext returns the issuing branch id attached via WithBranch,
// or 0 if none was attached. Exported for collaborators outside this
// package (the branch manager's file-lock ownership bookkeeping) that need
// the same caller identity the tools above read off ctx.
func BranchFromContext(ctx context.Context) int64 {
	return branchFromContext(ctx)
}
