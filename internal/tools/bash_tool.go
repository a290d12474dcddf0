package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/internal/shell"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// BashTool implements bash_execute(command, cwd, timeout, max_output_bytes).
type BashTool struct {
	executor       *shell.Executor
	defaultTimeout time.Duration
}

func NewBashTool(executor *shell.Executor, defaultTimeout time.Duration) *BashTool {
	return &BashTool{executor: executor, defaultTimeout: defaultTimeout}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return "Run a shell command in the workspace." }
func (t *BashTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"command":          stringProp("The command to run via /bin/sh -c."),
		"cwd":              stringProp("Working directory, relative to the workspace (default: workspace root)."),
		"timeout_seconds":  intProp("Timeout in seconds (default 120)."),
		"max_output_bytes": intProp("Maximum combined stdout/stderr bytes to capture."),
	}, []string{"command"})
}

type bashParams struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxOutputBytes int    `json:"max_output_bytes"`
}

func (t *BashTool) ActionDetail(params json.RawMessage) string {
	var p bashParams
	_ = json.Unmarshal(params, &p)
	return p.Command
}

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p bashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	if shell.Blocked(p.Command) {
		return errorResult(string(errkind.BlocklistedCommand), "command matches the blocklist"), nil
	}

	timeout := t.defaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}

	result, err := t.executor.Run(ctx, p.Command, p.Cwd, timeout, p.MaxOutputBytes)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	if result.TimedOut {
		return jsonResult(map[string]any{
			"exit_code":   result.ExitCode,
			"stdout":      result.Stdout,
			"stderr":      result.Stderr,
			"timed_out":   true,
			"duration_ms": result.DurationMS,
			"truncated":   result.Truncated,
			"error":       string(errkind.CommandTimeout),
		}), nil
	}
	return jsonResult(map[string]any{
		"exit_code":   result.ExitCode,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"timed_out":   false,
		"duration_ms": result.DurationMS,
		"truncated":   result.Truncated,
	}), nil
}
