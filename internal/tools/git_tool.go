package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/internal/shell"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// GitTool implements git(op, args) as "tool:git:<op> <args>" actions. The
// merge_request op shells out to a configurable hosting CLI (gh/glab)
// rather than plain git, since merge requests aren't a git subcommand.
type GitTool struct {
	executor           *shell.Executor
	timeout            time.Duration
	mergeRequestBinary string
}

func NewGitTool(executor *shell.Executor, timeout time.Duration, mergeRequestBinary string) *GitTool {
	if mergeRequestBinary == "" {
		mergeRequestBinary = "gh"
	}
	return &GitTool{executor: executor, timeout: timeout, mergeRequestBinary: mergeRequestBinary}
}

func (t *GitTool) Name() string { return "git" }
func (t *GitTool) Description() string {
	return "Run a git operation (status, diff, commit, push, merge_request, ...) in the workspace."
}
func (t *GitTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"op":   stringProp("Git subcommand, e.g. \"status\", \"commit\", \"push\", \"merge_request\"."),
		"args": stringProp("Remaining arguments as a single string."),
	}, []string{"op"})
}

type gitParams struct {
	Op   string `json:"op"`
	Args string `json:"args"`
}

func (t *GitTool) ActionDetail(params json.RawMessage) string {
	var p gitParams
	_ = json.Unmarshal(params, &p)
	return strings.TrimSpace(p.Op + " " + p.Args)
}

func (t *GitTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p gitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	if p.Op == "" {
		return errorResult(string(errkind.UnknownTool), "op is required"), nil
	}

	var command string
	if p.Op == "merge_request" {
		command = t.mergeRequestBinary + " pr create " + p.Args
	} else {
		command = "git " + p.Op + " " + p.Args
	}

	result, err := t.executor.Run(ctx, command, "", t.timeout, 0)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	return jsonResult(map[string]any{
		"op":          p.Op,
		"exit_code":   result.ExitCode,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"timed_out":   result.TimedOut,
		"duration_ms": result.DurationMS,
	}), nil
}
