package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/internal/workspace"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// Locker acquires and releases the branch manager's per-canonical-path
// mutex around mutating file operations.
type Locker interface {
	AcquireFileLock(ctx context.Context, path string, timeout time.Duration) bool
	ReleaseFileLock(path string)
}

func schemaOf(v any) json.RawMessage {
	payload, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func objectSchema(properties map[string]any, required []string) json.RawMessage {
	return schemaOf(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// CreateFileTool implements create_file(path, content).
type CreateFileTool struct {
	jail        *workspace.Jail
	locker      Locker
	lockTimeout time.Duration
}

func NewCreateFileTool(jail *workspace.Jail, locker Locker, lockTimeout time.Duration) *CreateFileTool {
	return &CreateFileTool{jail: jail, locker: locker, lockTimeout: lockTimeout}
}

func (t *CreateFileTool) Name() string        { return "create_file" }
func (t *CreateFileTool) Description() string { return "Create or overwrite a file in the workspace." }
func (t *CreateFileTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path":    stringProp("Path relative to the workspace root."),
		"content": stringProp("UTF-8 file content."),
	}, []string{"path", "content"})
}

type createFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *CreateFileTool) ActionDetail(params json.RawMessage) string {
	var p createFileParams
	_ = json.Unmarshal(params, &p)
	return p.Path
}

func (t *CreateFileTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p createFileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	lockKey, err := t.jail.Resolve(p.Path)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	if !t.locker.AcquireFileLock(ctx, lockKey, t.lockTimeout) {
		return errorResult(string(errkind.LockTimeout), "timed out acquiring file lock for "+p.Path), nil
	}
	defer t.locker.ReleaseFileLock(lockKey)

	result := t.jail.CreateFile(p.Path, p.Content)
	if result.Err != nil {
		return toolErrorFromKind(result.Err), nil
	}
	return jsonResult(map[string]any{"path": result.Path, "action": result.Action, "snippet": result.Snippet}), nil
}

// StrReplaceTool implements str_replace(path, old, new).
type StrReplaceTool struct {
	jail        *workspace.Jail
	locker      Locker
	lockTimeout time.Duration
}

func NewStrReplaceTool(jail *workspace.Jail, locker Locker, lockTimeout time.Duration) *StrReplaceTool {
	return &StrReplaceTool{jail: jail, locker: locker, lockTimeout: lockTimeout}
}

func (t *StrReplaceTool) Name() string { return "str_replace" }
func (t *StrReplaceTool) Description() string {
	return "Replace a single, unambiguous occurrence of text in a file."
}
func (t *StrReplaceTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path": stringProp("Path relative to the workspace root."),
		"old":  stringProp("Exact text to replace. Must occur exactly once."),
		"new":  stringProp("Replacement text."),
	}, []string{"path", "old", "new"})
}

type strReplaceParams struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

func (t *StrReplaceTool) ActionDetail(params json.RawMessage) string {
	var p strReplaceParams
	_ = json.Unmarshal(params, &p)
	return p.Path
}

func (t *StrReplaceTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p strReplaceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	lockKey, err := t.jail.Resolve(p.Path)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	if !t.locker.AcquireFileLock(ctx, lockKey, t.lockTimeout) {
		return errorResult(string(errkind.LockTimeout), "timed out acquiring file lock for "+p.Path), nil
	}
	defer t.locker.ReleaseFileLock(lockKey)

	result := t.jail.StrReplace(p.Path, p.Old, p.New)
	if result.Err != nil {
		return toolErrorFromKind(result.Err), nil
	}
	return jsonResult(map[string]any{"path": result.Path, "action": result.Action, "snippet": result.Snippet}), nil
}

// ViewTool implements view(path, offset?, limit?).
type ViewTool struct {
	jail *workspace.Jail
}

func NewViewTool(jail *workspace.Jail) *ViewTool { return &ViewTool{jail: jail} }

func (t *ViewTool) Name() string        { return "view" }
func (t *ViewTool) Description() string { return "View numbered lines of a workspace file." }
func (t *ViewTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path":   stringProp("Path relative to the workspace root."),
		"offset": intProp("Zero-indexed starting line (default 0)."),
		"limit":  intProp("Maximum number of lines to return (default: all)."),
	}, []string{"path"})
}

type viewParams struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (t *ViewTool) ActionDetail(params json.RawMessage) string {
	var p viewParams
	_ = json.Unmarshal(params, &p)
	return p.Path
}

func (t *ViewTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p viewParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	result := t.jail.View(p.Path, p.Offset, p.Limit)
	if result.Err != nil {
		return toolErrorFromKind(result.Err), nil
	}
	return jsonResult(map[string]any{"path": result.Path, "content": result.Snippet}), nil
}

// InsertAtTool implements the optional insert_at(path, line, position, content) extension.
type InsertAtTool struct {
	jail        *workspace.Jail
	locker      Locker
	lockTimeout time.Duration
}

func NewInsertAtTool(jail *workspace.Jail, locker Locker, lockTimeout time.Duration) *InsertAtTool {
	return &InsertAtTool{jail: jail, locker: locker, lockTimeout: lockTimeout}
}

func (t *InsertAtTool) Name() string        { return "insert_at" }
func (t *InsertAtTool) Description() string { return "Insert lines before or after a given line number." }
func (t *InsertAtTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path":     stringProp("Path relative to the workspace root."),
		"line":     intProp("1-indexed line number to insert relative to."),
		"position": stringProp("\"before\" or \"after\"."),
		"content":  stringProp("Lines to insert."),
	}, []string{"path", "line", "position", "content"})
}

type insertAtParams struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Position string `json:"position"`
	Content  string `json:"content"`
}

func (t *InsertAtTool) ActionDetail(params json.RawMessage) string {
	var p insertAtParams
	_ = json.Unmarshal(params, &p)
	return p.Path
}

func (t *InsertAtTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p insertAtParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	lockKey, err := t.jail.Resolve(p.Path)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	if !t.locker.AcquireFileLock(ctx, lockKey, t.lockTimeout) {
		return errorResult(string(errkind.LockTimeout), "timed out acquiring file lock for "+p.Path), nil
	}
	defer t.locker.ReleaseFileLock(lockKey)

	result := t.jail.InsertAt(p.Path, p.Line, workspace.Position(p.Position), p.Content)
	if result.Err != nil {
		return toolErrorFromKind(result.Err), nil
	}
	return jsonResult(map[string]any{"path": result.Path, "action": result.Action, "snippet": result.Snippet}), nil
}

// ReplaceLinesTool implements the optional replace_lines(path, start, end, content) extension.
type ReplaceLinesTool struct {
	jail        *workspace.Jail
	locker      Locker
	lockTimeout time.Duration
}

func NewReplaceLinesTool(jail *workspace.Jail, locker Locker, lockTimeout time.Duration) *ReplaceLinesTool {
	return &ReplaceLinesTool{jail: jail, locker: locker, lockTimeout: lockTimeout}
}

func (t *ReplaceLinesTool) Name() string        { return "replace_lines" }
func (t *ReplaceLinesTool) Description() string { return "Replace an inclusive 1-indexed line range." }
func (t *ReplaceLinesTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path":    stringProp("Path relative to the workspace root."),
		"start":   intProp("1-indexed first line to replace."),
		"end":     intProp("1-indexed last line to replace (inclusive)."),
		"content": stringProp("Replacement content."),
	}, []string{"path", "start", "end", "content"})
}

type replaceLinesParams struct {
	Path    string `json:"path"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Content string `json:"content"`
}

func (t *ReplaceLinesTool) ActionDetail(params json.RawMessage) string {
	var p replaceLinesParams
	_ = json.Unmarshal(params, &p)
	return p.Path
}

func (t *ReplaceLinesTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p replaceLinesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResult(string(errkind.UnknownTool), "invalid parameters: "+err.Error()), nil
	}
	lockKey, err := t.jail.Resolve(p.Path)
	if err != nil {
		return toolErrorFromKind(err), nil
	}
	if !t.locker.AcquireFileLock(ctx, lockKey, t.lockTimeout) {
		return errorResult(string(errkind.LockTimeout), "timed out acquiring file lock for "+p.Path), nil
	}
	defer t.locker.ReleaseFileLock(lockKey)

	result := t.jail.ReplaceLines(p.Path, p.Start, p.End, p.Content)
	if result.Err != nil {
		return toolErrorFromKind(result.Err), nil
	}
	return jsonResult(map[string]any{"path": result.Path, "action": result.Action, "snippet": result.Snippet}), nil
}

func toolErrorFromKind(err error) *models.ToolResult {
	kind, ok := errkind.As(err)
	if !ok {
		return errorResult(string(errkind.UnknownTool), err.Error())
	}
	message := err.Error()
	if ek, isErr := err.(*errkind.Error); isErr {
		message = ek.Message
	}
	return errorResult(string(kind), message)
}
