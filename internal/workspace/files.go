package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/George-Strauch/Chorus/internal/errkind"
)

// OpResult is the structured outcome of a file operation: path, what
// happened, a context snippet, and whether an error occurred.
type OpResult struct {
	Path    string
	Action  string
	Snippet string
	Err     error
}

// CreateFile writes content to path, creating any intermediate
// directories, overwriting an existing file.
func (j *Jail) CreateFile(path, content string) OpResult {
	resolved, err := j.Resolve(path)
	if err != nil {
		return OpResult{Path: path, Action: "create_file", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return OpResult{Path: path, Action: "create_file", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "creating parent directories", err)}
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return OpResult{Path: path, Action: "create_file", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "writing file", err)}
	}
	return OpResult{Path: path, Action: "create_file", Snippet: snippetHead(content, 3)}
}

// StrReplace replaces the single occurrence of old with new in path. It
// fails if old occurs zero times (StringNotFound) or more than once
// (AmbiguousMatch), returning a context snippet around the replacement.
func (j *Jail) StrReplace(path, old, new string) OpResult {
	resolved, err := j.Resolve(path)
	if err != nil {
		return OpResult{Path: path, Action: "str_replace", Err: err}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return OpResult{Path: path, Action: "str_replace", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "reading file", err)}
	}
	content := string(data)
	count := strings.Count(content, old)
	switch count {
	case 0:
		return OpResult{Path: path, Action: "str_replace", Err: errkind.New(errkind.StringNotFound, "old_text not found")}
	case 1:
		idx := strings.Index(content, old)
		updated := content[:idx] + new + content[idx+len(old):]
		if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
			return OpResult{Path: path, Action: "str_replace", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "writing file", err)}
		}
		return OpResult{Path: path, Action: "str_replace", Snippet: snippetAround(updated, idx, len(new))}
	default:
		return OpResult{Path: path, Action: "str_replace", Err: errkind.New(errkind.AmbiguousMatch, fmt.Sprintf("old_text occurs %d times, expected exactly 1", count))}
	}
}

// StrReplaceAll replaces every occurrence of old with new, an optional
// extension beyond the single-occurrence str_replace.
func (j *Jail) StrReplaceAll(path, old, new string) OpResult {
	resolved, err := j.Resolve(path)
	if err != nil {
		return OpResult{Path: path, Action: "str_replace_all", Err: err}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return OpResult{Path: path, Action: "str_replace_all", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "reading file", err)}
	}
	content := string(data)
	count := strings.Count(content, old)
	if count == 0 {
		return OpResult{Path: path, Action: "str_replace_all", Err: errkind.New(errkind.StringNotFound, "old_text not found")}
	}
	updated := strings.ReplaceAll(content, old, new)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return OpResult{Path: path, Action: "str_replace_all", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "writing file", err)}
	}
	return OpResult{Path: path, Action: "str_replace_all", Snippet: fmt.Sprintf("%d replacements", count)}
}

const binarySniffBytes = 8192

// View returns numbered lines [offset, offset+limit) from path, rejecting
// binary files (a NUL byte found in the first 8KB).
func (j *Jail) View(path string, offset, limit int) OpResult {
	resolved, err := j.Resolve(path)
	if err != nil {
		return OpResult{Path: path, Action: "view", Err: err}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return OpResult{Path: path, Action: "view", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "reading file", err)}
	}
	sniff := data
	if len(sniff) > binarySniffBytes {
		sniff = sniff[:binarySniffBytes]
	}
	if strings.IndexByte(string(sniff), 0) >= 0 {
		return OpResult{Path: path, Action: "view", Err: errkind.New(errkind.BinaryFile, "refusing to view binary file")}
	}

	lines := strings.Split(string(data), "\n")
	start := offset
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return OpResult{Path: path, Action: "view", Snippet: b.String()}
}

// Position selects insertion relative to a line number.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

// InsertAt inserts content as new lines immediately before or after line.
func (j *Jail) InsertAt(path string, line int, position Position, content string) OpResult {
	resolved, err := j.Resolve(path)
	if err != nil {
		return OpResult{Path: path, Action: "insert_at", Err: err}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return OpResult{Path: path, Action: "insert_at", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "reading file", err)}
	}
	lines := strings.Split(string(data), "\n")
	idx := line - 1
	if position == After {
		idx++
	}
	if idx < 0 {
		idx = 0
	}
	if idx > len(lines) {
		idx = len(lines)
	}
	inserted := strings.Split(content, "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:idx]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[idx:]...)
	joined := strings.Join(updated, "\n")
	if err := os.WriteFile(resolved, []byte(joined), 0o644); err != nil {
		return OpResult{Path: path, Action: "insert_at", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "writing file", err)}
	}
	return OpResult{Path: path, Action: "insert_at", Snippet: snippetLines(updated, idx, len(inserted))}
}

// ReplaceLines replaces the 1-indexed inclusive line range [start, end]
// with content.
func (j *Jail) ReplaceLines(path string, start, end int, content string) OpResult {
	resolved, err := j.Resolve(path)
	if err != nil {
		return OpResult{Path: path, Action: "replace_lines", Err: err}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return OpResult{Path: path, Action: "replace_lines", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "reading file", err)}
	}
	lines := strings.Split(string(data), "\n")
	if start < 1 || end < start || end > len(lines) {
		return OpResult{Path: path, Action: "replace_lines", Err: errkind.New(errkind.StringNotFound, "line range out of bounds")}
	}
	replacement := strings.Split(content, "\n")
	updated := make([]string, 0, len(lines)-(end-start+1)+len(replacement))
	updated = append(updated, lines[:start-1]...)
	updated = append(updated, replacement...)
	updated = append(updated, lines[end:]...)
	joined := strings.Join(updated, "\n")
	if err := os.WriteFile(resolved, []byte(joined), 0o644); err != nil {
		return OpResult{Path: path, Action: "replace_lines", Err: errkind.Wrap(errkind.FileNotFoundInWorkspace, "writing file", err)}
	}
	return OpResult{Path: path, Action: "replace_lines", Snippet: snippetLines(updated, start-1, len(replacement))}
}

func snippetHead(content string, n int) string {
	lines := strings.SplitN(content, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// snippetAround returns ~3 lines of context before and after the byte
// offset idx within content (post-replacement).
func snippetAround(content string, idx, replacementLen int) string {
	before := content[:idx]
	lineNum := strings.Count(before, "\n")
	lines := strings.Split(content, "\n")
	start := lineNum - 3
	if start < 0 {
		start = 0
	}
	end := lineNum + 3
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

func snippetLines(lines []string, idx, count int) string {
	start := idx - 3
	if start < 0 {
		start = 0
	}
	end := idx + count + 3
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}
