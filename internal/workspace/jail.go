// Package workspace implements Chorus's path-jailed file operations: every
// path a tool touches is resolved against an agent's workspace root and
// rejected if it would escape it.
package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/George-Strauch/Chorus/internal/errkind"
)

// Jail resolves workspace-relative paths against a fixed root, following
// symlinks and rejecting any path that would resolve outside the root.
type Jail struct {
	Root string
}

// NewJail builds a Jail rooted at root, made absolute.
func NewJail(root string) (*Jail, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errkind.Wrap(errkind.PathTraversal, "resolving workspace root", err)
	}
	return &Jail{Root: abs}, nil
}

// Resolve canonicalizes path (relative or absolute) against the jail root
// and requires the result to be under the root. A trailing-separator check
// on the root prevents "/ws" from matching "/ws-evil".
func (j *Jail) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", errkind.New(errkind.PathTraversal, "path is required")
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(j.Root, clean)
	}

	// Resolve symlinks through the deepest existing ancestor, so a path that
	// does not exist yet is still checked against where its parents point.
	resolved := target
	dir, rest := target, ""
	for {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			resolved = filepath.Join(real, rest)
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}

	rootWithSep := j.Root
	if !strings.HasSuffix(rootWithSep, string(os.PathSeparator)) {
		rootWithSep += string(os.PathSeparator)
	}
	if resolved != j.Root && !strings.HasPrefix(resolved, rootWithSep) {
		return "", errkind.New(errkind.PathTraversal, "path escapes workspace: "+path)
	}
	return target, nil
}
