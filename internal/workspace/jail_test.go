package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/George-Strauch/Chorus/internal/errkind"
)

func TestJailRejectsEscape(t *testing.T) {
	root := t.TempDir()
	jail, err := NewJail(root)
	if err != nil {
		t.Fatalf("NewJail: %v", err)
	}
	if _, err := jail.Resolve("../outside.txt"); err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestJailRejectsSiblingPrefixEscape(t *testing.T) {
	root := t.TempDir()
	jail, err := NewJail(root)
	if err != nil {
		t.Fatalf("NewJail: %v", err)
	}
	sibling := root + "-evil"
	if err := os.MkdirAll(sibling, 0o755); err != nil {
		t.Fatalf("mkdir sibling: %v", err)
	}
	if _, err := jail.Resolve(filepath.Join(sibling, "x.txt")); err == nil {
		t.Fatal("expected sibling-prefix path to be rejected")
	}
}

func TestJailResolveWithinRoot(t *testing.T) {
	root := t.TempDir()
	jail, err := NewJail(root)
	if err != nil {
		t.Fatalf("NewJail: %v", err)
	}
	resolved, err := jail.Resolve("sub/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Dir(resolved) != filepath.Join(root, "sub") {
		t.Errorf("resolved = %s", resolved)
	}
}

func kindOf(t *testing.T, err error) errkind.Kind {
	t.Helper()
	kind, ok := errkind.As(err)
	if !ok {
		t.Fatalf("expected errkind.Error, got %v", err)
	}
	return kind
}
