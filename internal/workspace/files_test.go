package workspace

import (
	"os"
	"strings"
	"testing"

	"github.com/George-Strauch/Chorus/internal/errkind"
)

func newJail(t *testing.T) *Jail {
	t.Helper()
	jail, err := NewJail(t.TempDir())
	if err != nil {
		t.Fatalf("NewJail: %v", err)
	}
	return jail
}

func TestCreateFileCreatesIntermediateDirs(t *testing.T) {
	jail := newJail(t)
	result := jail.CreateFile("nested/dir/file.txt", "hello")
	if result.Err != nil {
		t.Fatalf("CreateFile: %v", result.Err)
	}
	resolved, _ := jail.Resolve("nested/dir/file.txt")
	data, err := os.ReadFile(resolved)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
}

func TestStrReplaceRequiresExactlyOneMatch(t *testing.T) {
	jail := newJail(t)
	jail.CreateFile("f.txt", "one two one")

	if r := jail.StrReplace("f.txt", "one", "X"); r.Err == nil {
		t.Fatal("expected AmbiguousMatch for two occurrences")
	} else if kindOf(t, r.Err) != errkind.AmbiguousMatch {
		t.Errorf("got kind %v, want AmbiguousMatch", kindOf(t, r.Err))
	}

	if r := jail.StrReplace("f.txt", "missing", "X"); r.Err == nil {
		t.Fatal("expected StringNotFound")
	} else if kindOf(t, r.Err) != errkind.StringNotFound {
		t.Errorf("got kind %v, want StringNotFound", kindOf(t, r.Err))
	}

	jail.CreateFile("g.txt", "unique phrase here")
	if r := jail.StrReplace("g.txt", "unique", "singular"); r.Err != nil {
		t.Fatalf("StrReplace: %v", r.Err)
	}
	resolved, _ := jail.Resolve("g.txt")
	data, _ := os.ReadFile(resolved)
	if string(data) != "singular phrase here" {
		t.Errorf("content = %q", data)
	}
}

func TestViewRejectsBinary(t *testing.T) {
	jail := newJail(t)
	resolved, _ := jail.Resolve("bin.dat")
	if err := os.WriteFile(resolved, []byte{0x00, 0x01, 0x02}, 0o644); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	result := jail.View("bin.dat", 0, 0)
	if result.Err == nil || kindOf(t, result.Err) != errkind.BinaryFile {
		t.Fatalf("expected BinaryFile, got %v", result.Err)
	}
}

func TestViewReturnsNumberedLines(t *testing.T) {
	jail := newJail(t)
	jail.CreateFile("lines.txt", "a\nb\nc\nd\n")
	result := jail.View("lines.txt", 1, 2)
	if result.Err != nil {
		t.Fatalf("View: %v", result.Err)
	}
	if !strings.Contains(result.Snippet, "b") || !strings.Contains(result.Snippet, "c") {
		t.Errorf("snippet = %q", result.Snippet)
	}
	if strings.Contains(result.Snippet, "     1\ta") {
		t.Errorf("offset should have skipped line 1, got %q", result.Snippet)
	}
}

func TestInsertAtBefore(t *testing.T) {
	jail := newJail(t)
	jail.CreateFile("ins.txt", "a\nb\nc")

	jail.InsertAt("ins.txt", 2, Before, "X")
	resolved, _ := jail.Resolve("ins.txt")
	data, _ := os.ReadFile(resolved)
	if string(data) != "a\nX\nb\nc" {
		t.Errorf("after insert before: %q", data)
	}
}

func TestReplaceLinesOutOfBounds(t *testing.T) {
	jail := newJail(t)
	jail.CreateFile("r.txt", "a\nb\nc")
	if r := jail.ReplaceLines("r.txt", 5, 10, "x"); r.Err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}
