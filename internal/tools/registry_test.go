package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/George-Strauch/Chorus/internal/permission"
	"github.com/George-Strauch/Chorus/pkg/models"
)

type stubTool struct{ name string }

func (s stubTool) Name() string                  { return s.name }
func (s stubTool) Description() string           { return s.name }
func (s stubTool) Schema() json.RawMessage       { return json.RawMessage(`{"type":"object"}`) }
func (s stubTool) ActionDetail(json.RawMessage) string { return "" }
func (s stubTool) Execute(context.Context, json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "view"})
	r.Register(stubTool{name: "bash"})

	if got := r.Get("view"); got == nil || got.Name() != "view" {
		t.Fatalf("Get(view) = %v", got)
	}
	if len(r.List()) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(r.List()))
	}
}

func TestRegistryReRegisterKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "view"})
	r.Register(stubTool{name: "bash"})
	r.Register(stubTool{name: "view"})

	names := []string{}
	for _, t := range r.List() {
		names = append(names, t.Name())
	}
	if len(names) != 2 || names[0] != "view" || names[1] != "bash" {
		t.Fatalf("unexpected order after re-register: %v", names)
	}
}

func TestProjectForLockedExcludesBash(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "view"})
	r.Register(stubTool{name: "bash"})

	profile, err := permission.Preset(permission.PresetLocked)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}

	projected := r.ProjectFor(profile)
	names := map[string]bool{}
	for _, t := range projected {
		names[t.Name()] = true
	}
	if !names["view"] {
		t.Fatalf("expected view to be reachable under locked profile")
	}
	if names["bash"] {
		t.Fatalf("expected bash to be unreachable under locked profile")
	}
}
