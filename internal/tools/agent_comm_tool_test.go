package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeMessenger struct {
	branch int64
	err    error
	from   string
	to     string
	body   string
}

func (f *fakeMessenger) SendToAgent(ctx context.Context, from, to, message string) (int64, error) {
	f.from, f.to, f.body = from, to, message
	if f.err != nil {
		return 0, f.err
	}
	return f.branch, nil
}

func TestAgentCommToolDeliversMessage(t *testing.T) {
	m := &fakeMessenger{branch: 42}
	tool := NewAgentCommTool("alice", m)

	params, _ := json.Marshal(map[string]string{"op": "notify", "target": "bob", "message": "ship it"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if m.from != "alice" || m.to != "bob" || m.body != "ship it" {
		t.Fatalf("messenger called with unexpected args: %+v", m)
	}
}

func TestAgentCommToolRejectsInvalidTarget(t *testing.T) {
	m := &fakeMessenger{}
	tool := NewAgentCommTool("alice", m)

	params, _ := json.Marshal(map[string]string{"op": "notify", "target": "not a name!", "message": "hi"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result for invalid target")
	}
}

func TestAgentCommToolSurfacesDeliveryError(t *testing.T) {
	m := &fakeMessenger{err: errors.New("agent not found")}
	tool := NewAgentCommTool("alice", m)

	params, _ := json.Marshal(map[string]string{"op": "notify", "target": "bob", "message": "hi"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result when delivery fails")
	}
}

func TestAgentCommToolActionDetail(t *testing.T) {
	tool := NewAgentCommTool("alice", &fakeMessenger{})
	params, _ := json.Marshal(map[string]string{"op": "notify", "target": "bob", "message": "hi"})
	if detail := tool.ActionDetail(params); detail != "notify bob" {
		t.Fatalf("detail = %q, want %q", detail, "notify bob")
	}
}
