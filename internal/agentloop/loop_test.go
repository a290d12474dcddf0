package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/George-Strauch/Chorus/internal/llmprovider"
	"github.com/George-Strauch/Chorus/internal/permission"
	"github.com/George-Strauch/Chorus/internal/tools"
	"github.com/George-Strauch/Chorus/pkg/models"
)

type scriptedProvider struct {
	turns [][]*llmprovider.CompletionChunk
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *llmprovider.CompletionRequest) (<-chan *llmprovider.CompletionChunk, error) {
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan *llmprovider.CompletionChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "view" }
func (echoTool) Description() string { return "view a file" }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)
}
func (echoTool) ActionDetail(params json.RawMessage) string {
	var p struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(params, &p)
	return p.Path
}
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "file contents"}, nil
}

type fakeTracker struct {
	steps   []models.StepRecord
	metrics models.BranchMetrics
}

func (f *fakeTracker) DrainInjected(branch int64) []models.Message { return nil }
func (f *fakeTracker) RecordStep(branch int64, rec models.StepRecord) {
	f.steps = append(f.steps, rec)
}
func (f *fakeTracker) UpdateMetrics(branch int64, fn func(*models.BranchMetrics)) {
	fn(&f.metrics)
}

type fakeAuditor struct {
	records []models.AuditRecord
}

func (f *fakeAuditor) Record(ctx context.Context, rec models.AuditRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func standardProfile(t *testing.T) *models.PermissionProfile {
	t.Helper()
	profile, err := permission.Preset(permission.PresetStandard)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	return profile
}

func TestLoopEndsOnTextOnlyResponse(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*llmprovider.CompletionChunk{
		{{Text: "hello there"}, {Done: true, InputTokens: 10, OutputTokens: 5}},
	}}
	registry := tools.NewRegistry()
	tracker := &fakeTracker{}

	loop := New(provider, registry, tracker, &fakeAuditor{}, NullEmitter{}, nil, DefaultConfig())
	result := loop.Run(context.Background(), Request{
		Agent: "alice", Branch: 1, System: "be helpful", Model: "m", Profile: standardProfile(t),
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})

	if result.Errored {
		t.Fatalf("unexpected error result")
	}
	if result.Text != "hello there" {
		t.Fatalf("text = %q", result.Text)
	}
	if tracker.metrics.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", tracker.metrics.Iterations)
	}
}

func TestLoopExecutesAllowedToolThenReturnsText(t *testing.T) {
	toolCallInput := json.RawMessage(`{"path":"README.md"}`)
	provider := &scriptedProvider{turns: [][]*llmprovider.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call_1", Name: "view", Input: toolCallInput}}, {Done: true}},
		{{Text: "the file says hello"}, {Done: true}},
	}}
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	tracker := &fakeTracker{}
	auditor := &fakeAuditor{}

	loop := New(provider, registry, tracker, auditor, NullEmitter{}, nil, DefaultConfig())
	result := loop.Run(context.Background(), Request{
		Agent: "alice", Branch: 1, Profile: standardProfile(t),
		Messages: []models.Message{{Role: models.RoleUser, Content: "view README.md"}},
	})

	if result.Errored {
		t.Fatalf("unexpected error result")
	}
	if result.Text != "the file says hello" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(auditor.records) != 1 || auditor.records[0].Decision != models.DecisionAllow {
		t.Fatalf("expected 1 allow audit record, got %+v", auditor.records)
	}
}

func TestLoopDeniesDisallowedTool(t *testing.T) {
	toolCallInput := json.RawMessage(`{"command":"rm -rf tmp"}`)
	provider := &scriptedProvider{turns: [][]*llmprovider.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call_1", Name: "unknown_dangerous_tool", Input: toolCallInput}}, {Done: true}},
		{{Text: "ok, skipping that"}, {Done: true}},
	}}
	registry := tools.NewRegistry()
	tracker := &fakeTracker{}
	auditor := &fakeAuditor{}

	loop := New(provider, registry, tracker, auditor, NullEmitter{}, nil, DefaultConfig())
	result := loop.Run(context.Background(), Request{
		Agent: "alice", Branch: 1, Profile: standardProfile(t),
		Messages: []models.Message{{Role: models.RoleUser, Content: "do something unsafe"}},
	})

	if result.Errored {
		t.Fatalf("unexpected error result")
	}
	if len(auditor.records) != 1 || auditor.records[0].Decision != models.DecisionDeny {
		t.Fatalf("expected 1 deny audit record, got %+v", auditor.records)
	}
}

func TestLoopAsksAndHonorsApproval(t *testing.T) {
	toolCallInput := json.RawMessage(`{"op":"push","args":""}`)
	provider := &scriptedProvider{turns: [][]*llmprovider.CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call_1", Name: "git", Input: toolCallInput}}, {Done: true}},
		{{Text: "pushed"}, {Done: true}},
	}}
	registry := tools.NewRegistry()
	registry.Register(stubGitTool{})
	tracker := &fakeTracker{}
	auditor := &fakeAuditor{}

	asked := false
	ask := func(ctx context.Context, agent string, branch int64, action string) (bool, error) {
		asked = true
		return true, nil
	}

	loop := New(provider, registry, tracker, auditor, NullEmitter{}, ask, DefaultConfig())
	result := loop.Run(context.Background(), Request{
		Agent: "alice", Branch: 1, Profile: standardProfile(t),
		Messages: []models.Message{{Role: models.RoleUser, Content: "push it"}},
	})

	if result.Errored {
		t.Fatalf("unexpected error result")
	}
	if !asked {
		t.Fatalf("expected ask-callback to be invoked")
	}
	if len(auditor.records) != 1 || auditor.records[0].Decision != models.DecisionAllow {
		t.Fatalf("expected 1 allow audit record after approval, got %+v", auditor.records)
	}
}

func TestLoopTruncatesAtMaxIterations(t *testing.T) {
	toolCallInput := json.RawMessage(`{"path":"x"}`)
	turn := []*llmprovider.CompletionChunk{{ToolCall: &models.ToolCall{ID: "call_1", Name: "view", Input: toolCallInput}}, {Done: true}}
	provider := &scriptedProvider{turns: [][]*llmprovider.CompletionChunk{turn, turn, turn}}
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	tracker := &fakeTracker{}

	loop := New(provider, registry, tracker, &fakeAuditor{}, NullEmitter{}, nil, Config{MaxIterations: 2, MaxTokens: 100})
	result := loop.Run(context.Background(), Request{
		Agent: "alice", Branch: 1, Profile: standardProfile(t),
		Messages: []models.Message{{Role: models.RoleUser, Content: "loop forever"}},
	})

	if !result.Truncated {
		t.Fatalf("expected truncated result")
	}
}

type stubGitTool struct{}

func (stubGitTool) Name() string                  { return "git" }
func (stubGitTool) Description() string           { return "git" }
func (stubGitTool) Schema() json.RawMessage       { return json.RawMessage(`{"type":"object"}`) }
func (stubGitTool) ActionDetail(params json.RawMessage) string {
	var p struct {
		Op   string `json:"op"`
		Args string `json:"args"`
	}
	_ = json.Unmarshal(params, &p)
	return p.Op + " " + p.Args
}
func (stubGitTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "pushed"}, nil
}
