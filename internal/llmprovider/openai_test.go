package llmprovider

import (
	"encoding/json"
	"testing"

	"github.com/George-Strauch/Chorus/pkg/models"
)

func TestConvertToOpenAIMessagesSplitsToolResults(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "run the tests"},
		{
			Role: models.RoleToolUse,
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "bash", Input: json.RawMessage(`{"command":"make test"}`)},
			},
		},
		{Role: models.RoleToolResult, ToolCallID: "call_1", Content: "ok"},
	}

	result := convertToOpenAIMessages(messages, "you are helpful")
	if len(result) != 4 {
		t.Fatalf("expected 4 messages (system + 3), got %d", len(result))
	}
	if result[0].Role != "system" || result[0].Content != "you are helpful" {
		t.Fatalf("expected system message first, got %+v", result[0])
	}
	if result[2].Role != "assistant" || len(result[2].ToolCalls) != 1 {
		t.Fatalf("expected assistant message with tool call, got %+v", result[2])
	}
	if result[3].Role != "tool" || result[3].ToolCallID != "call_1" {
		t.Fatalf("expected tool result message, got %+v", result[3])
	}
}

type stubTool struct {
	name   string
	desc   string
	schema string
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return s.desc }
func (s stubTool) Schema() []byte      { return []byte(s.schema) }

func TestConvertToOpenAITools(t *testing.T) {
	tools := []Tool{stubTool{name: "view", desc: "view a file", schema: `{"type":"object"}`}}
	result := convertToOpenAITools(tools)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Function.Name != "view" {
		t.Fatalf("unexpected tool name: %s", result[0].Function.Name)
	}
}
