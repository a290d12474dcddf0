package agentloop

import "time"

// EventType identifies a tool-loop lifecycle event, emitted for the status
// view and for metrics.
type EventType string

const (
	EventLLMCallStart     EventType = "LLM_CALL_START"
	EventLLMCallComplete  EventType = "LLM_CALL_COMPLETE"
	EventToolCallStart    EventType = "TOOL_CALL_START"
	EventToolCallComplete EventType = "TOOL_CALL_COMPLETE"
	EventPermissionAsk    EventType = "PERMISSION_ASK"
	EventStepBegin        EventType = "STEP_BEGIN"
	EventLoopComplete     EventType = "LOOP_COMPLETE"
)

// Event is one lifecycle notification from a running loop iteration.
type Event struct {
	Type   EventType
	Agent  string
	Branch int64
	At     time.Time

	// Text is the step description (STEP_BEGIN) or a short human summary.
	Text string

	// ToolName/Action are set on tool-related events.
	ToolName string
	Action   string

	// InputTokens/OutputTokens are set on LLM_CALL_COMPLETE.
	InputTokens  int
	OutputTokens int

	// Truncated marks LOOP_COMPLETE reached via max-iterations.
	Truncated bool

	// Err carries a tool or stream failure for COMPLETE-style events.
	Err error
}

// EventEmitter receives loop lifecycle events. Implementations must not
// block meaningfully — the loop does not retry or back off on Emit.
type EventEmitter interface {
	Emit(event Event)
}

// NullEmitter discards every event.
type NullEmitter struct{}

func (NullEmitter) Emit(Event) {}
