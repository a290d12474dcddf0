// Package agentloop drives one branch's message→LLM→tools→LLM cycle until
// a terminal state is reached, mediating every tool call through the
// permission engine and an optional human ask-callback.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/George-Strauch/Chorus/internal/errkind"
	"github.com/George-Strauch/Chorus/internal/llmprovider"
	"github.com/George-Strauch/Chorus/internal/permission"
	"github.com/George-Strauch/Chorus/internal/tools"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// AskFunc prompts a human for an ASK-classified tool call and returns
// whether it was approved. It must itself apply any timeout; a false
// return (including on timeout) is treated as a denial.
type AskFunc func(ctx context.Context, agent string, branch int64, action string) (bool, error)

// BranchTracker is the slice of the branch manager the loop needs:
// draining mid-run injections, recording step history, and updating
// per-branch metrics. Implemented by internal/branch.Manager.
type BranchTracker interface {
	DrainInjected(branch int64) []models.Message
	RecordStep(branch int64, rec models.StepRecord)
	UpdateMetrics(branch int64, fn func(*models.BranchMetrics))
}

// Auditor persists one permission decision per tool call, as required by
// spec: every ALLOW/ASK/DENY gets an audit_log row.
type Auditor interface {
	Record(ctx context.Context, rec models.AuditRecord) error
}

// Config tunes one Loop instance.
type Config struct {
	MaxIterations int
	MaxTokens     int
	AskTimeout    time.Duration
}

// DefaultConfig matches spec's stated defaults.
func DefaultConfig() Config {
	return Config{MaxIterations: 25, MaxTokens: 4096, AskTimeout: 120 * time.Second}
}

// Loop runs the tool loop for a single branch invocation.
type Loop struct {
	provider llmprovider.Provider
	registry *tools.Registry
	tracker  BranchTracker
	auditor  Auditor
	emitter  EventEmitter
	ask      AskFunc
	config   Config
}

func New(provider llmprovider.Provider, registry *tools.Registry, tracker BranchTracker, auditor Auditor, emitter EventEmitter, ask AskFunc, config Config) *Loop {
	if config.MaxIterations <= 0 {
		config = DefaultConfig()
	}
	if emitter == nil {
		emitter = NullEmitter{}
	}
	return &Loop{provider: provider, registry: registry, tracker: tracker, auditor: auditor, emitter: emitter, ask: ask, config: config}
}

// Result is what a branch's loop run produced.
type Result struct {
	Text      string
	Messages  []models.Message
	Truncated bool
	Errored   bool
	ErrKind   errkind.Kind
}

// Request describes one loop invocation: the agent/branch identity, the
// fixed system prompt and model, the current message log, and the
// permission profile in force for this agent.
type Request struct {
	Agent    string
	Branch   int64
	System   string
	Model    string
	Messages []models.Message
	Profile  *models.PermissionProfile
}

// Run executes iterations until END_TURN with an empty injection queue,
// max-iterations truncation, or a branch-terminal error.
func (l *Loop) Run(ctx context.Context, req Request) Result {
	messages := append([]models.Message(nil), req.Messages...)

	for iteration := 1; ; iteration++ {
		if iteration > l.config.MaxIterations {
			l.emitter.Emit(Event{Type: EventLoopComplete, Agent: req.Agent, Branch: req.Branch, At: time.Now(), Truncated: true})
			return Result{Text: lastAssistantText(messages), Messages: messages, Truncated: true}
		}

		l.tracker.RecordStep(req.Branch, models.StepRecord{Iteration: iteration, Decision: "calling_llm", At: time.Now()})
		l.emitter.Emit(Event{Type: EventLLMCallStart, Agent: req.Agent, Branch: req.Branch, At: time.Now()})

		projected := l.registry.ProjectFor(req.Profile)
		providerTools := make([]llmprovider.Tool, 0, len(projected))
		for _, t := range projected {
			providerTools = append(providerTools, toolAdapter{t})
		}

		chunks, err := l.provider.Complete(ctx, &llmprovider.CompletionRequest{
			Model:     req.Model,
			System:    req.System,
			Messages:  messages,
			Tools:     providerTools,
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			return l.errored(req, messages, errkind.ProviderError, err)
		}

		text, toolCalls, inputTokens, outputTokens, streamErr := consumeStream(chunks)
		if streamErr != nil {
			kind := errkind.ProviderError
			if pe, ok := llmprovider.AsProviderError(streamErr); ok && pe.Reason == llmprovider.FailoverRateLimit {
				kind = errkind.ProviderRateLimit
			}
			return l.errored(req, messages, kind, streamErr)
		}

		l.tracker.UpdateMetrics(req.Branch, func(m *models.BranchMetrics) {
			m.Iterations++
			m.InputTokens += inputTokens
			m.OutputTokens += outputTokens
		})
		l.emitter.Emit(Event{Type: EventLLMCallComplete, Agent: req.Agent, Branch: req.Branch, At: time.Now(), InputTokens: inputTokens, OutputTokens: outputTokens})

		if len(toolCalls) == 0 {
			injected := l.tracker.DrainInjected(req.Branch)
			if len(injected) == 0 {
				return Result{Text: text, Messages: messages}
			}
			if text != "" {
				messages = append(messages, models.Message{ID: uuid.NewString(), Agent: req.Agent, Branch: req.Branch, Role: models.RoleAssistant, Content: text, Timestamp: time.Now()})
			}
			messages = append(messages, injected...)
			continue
		}

		messages = append(messages, models.Message{
			ID: uuid.NewString(), Agent: req.Agent, Branch: req.Branch,
			Role: models.RoleToolUse, Content: text, ToolCalls: toolCalls, Timestamp: time.Now(),
		})

		results, anyErrored := l.executeToolCalls(ctx, req, toolCalls)
		for i, tc := range toolCalls {
			messages = append(messages, models.Message{
				ID: uuid.NewString(), Agent: req.Agent, Branch: req.Branch,
				Role: models.RoleToolResult, ToolCallID: tc.ID,
				Content: results[i].Content, IsError: results[i].IsError, Timestamp: time.Now(),
			})
		}
		_ = anyErrored // tool-call-granular failures never terminate the branch

		injected := l.tracker.DrainInjected(req.Branch)
		messages = append(messages, injected...)
	}
}

func (l *Loop) errored(req Request, messages []models.Message, kind errkind.Kind, cause error) Result {
	l.emitter.Emit(Event{Type: EventLoopComplete, Agent: req.Agent, Branch: req.Branch, At: time.Now(), Err: cause})
	return Result{
		Text:     fmt.Sprintf("%s: %s", kind, cause.Error()),
		Messages: messages,
		Errored:  true,
		ErrKind:  kind,
	}
}

// executeToolCalls decides and runs every call in the batch, sequentially
// if any call is ASK (the ask UI is serialized per spec), else in
// parallel joined in response order.
func (l *Loop) executeToolCalls(ctx context.Context, req Request, calls []models.ToolCall) ([]models.ToolResult, bool) {
	decisions := make([]permission.Decision, len(calls))
	actions := make([]string, len(calls))
	anyAsk := false
	for i, tc := range calls {
		tool := l.registry.Get(tc.Name)
		detail := ""
		if tool != nil {
			detail = tool.ActionDetail(tc.Input)
		}
		actions[i] = permission.FormatAction(tc.Name, detail)
		decisions[i] = permission.Decide(actions[i], req.Profile)
		if decisions[i] == permission.Ask {
			anyAsk = true
		}
	}

	results := make([]models.ToolResult, len(calls))
	anyErrored := false

	run := func(i int) {
		results[i] = l.runOne(ctx, req, calls[i], actions[i], decisions[i])
		if results[i].IsError {
			anyErrored = true
		}
	}

	if anyAsk {
		for i := range calls {
			run(i)
		}
	} else {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	}

	return results, anyErrored
}

func (l *Loop) runOne(ctx context.Context, req Request, call models.ToolCall, action string, decision permission.Decision) models.ToolResult {
	l.emitter.Emit(Event{Type: EventToolCallStart, Agent: req.Agent, Branch: req.Branch, At: time.Now(), ToolName: call.Name, Action: action})

	switch decision {
	case permission.Deny:
		l.audit(ctx, req, call, action, models.DecisionDeny)
		return denialResult(call.ID, errkind.PermissionDenied, "denied by permission profile")

	case permission.Ask:
		l.tracker.RecordStep(req.Branch, models.StepRecord{ToolName: call.Name, Decision: "awaiting_permission", At: time.Now()})
		l.emitter.Emit(Event{Type: EventPermissionAsk, Agent: req.Agent, Branch: req.Branch, At: time.Now(), ToolName: call.Name, Action: action})

		askCtx, cancel := context.WithTimeout(ctx, l.config.AskTimeout)
		approved, err := l.ask(askCtx, req.Agent, req.Branch, action)
		cancel()

		if err != nil || !approved {
			l.audit(ctx, req, call, action, models.DecisionDeny)
			l.tracker.UpdateMetrics(req.Branch, func(m *models.BranchMetrics) { m.ToolCallsAsked++; m.ToolCallsDenied++ })
			if err != nil {
				return denialResult(call.ID, errkind.AskTimeout, "permission prompt timed out")
			}
			return denialResult(call.ID, errkind.PermissionDenied, "denied by user")
		}
		l.audit(ctx, req, call, action, models.DecisionAllow)
		l.tracker.UpdateMetrics(req.Branch, func(m *models.BranchMetrics) { m.ToolCallsAsked++ })
		return l.execute(ctx, req, call)

	default:
		l.audit(ctx, req, call, action, models.DecisionAllow)
		return l.execute(ctx, req, call)
	}
}

func (l *Loop) execute(ctx context.Context, req Request, call models.ToolCall) (result models.ToolResult) {
	tool := l.registry.Get(call.Name)
	if tool == nil {
		return denialResult(call.ID, errkind.UnknownTool, "no such tool: "+call.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			result = models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf(`{"error":"%s","message":%q}`, "Panic", fmt.Sprint(r)), IsError: true}
		}
	}()

	l.tracker.UpdateMetrics(req.Branch, func(m *models.BranchMetrics) { m.ToolCalls++ })
	toolResult, err := tool.Execute(tools.WithBranch(ctx, req.Branch), call.Input)
	l.emitter.Emit(Event{Type: EventToolCallComplete, Agent: req.Agent, Branch: req.Branch, At: time.Now(), ToolName: call.Name, Err: err})
	if err != nil {
		return denialResult(call.ID, errkind.UnknownTool, err.Error())
	}
	toolResult.ToolCallID = call.ID
	return *toolResult
}

func (l *Loop) audit(ctx context.Context, req Request, call models.ToolCall, action string, decision models.AuditDecision) {
	if l.auditor == nil {
		return
	}
	_ = l.auditor.Record(ctx, models.AuditRecord{
		Agent: req.Agent, Branch: req.Branch,
		ToolName: call.Name, Action: action, Decision: decision,
		Detail: call.Input, At: time.Now(),
	})
}

func denialResult(toolCallID string, kind errkind.Kind, message string) models.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": string(kind), "message": message})
	return models.ToolResult{ToolCallID: toolCallID, Content: string(payload), IsError: true}
}

func lastAssistantText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant || messages[i].Role == models.RoleToolUse {
			if messages[i].Content != "" {
				return messages[i].Content
			}
		}
	}
	return ""
}

func consumeStream(chunks <-chan *llmprovider.CompletionChunk) (text string, toolCalls []models.ToolCall, inputTokens, outputTokens int, err error) {
	for chunk := range chunks {
		if chunk.Error != nil {
			err = chunk.Error
			continue
		}
		if chunk.Text != "" {
			text += chunk.Text
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
		}
	}
	return text, toolCalls, inputTokens, outputTokens, err
}

// toolAdapter bridges internal/tools.Tool (json.RawMessage schemas) to
// llmprovider.Tool (raw []byte schemas), avoiding an import cycle between
// the two packages.
type toolAdapter struct{ tool tools.Tool }

func (a toolAdapter) Name() string        { return a.tool.Name() }
func (a toolAdapter) Description() string { return a.tool.Description() }
func (a toolAdapter) Schema() []byte      { return a.tool.Schema() }
