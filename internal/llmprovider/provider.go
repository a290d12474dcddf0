// Package llmprovider adapts the agent loop to concrete LLM backends,
// converting Chorus's internal message/tool format to and from each
// provider's wire format and normalizing streaming and error handling.
package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/George-Strauch/Chorus/pkg/models"
)

// Tool is the subset of internal/tools.Tool a provider needs to build a
// function-calling schema, kept separate to avoid an import cycle.
type Tool interface {
	Name() string
	Description() string
	Schema() []byte
}

// CompletionRequest is one turn sent to a provider: a system prompt, the
// full message history for the branch, and the tools currently projected
// for the agent's permission profile.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []Tool
	MaxTokens int
}

// CompletionChunk is one unit of a streamed response. Exactly one of Text,
// ToolCall, Error is meaningful per chunk; Done marks stream end.
type CompletionChunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Error        error
	Done         bool
	InputTokens  int
	OutputTokens int
}

// Provider is one LLM backend. Implementations stream CompletionChunks on
// an internal goroutine and close the returned channel when done.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// FailoverReason categorizes a provider failure for retry and
// branch-termination decisions.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether retrying the same provider/model may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured provider failure carrying enough context
// for the agent loop to classify it into errkind.ProviderRateLimit or
// errkind.ProviderError.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == 402:
		return FailoverBilling
	case status == 429:
		return FailoverRateLimit
	case status == 401 || status == 403:
		return FailoverAuth
	case status == 400 || status == 422:
		return FailoverInvalidRequest
	case status == 404:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorMessage(msg string) FailoverReason {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return FailoverRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") || strings.Contains(msg, "bad gateway") || strings.Contains(msg, "service unavailable"):
		return FailoverServerError
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

// NewProviderError wraps cause, classifying it from its message text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = classifyErrorMessage(cause.Error())
	}
	return err
}

// WithStatus attaches an HTTP status code and reclassifies the error.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithMessage overrides the human-readable message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// WithRequestID attaches the provider's request id for debugging.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// AsProviderError unwraps err looking for a *ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func defaultMaxTokens(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
