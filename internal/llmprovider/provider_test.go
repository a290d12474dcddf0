package llmprovider

import (
	"errors"
	"testing"
)

func TestClassifyStatusCode(t *testing.T) {
	cases := map[int]FailoverReason{
		402: FailoverBilling,
		429: FailoverRateLimit,
		401: FailoverAuth,
		403: FailoverAuth,
		400: FailoverInvalidRequest,
		404: FailoverModelUnavailable,
		500: FailoverServerError,
		503: FailoverServerError,
		200: FailoverUnknown,
	}
	for status, want := range cases {
		if got := classifyStatusCode(status); got != want {
			t.Errorf("classifyStatusCode(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestFailoverReasonIsRetryable(t *testing.T) {
	if !FailoverRateLimit.IsRetryable() {
		t.Error("rate limit should be retryable")
	}
	if FailoverAuth.IsRetryable() {
		t.Error("auth failure should not be retryable")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4", errors.New("connection refused")).WithStatus(503)
	if err.Reason != FailoverServerError {
		t.Errorf("reason = %s, want server_error", err.Reason)
	}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}

func TestDefaultMaxTokens(t *testing.T) {
	if got := defaultMaxTokens(0); got != 4096 {
		t.Errorf("defaultMaxTokens(0) = %d, want 4096", got)
	}
	if got := defaultMaxTokens(100); got != 100 {
		t.Errorf("defaultMaxTokens(100) = %d, want 100", got)
	}
}
