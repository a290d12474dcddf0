package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info(context.Background(), "calling provider", "header", "Authorization: Bearer sk-ant-"+strings.Repeat("a", 100))

	out := buf.String()
	if strings.Contains(out, "sk-ant-") {
		t.Fatalf("expected API key to be redacted, got: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker in output, got: %s", out)
	}
}

func TestLoggerWithBindsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf}).With("scout", 3, "tool:bash")

	logger.Debug(context.Background(), "deciding")

	out := buf.String()
	for _, want := range []string{`"agent":"scout"`, `"branch":3`, `"action":"tool:bash"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %s, got: %s", want, out)
		}
	}
}
