package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 127.0.0.1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite default", cfg.Database.Driver)
	}
	if cfg.Loop.MaxIterations != 25 {
		t.Errorf("max_iterations = %d, want 25 default", cfg.Loop.MaxIterations)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "server:\n  extraneous_field: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsInvalidDriver(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: mysql\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported database driver")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 127.0.0.1\n")
	t.Setenv("CHORUS_SERVER_HOST", "0.0.0.0")
	t.Setenv("CHORUS_LLM_ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want env override 0.0.0.0", cfg.Server.Host)
	}
	if cfg.LLM.AnthropicAPIKey != "sk-test" {
		t.Errorf("anthropic api key not overridden from env")
	}
}

func TestAgentWorkspaceRoot(t *testing.T) {
	cfg := Default()
	cfg.Workspace.RootTemplate = "/data/{agent}/ws"
	if got := cfg.AgentWorkspaceRoot("scout"); got != "/data/scout/ws" {
		t.Errorf("AgentWorkspaceRoot = %q", got)
	}
}
