// Package config loads Chorus's layered YAML configuration: built-in
// defaults, an on-disk YAML file, then CHORUS_* environment overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Logging   LoggingConfig   `yaml:"logging"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Process   ProcessConfig   `yaml:"process"`
	Loop      LoopConfig      `yaml:"loop"`
	LLM       LLMConfig       `yaml:"llm"`

	// Agents declares the deployment's agent-to-channel topology. serve
	// upserts each into the durable store and binds it to the matching
	// gateway on startup; everything else about an agent (permissions,
	// docs, system prompt) lives here too since the store only persists
	// what self_edit needs to mutate at runtime.
	Agents []AgentBootstrap `yaml:"agents"`
}

// AgentBootstrap declares one agent in the config file. Platform selects
// which configured gateway the agent's channel belongs to.
type AgentBootstrap struct {
	Name          string        `yaml:"name"`
	Platform      string        `yaml:"platform"` // "discord" or "slack"
	ChannelID     string        `yaml:"channel_id"`
	Model         string        `yaml:"model"`
	Permissions   string        `yaml:"permissions"` // preset name: open|standard|locked
	SystemPrompt  string        `yaml:"system_prompt"`
	DocsDir       string        `yaml:"docs_dir"`
	Window        time.Duration `yaml:"window"`
}

// ServerConfig configures the control-plane bridge (status view, ask-UI
// callbacks, metrics endpoint).
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig selects and connects the durable store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// WorkspaceConfig configures the per-agent path-jailed workspace root.
type WorkspaceConfig struct {
	// RootTemplate is expanded per-agent, with {agent} substituted for the
	// agent name.
	RootTemplate string `yaml:"root_template"`
}

// LoggingConfig configures internal/observability.Logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig carries per-channel adapter credentials.
type GatewayConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	Slack   SlackConfig   `yaml:"slack"`
}

type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

// ProcessConfig holds process settings. DefaultCommandTimeout is read by
// the orchestrator's command tools; OutputRingBufferLines and
// RecoveryProbeInterval are not read by the process manager, which keeps a
// fixed 100-line output tail and a fixed liveness probe interval.
type ProcessConfig struct {
	OutputRingBufferLines int           `yaml:"output_ring_buffer_lines"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
	DefaultCommandTimeout time.Duration `yaml:"default_command_timeout"`
}

// LoopConfig configures the agentic tool loop's defaults.
type LoopConfig struct {
	MaxIterations      int           `yaml:"max_iterations"`
	DefaultAskTimeout  time.Duration `yaml:"default_ask_timeout"`
	LockAcquireTimeout time.Duration `yaml:"lock_acquire_timeout"`
}

// LLMConfig carries provider API keys.
type LLMConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
}

// Default returns the built-in configuration before any file or
// environment overrides are applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path, decodes it over the built-in defaults, applies
// CHORUS_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "chorus.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Workspace.RootTemplate == "" {
		cfg.Workspace.RootTemplate = "./workspaces/{agent}"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Process.OutputRingBufferLines == 0 {
		cfg.Process.OutputRingBufferLines = 100
	}
	if cfg.Process.RecoveryProbeInterval == 0 {
		cfg.Process.RecoveryProbeInterval = 5 * time.Second
	}
	if cfg.Process.DefaultCommandTimeout == 0 {
		cfg.Process.DefaultCommandTimeout = 120 * time.Second
	}
	if cfg.Loop.MaxIterations == 0 {
		cfg.Loop.MaxIterations = 25
	}
	if cfg.Loop.DefaultAskTimeout == 0 {
		cfg.Loop.DefaultAskTimeout = 120 * time.Second
	}
	if cfg.Loop.LockAcquireTimeout == 0 {
		cfg.Loop.LockAcquireTimeout = 30 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CHORUS_SERVER_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_SERVER_HTTP_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_DATABASE_DRIVER")); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_LOGGING_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_GATEWAY_DISCORD_BOT_TOKEN")); v != "" {
		cfg.Gateway.Discord.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_GATEWAY_SLACK_BOT_TOKEN")); v != "" {
		cfg.Gateway.Slack.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_GATEWAY_SLACK_APP_TOKEN")); v != "" {
		cfg.Gateway.Slack.AppToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_LLM_ANTHROPIC_API_KEY")); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CHORUS_LLM_OPENAI_API_KEY")); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
}

// ValidationError reports every configuration problem found by validate in
// one pass, rather than failing on the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Issues, "; "))
}

func validate(cfg *Config) error {
	var issues []string
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		issues = append(issues, fmt.Sprintf("database.driver: unknown driver %q", cfg.Database.Driver))
	}
	if cfg.Loop.MaxIterations <= 0 {
		issues = append(issues, "loop.max_iterations: must be positive")
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// AgentWorkspaceRoot expands Workspace.RootTemplate for a given agent name.
func (c *Config) AgentWorkspaceRoot(agent string) string {
	return strings.ReplaceAll(c.Workspace.RootTemplate, "{agent}", agent)
}
