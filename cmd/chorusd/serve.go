package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/George-Strauch/Chorus/internal/config"
	"github.com/George-Strauch/Chorus/internal/contextstore"
	"github.com/George-Strauch/Chorus/internal/gateway"
	"github.com/George-Strauch/Chorus/internal/gateway/discord"
	"github.com/George-Strauch/Chorus/internal/gateway/slack"
	"github.com/George-Strauch/Chorus/internal/llmprovider"
	"github.com/George-Strauch/Chorus/internal/observability"
	"github.com/George-Strauch/Chorus/internal/orchestrator"
	"github.com/George-Strauch/Chorus/internal/permission"
	"github.com/George-Strauch/Chorus/internal/store"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// runServe loads configuration, wires every collaborator, binds each
// configured agent to its gateway, and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting chorusd", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{ServiceName: "chorusd"})

	st, err := store.New(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	summarizerProvider, summaryModel := buildSummarizer(cfg)
	ctxStore := contextstore.NewStore(&cheapSummarizer{provider: summarizerProvider, model: summaryModel})

	orch, err := orchestrator.New(cfg, st, ctxStore, metrics, tracer, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	gateways, err := buildGateways(cfg)
	if err != nil {
		return fmt.Errorf("build gateways: %w", err)
	}

	if err := bootstrapAgents(ctx, cfg, st, orch, gateways); err != nil {
		return fmt.Errorf("bootstrap agents: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := orch.Run(runCtx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		slog.Info("metrics endpoint listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	slog.Info("chorusd started", "agents", len(cfg.Agents))
	<-runCtx.Done()
	slog.Info("shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Error("orchestrator shutdown failed", "error", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	if shutdownTracer != nil {
		_ = shutdownTracer(shutdownCtx)
	}

	slog.Info("chorusd stopped gracefully")
	return nil
}

// buildSummarizer picks whichever LLM provider is configured to drive
// session-snapshot summaries, preferring Anthropic. Returns a nil provider
// if neither key is set; snapshot summarization then fails per-call and
// falls back to the placeholder spec's contextstore already handles.
func buildSummarizer(cfg *config.Config) (llmprovider.Provider, string) {
	if cfg.LLM.AnthropicAPIKey != "" {
		p, err := llmprovider.NewAnthropicProvider(llmprovider.AnthropicConfig{APIKey: cfg.LLM.AnthropicAPIKey})
		if err == nil {
			return p, "claude-3-5-haiku-latest"
		}
		slog.Warn("anthropic summarizer provider failed to build", "error", err)
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		return llmprovider.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey), "gpt-4o-mini"
	}
	return nil, ""
}

// buildGateways starts exactly one adapter per configured platform; every
// agent bound to that platform shares the bot identity.
func buildGateways(cfg *config.Config) (map[string]gateway.Gateway, error) {
	gateways := make(map[string]gateway.Gateway)

	if cfg.Gateway.Discord.BotToken != "" {
		adapter, err := discord.NewAdapter(discord.Config{BotToken: cfg.Gateway.Discord.BotToken})
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		gateways["discord"] = adapter
	}
	if cfg.Gateway.Slack.BotToken != "" || cfg.Gateway.Slack.AppToken != "" {
		adapter, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Gateway.Slack.BotToken,
			AppToken: cfg.Gateway.Slack.AppToken,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: %w", err)
		}
		gateways["slack"] = adapter
	}
	return gateways, nil
}

// bootstrapAgents upserts every config-declared agent into the durable
// store and wires it into the orchestrator bound to its platform's
// gateway.
func bootstrapAgents(ctx context.Context, cfg *config.Config, st *store.Store, orch *orchestrator.Orchestrator, gateways map[string]gateway.Gateway) error {
	for _, ab := range cfg.Agents {
		gw, ok := gateways[ab.Platform]
		if !ok {
			return fmt.Errorf("agent %q: no gateway configured for platform %q", ab.Name, ab.Platform)
		}

		presetName := ab.Permissions
		if presetName == "" {
			presetName = "standard"
		}
		profile, err := permission.Preset(presetName)
		if err != nil {
			return fmt.Errorf("agent %q: permission preset %q: %w", ab.Name, presetName, err)
		}

		window := ab.Window
		if window <= 0 {
			window = 24 * time.Hour
		}

		agentCfg := &models.Agent{
			Name:          ab.Name,
			ChannelID:     ab.ChannelID,
			Model:         ab.Model,
			Permissions:   *profile,
			SystemPrompt:  ab.SystemPrompt,
			DocsDir:       ab.DocsDir,
			WorkspaceRoot: cfg.AgentWorkspaceRoot(ab.Name),
			Window:        window,
			CreatedAt:     time.Now(),
		}

		if err := upsertAgent(ctx, st, agentCfg); err != nil {
			return fmt.Errorf("agent %q: persisting: %w", ab.Name, err)
		}

		if err := orch.AddAgent(agentCfg, gw); err != nil {
			return fmt.Errorf("agent %q: %w", ab.Name, err)
		}
		slog.Info("agent bound", "agent", ab.Name, "platform", ab.Platform, "channel", ab.ChannelID)
	}
	return nil
}

func upsertAgent(ctx context.Context, st *store.Store, a *models.Agent) error {
	if st.Agents == nil {
		return nil
	}
	if existing, err := st.Agents.GetAgent(ctx, a.Name); err == nil && existing != nil {
		a.CreatedAt = existing.CreatedAt
		a.LastClear = existing.LastClear
		return st.Agents.UpdateAgent(ctx, a)
	}
	return st.Agents.CreateAgent(ctx, a)
}
