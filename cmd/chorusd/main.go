// Package main provides the CLI entry point for chorusd, Chorus's
// multi-agent chat-bound orchestration daemon.
//
// Chorus binds independent LLM agents to chat channels (Discord, Slack)
// and runs each inbound conversation as a branch of a cooperative tool
// loop, with inter-agent messaging, process spawning, and a hook system
// for reacting to subprocess output.
//
// # Basic usage
//
//	chorusd serve --config chorus.yaml
//
// # Environment variables
//
//   - CHORUS_SERVER_HOST, CHORUS_SERVER_HTTP_PORT
//   - CHORUS_DATABASE_DRIVER, CHORUS_DATABASE_DSN
//   - CHORUS_LOGGING_LEVEL
//   - CHORUS_GATEWAY_DISCORD_BOT_TOKEN
//   - CHORUS_GATEWAY_SLACK_BOT_TOKEN, CHORUS_GATEWAY_SLACK_APP_TOKEN
//   - CHORUS_LLM_ANTHROPIC_API_KEY, CHORUS_LLM_OPENAI_API_KEY
package main

import (
	"log/slog"
	"os"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
