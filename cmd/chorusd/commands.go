// commands.go contains the cobra command tree. Each builder wires flags to
// a handler in serve.go.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chorusd",
		Short: "Chorus - multi-agent chat-bound orchestration daemon",
		Long: `Chorus binds independent LLM agents to chat channels and runs each
conversation as a branch of a cooperative tool loop, with inter-agent
messaging, process spawning, and a hook system for reacting to subprocess
output.

Supported channels: Discord, Slack
Supported LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Chorus orchestration daemon",
		Long: `Start the Chorus orchestration daemon.

The daemon will:
1. Load configuration from the specified file (or ./chorus.yaml)
2. Open the durable store (sqlite or postgres)
3. Start the configured gateways (Discord, Slack)
4. Wire every configured agent's runtime and bind it to its channel
5. Serve a Prometheus metrics endpoint

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with the default config
  chorusd serve

  # Start with a custom config
  chorusd serve --config /etc/chorus/production.yaml

  # Start with debug logging
  chorusd serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "chorus.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}
