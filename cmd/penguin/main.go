// Package main provides the CLI entry point for the Penguin agent runtime.
//
// Penguin runs an autonomous coding-agent's reason-act-observe loop: it
// parses model-emitted actions, dispatches them to tools, persists the
// conversation, and coordinates any sub-agents spawned along the way.
//
// # Basic Usage
//
// Run a single turn:
//
//	penguin run --config penguin.yaml "summarize this repository"
//
// Run a bounded task to completion:
//
//	penguin task --max-iterations 20 "migrate the config loader to yaml.v3"
//
// Keep the runtime resident, streaming engine events to stdout:
//
//	penguin serve --config penguin.yaml
//
// # Environment Variables
//
//   - PENGUIN_CONFIG: path to the configuration file (default: penguin.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: model gateway credentials
//   - AWS_REGION (+ standard AWS credential chain): Bedrock gateway
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "penguin",
		Short: "Penguin - autonomous coding-agent runtime core",
		Long: `Penguin drives the reason-act-observe loop for one or more agents:
parsing model output into actions, executing tools, persisting the
conversation, and routing messages between cooperating agents.

Model gateways: Anthropic (Claude), OpenAI (GPT), AWS Bedrock`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildTaskCmd(),
		buildServeCmd(),
	)

	return rootCmd
}

func defaultConfigPath() string {
	if path := os.Getenv("PENGUIN_CONFIG"); path != "" {
		return path
	}
	return "penguin.yaml"
}
