// Package main provides the CLI entry point for the agentrun service.
//
// # Basic Usage
//
// Start the server:
//
//	agentrun serve --config agentrun.yaml
//
// Create the catalog tables:
//
//	agentrun migrate --config agentrun.yaml
//
// Check a configuration file:
//
//	agentrun check --config agentrun.yaml
//
// # Environment Variables
//
// The configuration file may reference environment variables as ${VAR}:
//
//   - AGENTRUN_CONFIG: Path to configuration file (default: agentrun.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentrun",
		Short: "agentrun - tool-using conversational agent runtime",
		Long: `agentrun drives a conversational agent through model calls and tool
executions and streams the run to HTTP clients as Server-Sent Events.

Supported model providers: Anthropic, OpenAI`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildCheckCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv("AGENTRUN_CONFIG"); p != "" {
		return p
	}
	return "agentrun.yaml"
}
