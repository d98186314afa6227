// Package main provides the CLI entry point for the praxis terminal AI
// assistant.
//
// Praxis runs an agentic conversation loop against an LLM provider
// (Anthropic, Bedrock, OpenAI) with local tool execution: shell commands,
// workspace file access and search, plus tools discovered from configured
// MCP servers. Mutating tools are gated behind a permission engine with
// persistent, project-scoped approvals.
//
// # Basic Usage
//
// Start an interactive session:
//
//	praxis chat
//
// Ask a single question:
//
//	praxis ask "what does cmd/praxis/main.go do?"
//
// Inspect stored conversations:
//
//	praxis sessions list
//	praxis sessions show <id>
//
// # Environment Variables
//
//   - PRAXIS_CONFIG: Path to the configuration file (default: ~/.praxis/config.yaml)
//   - PRAXIS_HOME: State directory (default: ~/.praxis)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "praxis",
		Short: "Praxis - terminal AI assistant",
		Long: `Praxis is an AI assistant for the terminal.

It drives an agentic conversation loop: the model reads your prompt, runs
local tools (shell, file access, search, MCP servers) behind a permission
gate, and folds the results back into the conversation until it can answer.

Documentation: https://github.com/haasonsaas/praxis`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
		// Errors are reported once by main.
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildAskCmd(),
		buildSessionsCmd(),
		buildApprovalsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "praxis %s\n  commit: %s\n  built:  %s\n", version, commit, date)
			return nil
		},
	}
}
