// Package main is the gem CLI: the router server, the worker, migrations,
// and operator utilities, all over one shared Postgres store.
//
// Start the router:
//
//	gem serve --config gem.yaml
//
// Start a worker (run as many as you like):
//
//	gem work
//
// Manage the schema:
//
//	gem migrate up
//	gem migrate status
//
// Environment variables recognised: GEM_CONFIG, DATABASE_URL (required),
// PORT, POLL_INTERVAL_MS, ANTHROPIC_API_KEY, GHL_WEBHOOK_SECRET, and the
// comms provider secrets (SMS_PROVIDER_API_KEY, SMS_PROVIDER_FROM,
// EMAIL_PROVIDER_API_KEY, EMAIL_FROM_ADDRESS).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gem",
		Short: "GEM - registry-driven tool execution platform",
		Long: `GEM turns operator messages and webhook events into validated, queued tool
invocations, executes them with idempotency and per-tool timeouts, and seals
every outcome into an immutable receipt.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildWorkCmd(),
		buildMigrateCmd(),
		buildToolsCmd(),
		buildRunCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
