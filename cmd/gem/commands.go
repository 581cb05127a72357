package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router HTTP server",
		Long: `Serve the router API: /brain/run, /brain/tools, /brain/help, webhook
ingress, /health, and /metrics. The router plans and enqueues; workers
started with "gem work" execute.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $GEM_CONFIG or gem.yaml)")
	return cmd
}

func buildWorkCmd() *cobra.Command {
	var (
		configPath string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run a worker process",
		Long: `Claim queued invocations one at a time, execute their handlers with
idempotency and per-tool timeouts, and seal receipts. One process can run
several claim loops; processes scale horizontally against the same database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWork(cmd, configPath, workers)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $GEM_CONFIG or gem.yaml)")
	cmd.Flags().IntVar(&workers, "workers", 1, "Claim loops to run in this process")
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, configPath, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 = all)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, configPath, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gem %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalogue",
		RunE:  runTools,
	}
}

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		waitMS     int
	)

	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Run one brain request from the command line",
		Example: `  gem run "new lead: Maria Santos, 0412 345 678, Thornbury" --mode enqueue
  gem run "show lead <lead_id>" --mode enqueue_and_wait --wait-ms 15000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrainOnce(cmd, configPath, args[0], mode, waitMS)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&mode, "mode", "plan", "Brain mode: answer, plan, enqueue, enqueue_and_wait")
	cmd.Flags().IntVar(&waitMS, "wait-ms", 0, "Receipt wait budget for enqueue_and_wait")
	return cmd
}
