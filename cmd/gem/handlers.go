package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gemhq/gem/internal/api"
	"github.com/gemhq/gem/internal/brain"
	"github.com/gemhq/gem/internal/config"
	"github.com/gemhq/gem/internal/engine"
	"github.com/gemhq/gem/internal/handlers"
	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

func loadConfig(path string) (*config.Config, *observability.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	return cfg, logger, nil
}

func openStore(cfg *config.Config) (*store.PostgresStore, error) {
	pool := store.DefaultPostgresConfig()
	pool.MaxOpenConns = cfg.Database.MaxConnections
	pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	st, err := store.NewPostgresStore(cfg.Database.URL, pool)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func buildPlanner(cfg *config.Config, logger *observability.Logger) brain.Planner {
	if cfg.Brain.AnthropicAPIKey == "" {
		return nil
	}
	planner, err := brain.NewAnthropicPlanner(cfg.Brain.AnthropicAPIKey, cfg.Brain.Model)
	if err != nil {
		logger.Warn(context.Background(), "planner disabled", "error", err)
		return nil
	}
	return planner
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	reg, err := registry.Load()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := observability.NewMetrics(nil)
	b := brain.New(st, reg, buildPlanner(cfg, logger), logger, metrics)
	server := api.NewServer(api.Config{
		Addr:           cfg.Server.Addr(),
		WebhookSecrets: cfg.Webhooks.Secrets,
	}, b, st, reg, logger, metrics)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	logger.Info(ctx, "router starting", "addr", cfg.Server.Addr(), "tools", len(reg.All()))
	return server.Start(ctx)
}

func runWork(cmd *cobra.Command, configPath string, workers int) error {
	if workers < 1 {
		workers = 1
	}

	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	reg, err := registry.Load()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	dispatcher := engine.NewDispatcher()
	err = handlers.Register(dispatcher, &handlers.Deps{
		Store:  st,
		Logger: logger,
		SMS: handlers.SMSConfig{
			APIKey: cfg.Providers.SMS.APIKey,
			From:   cfg.Providers.SMS.From,
		},
		Email: handlers.EmailConfig{
			APIKey:      cfg.Providers.Email.APIKey,
			FromAddress: cfg.Providers.Email.FromAddress,
		},
	})
	if err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}
	dispatcher.Seal()

	metrics := observability.NewMetrics(nil)
	eng := engine.New(st, reg, dispatcher, logger, metrics, engine.DefaultConfig())
	sweeper := engine.NewSweeper(st, reg, cfg.Worker.SweepInterval(), 0, logger, metrics)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	logger.Info(ctx, "worker starting",
		"workers", workers, "poll_interval", cfg.Worker.PollInterval().String())

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		worker := engine.NewWorker(eng, st, cfg.Worker.PollInterval(), logger, metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	wg.Wait()
	logger.Info(context.Background(), "worker stopped")
	return nil
}

func openMigrator(configPath string) (*store.Migrator, *store.PostgresStore, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := store.NewMigrator(st.DB())
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("init migrator: %w", err)
	}
	return migrator, st, nil
}

func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	migrator, st, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no pending migrations")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	migrator, st, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	reverted, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(reverted) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
		return nil
	}
	for _, id := range reverted {
		fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", id)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	migrator, st, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}
	for _, m := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied  %s  %s\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", m.ID)
	}
	return nil
}

func runTools(cmd *cobra.Command, args []string) error {
	reg, err := registry.Load()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	for _, tool := range reg.All() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %6dms  %s\n",
			tool.Name, tool.Idempotency.Mode, tool.TimeoutMS, tool.Description)
	}
	return nil
}

func runBrainOnce(cmd *cobra.Command, configPath, message, mode string, waitMS int) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	reg, err := registry.Load()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	b := brain.New(st, reg, buildPlanner(cfg, logger), logger, nil)
	resp, err := b.Run(cmd.Context(), &models.BrainRequest{
		Message: message,
		Mode:    models.BrainMode(mode),
		Limits:  models.BrainLimits{WaitTimeoutMS: waitMS},
	})
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
