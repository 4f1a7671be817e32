package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrun/catalog/postgres"
	"github.com/hupe1980/agentrun/config"
)

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentrun HTTP server",
		Long: `Start the agentrun HTTP server.

Endpoints:
  POST   /v1/runs        start a run and stream it as Server-Sent Events
  DELETE /v1/runs/{id}   stop an in-flight run
  GET    /metrics        Prometheus metrics
  GET    /healthz        liveness check

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  agentrun serve

  # Start with custom config and debug logging
  agentrun serve --config /etc/agentrun/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildMigrateCmd creates the "migrate" command that creates the catalog tables.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL catalog tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is not configured")
			}
			store, err := postgres.Open(cmd.Context(), cfg.Database.DSN, postgresConfig(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "catalog schema is up to date")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

// buildCheckCmd creates the "check" command that validates a configuration file.
func buildCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (provider %s, %d agents, %d conversations)\n",
				cfg.Model.Provider, len(cfg.Agents), len(cfg.Conversations))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

// runServe wires the service from cfg and serves until ctx is done.
func runServe(ctx context.Context, cfg *config.Config) error {
	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close(context.WithoutCancel(ctx))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("server.start", "addr", cfg.Server.Addr, "provider", cfg.Model.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			svc.logger.ErrorWithStack(err, "server.failed", "addr", cfg.Server.Addr)
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	svc.logger.Info("server.shutdown", "timeout_ms", cfg.Server.ShutdownTimeout.Milliseconds())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
