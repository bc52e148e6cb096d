package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vertextoedge/segfetch/internal/adapter/sqlite"
	"github.com/vertextoedge/segfetch/internal/config"
	"github.com/vertextoedge/segfetch/internal/logger"
	"github.com/vertextoedge/segfetch/internal/service/maintenance"
	"github.com/vertextoedge/segfetch/internal/service/server"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var bindAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download daemon and its control API",
		Long: `Run segfetch as a long-lived daemon.

Unfinished downloads are restored from the database on startup and the
control API listens on http.bind_addr. Changes to bandwidth_limit and
max_concurrent in the configuration file are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			cfg, err := loader.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if bindAddr != "" {
				cfg.HTTP.BindAddr = bindAddr
			}

			if err := logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			return runServe(cmd.Context(), loader, cfg, *configPath)
		},
	}

	cmd.Flags().StringVar(&bindAddr, "bind", "", "Override http.bind_addr")

	return cmd
}

func runServe(parent context.Context, loader *config.Loader, cfg *config.Config, configPath string) error {
	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting segfetch",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}

	a := newApp(cfg, store, zapLogger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	restored, err := a.manager.Restore(ctx)
	if err != nil {
		zapLogger.Warn("some downloads could not be restored", zap.Error(err))
	}
	zapLogger.Info("restored downloads", zap.Int("count", restored))

	maintenanceService := maintenance.New(&maintenance.Config{
		AutosaveInterval: cfg.Maintenance.GetAutosaveInterval(),
		CleanupInterval:  cfg.Maintenance.GetCleanupInterval(),
		ScratchMaxAge:    cfg.Maintenance.GetScratchMaxAge(),
		ScratchDirs:      []string{cfg.Downloads.Dir},
	}, a.manager, a.fs, a.manager, logger.Component("maintenance"))

	httpServer := server.New(&server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}, a.manager, store, a.metrics, logger.Component("server"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	go func() {
		if err := maintenanceService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	current := cfg.Downloads
	loader.Watch(func(next *config.Config) {
		if next.Downloads.BandwidthLimit != current.BandwidthLimit {
			if err := a.manager.SetBandwidthLimit(ctx, next.Downloads.BandwidthLimit); err != nil {
				zapLogger.Error("failed to apply bandwidth limit", zap.Error(err))
			}
		}
		if next.Downloads.MaxConcurrent != current.MaxConcurrent {
			if err := a.manager.SetMaxConcurrent(ctx, next.Downloads.MaxConcurrent); err != nil {
				zapLogger.Error("failed to apply max concurrent", zap.Error(err))
			}
		}
		current = next.Downloads
		zapLogger.Info("configuration reloaded")
	}, func(err error) {
		zapLogger.Warn("ignoring invalid configuration change", zap.Error(err))
	})

	zapLogger.Info("segfetch started",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("download_dir", cfg.Downloads.Dir),
	)

	var runErr error
	select {
	case <-ctx.Done():
		zapLogger.Info("shutdown signal received, stopping services...")
	case runErr = <-serverErr:
		if runErr != nil {
			zapLogger.Error("HTTP server failed", zap.Error(runErr))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to stop HTTP server: %w", err))
	}
	maintenanceService.Stop()
	if err := a.close(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to save state: %w", err))
	}
	if err := store.Close(); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to close database: %w", err))
	}

	if runErr != nil {
		return runErr
	}
	zapLogger.Info("segfetch stopped")
	return nil
}
