package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vertextoedge/segfetch/internal/config"
	"github.com/vertextoedge/segfetch/internal/logger"
	"github.com/vertextoedge/segfetch/internal/relay"
	"go.uber.org/zap"
)

func newRelayCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Native messaging host for browser extensions",
		Long: `Speak the browser native messaging protocol on stdin and stdout.

Download requests from the extension are forwarded to a running
"segfetch serve" through its control API. Logs go to stderr because
stdout carries the protocol frames.`,
		Args: cobra.ArbitraryArgs, // browsers pass the extension origin
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			if err := logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"}); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			zapLogger := logger.Component("relay")
			zapLogger.Debug("relay started", zap.String("server", cfg.Relay.ServerURL), zap.Strings("args", args))

			client := relay.NewClient(&relay.ClientConfig{
				ServerURL: cfg.Relay.ServerURL,
				Username:  cfg.HTTP.AdminUsername,
				Password:  cfg.HTTP.AdminPassword,
				Timeout:   cfg.Relay.GetTimeout(),
			})
			return relay.NewHost(client, zapLogger).Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}

	return cmd
}
