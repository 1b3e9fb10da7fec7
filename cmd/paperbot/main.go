// Command paperbot is the backend entry point for the paper-trading bot. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/paperbot/internal/app"
	"github.com/alanyoungcy/paperbot/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "paperbot",
		Short:         "Paper-trading ledger and automated signal trader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newResetCmd(&configPath),
		newSnapshotCmd(&configPath),
		newMetricsCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot in the configured mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath, mode)
			if err != nil {
				return err
			}

			logger.Info("paperbot starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", *configPath),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				// context.Canceled is expected on clean shutdown.
				if !errors.Is(err, context.Canceled) {
					logger.Error("application exited with error", slog.String("error", err.Error()))
					return err
				}
				logger.Info("application shut down gracefully")
			}

			logger.Info("paperbot stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override the configured mode (full, server, feed, archive)")
	return cmd
}

func newResetCmd(configPath *string) *cobra.Command {
	var capital string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe the stored portfolio and fund it with fresh capital",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath, "")
			if err != nil {
				return err
			}
			amount := cfg.Portfolio.InitialCapital
			if capital != "" {
				if amount, err = decimal.NewFromString(capital); err != nil {
					return fmt.Errorf("invalid --capital %q: %w", capital, err)
				}
			}

			application := app.New(cfg, logger)
			defer application.Close()
			core, err := application.Open(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := core.Portfolio.Reset(cmd.Context(), amount); err != nil {
				return err
			}
			snap, err := core.Portfolio.Save(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
	cmd.Flags().StringVar(&capital, "capital", "", "starting capital (defaults to portfolio.initial_capital)")
	return cmd
}

func newSnapshotCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the stored portfolio snapshot as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath, "")
			if err != nil {
				return err
			}
			application := app.New(cfg, logger)
			defer application.Close()
			core, err := application.Open(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, core.Portfolio.Snapshot())
		},
	}
}

func newMetricsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Compute performance metrics for the stored portfolio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath, "")
			if err != nil {
				return err
			}
			application := app.New(cfg, logger)
			defer application.Close()
			core, err := application.Open(cmd.Context())
			if err != nil {
				return err
			}
			m, err := core.Portfolio.Metrics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		},
	}
}

// setup loads and validates configuration and installs the JSON logger at
// the configured level. CLI commands log to stderr so stdout stays parseable.
func setup(path, mode string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if mode != "" {
		cfg.Mode = mode
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, err
	}
	return cfg, logger, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
