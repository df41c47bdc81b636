// Command riskd is the trade-risk daemon. It loads configuration, wires
// dependencies and runs the permission, exit-monitor and evolution services
// in the selected mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesso80/marketscannerpros-sub008/internal/config"
)

type rootOptions struct {
	configPath string
	logger     *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "riskd",
		Short:         "Trade-risk governance and exit-evaluation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMode(cmd.Context(), opts, "")
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.toml", "path to configuration file (empty: defaults and env only)")

	cmd.AddCommand(
		newModeCmd(opts, "serve", "Serve the HTTP API"),
		newModeCmd(opts, "monitor", "Run the exit monitor over open positions"),
		newModeCmd(opts, "evolve", "Run scheduled evolution cycles and the archive job"),
		newModeCmd(opts, "full", "Run every component in one process"),
		newCalibrateCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// loadConfig loads and validates the configuration and installs the JSON
// logger at the configured level.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(opts.logger)
	return cfg, nil
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
