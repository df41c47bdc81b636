package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/wesso80/marketscannerpros-sub008/internal/app"
	"github.com/wesso80/marketscannerpros-sub008/internal/config"
	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

func newModeCmd(opts *rootOptions, mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMode(cmd.Context(), opts, mode)
		},
	}
}

// runMode runs the daemon until the context is cancelled. An empty mode keeps
// the configured one.
func runMode(ctx context.Context, opts *rootOptions, mode string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Mode = mode
	}
	logger := opts.logger
	logger.Info("riskd starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", opts.configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	if err := application.Run(ctx); err != nil && !isShutdown(err) {
		logger.Error("riskd exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("riskd stopped")
	return nil
}

func newCalibrateCmd(opts *rootOptions) *cobra.Command {
	var cadence, group string
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run one evolution pass now and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := domain.ParseCadence(cadence)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			application := app.New(cfg, opts.logger)
			defer application.Close()

			report, err := application.EvolveOnce(cmd.Context(), c, group)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if n := report.Failed(); n > 0 {
				return fmt.Errorf("calibrate: %d of %d groups failed", n, len(report.Results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cadence, "cadence", "daily", "cadence: intraday, daily, weekly or monthly")
	cmd.Flags().StringVar(&group, "group", "", "limit the pass to one symbol group")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := loadConfig(opts); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				out := config.RedactedConfig(cfg)
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(out)
			},
		},
	)
	return cmd
}
