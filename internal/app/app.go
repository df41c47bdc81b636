// Package app wires the risk daemon together: stores, caches, the event
// sinks and the three services, and runs them according to the configured
// mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/config"
	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run wires all dependencies, starts the goroutines of the configured mode
// and blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	svc, err := a.build(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "serve":
		return a.ServeMode(ctx, svc)
	case "monitor":
		return a.MonitorMode(ctx, svc)
	case "evolve":
		return a.EvolveMode(ctx, svc)
	case "full":
		return a.FullMode(ctx, svc)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// EvolveOnce runs a single evolution pass for cadence and returns its report.
// A non-empty group limits the pass to that group.
func (a *App) EvolveOnce(ctx context.Context, cadence domain.Cadence, group string) (service.RunReport, error) {
	svc, err := a.build(ctx)
	if err != nil {
		return service.RunReport{}, err
	}
	if group == "" {
		return svc.evolution.Run(ctx, cadence)
	}
	start := time.Now().UTC()
	out, err := svc.evolution.RunGroup(ctx, group, cadence)
	res := service.GroupResult{Group: group}
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Cycle = &out
	}
	return service.RunReport{
		Cadence:    cadence,
		StartedAt:  start,
		FinishedAt: time.Now().UTC(),
		Results:    []service.GroupResult{res},
	}, nil
}

func (a *App) build(ctx context.Context) (*services, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svc := a.newServices(deps)
	if _, err := svc.evolution.Hydrate(ctx); err != nil {
		// Groups that failed to load run on defaults until the next cycle.
		a.logger.WarnContext(ctx, "app: parameter hydration incomplete", slog.String("error", err.Error()))
	}
	return svc, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
