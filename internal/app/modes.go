package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/pipeline"
	"github.com/wesso80/marketscannerpros-sub008/internal/server"
	"github.com/wesso80/marketscannerpros-sub008/internal/server/handler"
	"github.com/wesso80/marketscannerpros-sub008/internal/server/ws"
	"github.com/wesso80/marketscannerpros-sub008/internal/service"
)

// services holds the constructed service layer.
type services struct {
	deps      *Dependencies
	risk      *service.RiskService
	exits     *service.ExitService
	evolution *service.EvolutionRunner
}

func (a *App) newServices(deps *Dependencies) *services {
	events := service.NewEmitter(deps.SignalBus, deps.Publisher, service.Topics{
		Decisions: a.cfg.Kafka.DecisionTopic,
		Verdicts:  a.cfg.Kafka.VerdictTopic,
		Cycles:    a.cfg.Kafka.CycleTopic,
	}, a.logger)

	return &services{
		deps: deps,
		risk: service.NewRiskService(service.RiskDeps{
			Accounts:  deps.AccountStore,
			Market:    deps.Quotes,
			Regimes:   deps.Regimes,
			Snapshots: deps.Snapshots,
			Params:    deps.Registry,
			Sessions:  deps.Sessions,
			Audit:     deps.AuditStore,
			Events:    events,
			Notifier:  deps.Notifier,
			Metrics:   deps.Metrics,
		}, riskPolicies(a.cfg), a.logger),
		exits: service.NewExitService(service.ExitDeps{
			Positions: deps.PositionStore,
			Verdicts:  deps.VerdictStore,
			Market:    deps.Quotes,
			Regimes:   deps.Regimes,
			Params:    deps.Registry,
			Audit:     deps.AuditStore,
			Events:    events,
			Notifier:  deps.Notifier,
			Metrics:   deps.Metrics,
		}, exitSettings(a.cfg), a.logger),
		evolution: service.NewEvolutionRunner(service.EvolutionDeps{
			Trades:   deps.TradeStore,
			Store:    deps.EvolutionStore,
			Registry: deps.Registry,
			Cache:    deps.ParamCache,
			Locks:    deps.LockManager,
			Archiver: deps.Archiver,
			Events:   events,
			Notifier: deps.Notifier,
			Metrics:  deps.Metrics,
		}, evolutionSettings(a.cfg), a.logger),
	}
}

// ServeMode runs the HTTP API only. Evolution runs happen on request;
// parameter sets calibrated by an evolve process are pulled from Redis.
func (a *App) ServeMode(ctx context.Context, svc *services) error {
	a.logger.InfoContext(ctx, "app: starting serve mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.evolution.Watch(ctx) })
	a.startHTTPServer(ctx, g, svc)
	return g.Wait()
}

// MonitorMode runs the exit monitor and the parameter pull, plus the HTTP API
// when enabled.
func (a *App) MonitorMode(ctx context.Context, svc *services) error {
	a.logger.InfoContext(ctx, "app: starting monitor mode",
		slog.Duration("interval", a.cfg.Exit.MonitorInterval.Duration),
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.exits.Run(ctx) })
	g.Go(func() error { return svc.evolution.Watch(ctx) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, svc)
	}
	return g.Wait()
}

// EvolveMode runs the scheduled evolution cycles and the archive job, plus
// the HTTP API when enabled.
func (a *App) EvolveMode(ctx context.Context, svc *services) error {
	a.logger.InfoContext(ctx, "app: starting evolve mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startScheduler(ctx, g, svc)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, svc)
	}
	return g.Wait()
}

// FullMode runs everything in one process.
func (a *App) FullMode(ctx context.Context, svc *services) error {
	a.logger.InfoContext(ctx, "app: starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.exits.Run(ctx) })
	a.startScheduler(ctx, g, svc)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, svc)
	}
	return g.Wait()
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, svc *services) {
	jobs := scheduledJobs(a.cfg.Evolution.DailyCron, a.cfg.Evolution.WeeklyCron, a.cfg.Evolution.MonthlyCron, svc.evolution, a.logger)
	if a.cfg.Pipeline.Enabled && svc.deps.Archiver != nil {
		archiver := pipeline.NewArchiver(svc.deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
		jobs = append(jobs, pipeline.Job{Name: "archive-verdicts", Cron: a.cfg.Pipeline.ArchiveCron, Run: archiver.Run})
	}
	if len(jobs) == 0 {
		a.logger.WarnContext(ctx, "app: no scheduled jobs configured")
		return
	}
	orch := pipeline.NewOrchestrator(jobs, svc.deps.Sessions.Location(), a.logger)
	g.Go(func() error { return orch.Run(ctx) })
}

// cadenceRunner is the part of the evolution runner the scheduler needs.
type cadenceRunner interface {
	Run(ctx context.Context, cadence domain.Cadence) (service.RunReport, error)
}

// scheduledJobs builds one job per configured cadence. An empty cron
// expression disables that cadence.
func scheduledJobs(daily, weekly, monthly string, runner cadenceRunner, logger *slog.Logger) []pipeline.Job {
	var jobs []pipeline.Job
	for _, c := range []struct {
		cron    string
		cadence domain.Cadence
	}{
		{daily, domain.CadenceDaily},
		{weekly, domain.CadenceWeekly},
		{monthly, domain.CadenceMonthly},
	} {
		if c.cron == "" {
			continue
		}
		cadence := c.cadence
		jobs = append(jobs, pipeline.Job{
			Name: "evolution-" + string(cadence),
			Cron: c.cron,
			Run: func(ctx context.Context) error {
				report, err := runner.Run(ctx, cadence)
				if err != nil {
					return err
				}
				if n := report.Failed(); n > 0 {
					logger.WarnContext(ctx, "app: evolution run had failing groups",
						slog.String("cadence", string(cadence)),
						slog.Int("failed", n),
						slog.Int("groups", len(report.Results)),
					)
				}
				return nil
			},
		})
	}
	return jobs
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, svc *services) {
	deps := svc.deps

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
		Status:    a.engineStatus(svc),
		Backlog:   20,
	})
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, a.startedAt, deps.HealthChecks, a.logger),
		Risk:      handler.NewRiskHandler(svc.risk, a.logger),
		Exit:      handler.NewExitHandler(svc.exits, a.logger),
		Evolution: handler.NewEvolutionHandler(svc.evolution, a.logger),
	}, hub, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) engineStatus(svc *services) ws.StatusFunc {
	return func(ctx context.Context) domain.EngineStatus {
		st := domain.EngineStatus{SymbolGroups: len(svc.deps.Registry.Groups())}
		if open, err := svc.deps.PositionStore.GetOpen(ctx); err == nil {
			st.OpenPositions = len(open)
		}
		return st
	}
}
