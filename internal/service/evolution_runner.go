package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/evolution"
	"github.com/wesso80/marketscannerpros-sub008/internal/metrics"
	"github.com/wesso80/marketscannerpros-sub008/internal/notify"
)

// ParameterRegistry is the in-process store of live parameter sets.
type ParameterRegistry interface {
	ParameterSource
	Publish(p domain.ParameterSet) bool
}

// EvolutionDeps are the collaborators of the EvolutionRunner. Cache, Locks,
// Archiver, Events, Notifier and Metrics may be nil.
type EvolutionDeps struct {
	Trades   domain.TradeRecordStore
	Store    domain.EvolutionStore
	Registry ParameterRegistry
	Cache    domain.ParameterCache
	Locks    domain.LockManager
	Archiver domain.Archiver
	Events   *Emitter
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// EvolutionSettings configures the runner.
type EvolutionSettings struct {
	// Groups limits runs to these symbol groups. Empty means every group
	// with closed trades.
	Groups       []string
	Parallelism  int
	GroupTimeout time.Duration
	LockTTL      time.Duration
	MaxSamples   int
	PageSize     int
	Calibration  evolution.Config

	// RefreshInterval is how often Watch pulls parameter sets published by
	// other processes from the cache. Zero disables the pull.
	RefreshInterval time.Duration
}

// GroupResult is the outcome of one group in a run.
type GroupResult struct {
	Group string                       `json:"group"`
	Cycle *domain.EvolutionCycleOutput `json:"cycle,omitempty"`
	Error string                       `json:"error,omitempty"`
}

// RunReport summarises a multi-group run.
type RunReport struct {
	Cadence     domain.Cadence `json:"cadence"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Results     []GroupResult  `json:"results"`
	ArchivePath string         `json:"archive_path,omitempty"`
}

// Failed returns the number of groups that errored.
func (r RunReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Error != "" {
			n++
		}
	}
	return n
}

// EvolutionRunner schedules calibration cycles across symbol groups. At most
// one cycle per group runs at a time, in-process and across processes, and a
// cycle's output is appended before its parameters are published.
type EvolutionRunner struct {
	deps     EvolutionDeps
	settings EvolutionSettings
	flight   singleflight.Group
	gates    sync.Map // group -> chan struct{}, one cycle per group at a time
	logger   *slog.Logger
	now      func() time.Time
}

// NewEvolutionRunner creates an EvolutionRunner.
func NewEvolutionRunner(deps EvolutionDeps, settings EvolutionSettings, logger *slog.Logger) *EvolutionRunner {
	if settings.Parallelism <= 0 {
		settings.Parallelism = 4
	}
	if settings.MaxSamples <= 0 {
		settings.MaxSamples = 1000
	}
	if settings.PageSize <= 0 || settings.PageSize > settings.MaxSamples {
		settings.PageSize = settings.MaxSamples
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 5 * time.Minute
	}
	return &EvolutionRunner{
		deps:     deps,
		settings: settings,
		logger:   logger.With(slog.String("component", "evolution_runner")),
		now:      time.Now,
	}
}

// Run executes one cycle of the given cadence for every configured group.
// Group failures are isolated and reported; the returned error is non-nil
// only when the group list itself cannot be read.
func (r *EvolutionRunner) Run(ctx context.Context, cadence domain.Cadence) (RunReport, error) {
	if _, err := domain.ParseCadence(string(cadence)); err != nil {
		return RunReport{}, domain.Invalid("cadence", "unknown cadence %q", cadence)
	}
	groups, err := r.groups(ctx)
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{
		Cadence:   cadence,
		StartedAt: r.now().UTC(),
		Results:   make([]GroupResult, len(groups)),
	}

	// Groups never cancel each other, so the group context is not used.
	var g errgroup.Group
	g.SetLimit(r.settings.Parallelism)
	for i, group := range groups {
		g.Go(func() error {
			res := GroupResult{Group: group}
			out, err := r.RunGroup(ctx, group, cadence)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Cycle = &out
			}
			report.Results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = r.now().UTC()
	report.ArchivePath = r.archive(ctx, report)

	r.logger.InfoContext(ctx, "evolution_runner: run complete",
		slog.String("cadence", string(cadence)),
		slog.Int("groups", len(groups)),
		slog.Int("failed", report.Failed()),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// RunGroup executes one cycle for a single group. Concurrent calls for the
// same group and cadence share a single execution; different cadences of one
// group run one after the other.
func (r *EvolutionRunner) RunGroup(ctx context.Context, group string, cadence domain.Cadence) (domain.EvolutionCycleOutput, error) {
	if group == "" {
		return domain.EvolutionCycleOutput{}, domain.Invalid("symbol_group", "must not be empty")
	}
	v, err, _ := r.flight.Do(group+":"+string(cadence), func() (any, error) {
		release, err := r.enter(ctx, group)
		if err != nil {
			return domain.EvolutionCycleOutput{}, fmt.Errorf("evolution_runner: %s: wait for running cycle: %w", group, err)
		}
		defer release()
		return r.runGroup(ctx, group, cadence)
	})
	if err != nil {
		r.deps.Metrics.CycleFailed(group, cadence)
		r.logger.ErrorContext(ctx, "evolution_runner: cycle failed",
			slog.String("group", group),
			slog.String("cadence", string(cadence)),
			slog.String("error", err.Error()),
		)
		return domain.EvolutionCycleOutput{}, err
	}
	return v.(domain.EvolutionCycleOutput), nil
}

// enter blocks until no other cycle of group is running in this process.
// The Redis lock in runGroup covers other processes.
func (r *EvolutionRunner) enter(ctx context.Context, group string) (func(), error) {
	v, _ := r.gates.LoadOrStore(group, make(chan struct{}, 1))
	gate := v.(chan struct{})
	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *EvolutionRunner) runGroup(ctx context.Context, group string, cadence domain.Cadence) (domain.EvolutionCycleOutput, error) {
	if r.settings.GroupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.GroupTimeout)
		defer cancel()
	}

	if r.deps.Locks != nil {
		unlock, err := r.deps.Locks.Acquire(ctx, "evolution:"+group, r.settings.LockTTL)
		if err != nil {
			return domain.EvolutionCycleOutput{}, fmt.Errorf("evolution_runner: %s: %w", group, err)
		}
		defer unlock()
	}

	samples, err := r.loadSamples(ctx, group)
	if err != nil {
		return domain.EvolutionCycleOutput{}, err
	}
	prior, priorID, err := r.prior(ctx, group)
	if err != nil {
		return domain.EvolutionCycleOutput{}, err
	}

	out, err := evolution.RunCycle(evolution.Input{
		ID:          uuid.NewString(),
		SymbolGroup: group,
		Cadence:     cadence,
		Samples:     samples,
		Prior:       prior,
		PriorID:     priorID,
		Config:      r.settings.Calibration,
		AsOf:        r.now().UTC(),
	})
	if err != nil {
		return domain.EvolutionCycleOutput{}, fmt.Errorf("evolution_runner: %s: %w", group, err)
	}

	// A cycle that ran past its deadline is dropped before anything is
	// written; the previous parameter set stays live.
	if err := ctx.Err(); err != nil {
		return domain.EvolutionCycleOutput{}, fmt.Errorf("evolution_runner: %s: abandoned: %w", group, err)
	}
	if err := r.deps.Store.Append(ctx, out); err != nil {
		return domain.EvolutionCycleOutput{}, fmt.Errorf("evolution_runner: %s: append output: %w", group, err)
	}
	if out.Applied {
		r.publish(ctx, out.Parameters)
	}

	r.deps.Metrics.Cycle(out)
	r.deps.Events.Emit(ctx, domain.ChannelCycles, "cycle", group, out)
	if err := r.deps.Notifier.EvolutionCycle(ctx, out); err != nil {
		r.logger.WarnContext(ctx, "evolution_runner: notify failed", slog.String("error", err.Error()))
	}
	r.logger.InfoContext(ctx, "evolution_runner: cycle complete",
		slog.String("group", group),
		slog.String("cadence", string(cadence)),
		slog.Int("samples", out.SampleCount),
		slog.Bool("applied", out.Applied),
		slog.Bool("skipped", out.Skipped),
		slog.Int("changes", len(out.Changes)),
		slog.Float64("confidence", out.Confidence),
	)
	return out, nil
}

// loadSamples pages through closed trades, newest first, up to MaxSamples.
func (r *EvolutionRunner) loadSamples(ctx context.Context, group string) ([]domain.EvolutionSample, error) {
	var out []domain.EvolutionSample
	for len(out) < r.settings.MaxSamples {
		limit := min(r.settings.PageSize, r.settings.MaxSamples-len(out))
		page, err := r.deps.Trades.ListClosed(ctx, group, domain.ListOpts{Limit: limit, Offset: len(out)})
		if err != nil {
			r.deps.Metrics.DataUnavailable("trade_records")
			return nil, fmt.Errorf("evolution_runner: %s: load samples: %w", group, errors.Join(domain.ErrDataUnavailable, err))
		}
		out = append(out, page...)
		if len(page) < limit {
			break
		}
	}
	return out, nil
}

// prior returns the latest applied parameter set of a group, or the defaults
// when the group has never been calibrated.
func (r *EvolutionRunner) prior(ctx context.Context, group string) (domain.ParameterSet, string, error) {
	latest, err := r.deps.Store.Latest(ctx, group)
	switch {
	case err == nil:
		return latest.Parameters, latest.ID, nil
	case errors.Is(err, domain.ErrNotFound):
		p, _ := r.deps.Registry.Get(group)
		return p, "", nil
	default:
		return domain.ParameterSet{}, "", fmt.Errorf("evolution_runner: %s: load prior: %w", group, err)
	}
}

func (r *EvolutionRunner) publish(ctx context.Context, p domain.ParameterSet) {
	if !r.deps.Registry.Publish(p) {
		r.logger.WarnContext(ctx, "evolution_runner: stale parameter set not published",
			slog.String("group", p.SymbolGroup),
			slog.Int64("version", p.Version),
		)
		return
	}
	if r.deps.Cache != nil {
		if err := r.deps.Cache.Set(ctx, p); err != nil {
			r.logger.WarnContext(ctx, "evolution_runner: mirror parameters failed",
				slog.String("group", p.SymbolGroup),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *EvolutionRunner) archive(ctx context.Context, report RunReport) string {
	if r.deps.Archiver == nil {
		return ""
	}
	var outputs []domain.EvolutionCycleOutput
	for _, res := range report.Results {
		if res.Cycle != nil {
			outputs = append(outputs, *res.Cycle)
		}
	}
	if len(outputs) == 0 {
		return ""
	}
	path, err := r.deps.Archiver.ArchiveCycles(ctx, outputs)
	if err != nil {
		r.logger.WarnContext(ctx, "evolution_runner: archive cycles failed", slog.String("error", err.Error()))
		return ""
	}
	return path
}

func (r *EvolutionRunner) groups(ctx context.Context) ([]string, error) {
	if len(r.settings.Groups) > 0 {
		return r.settings.Groups, nil
	}
	groups, err := r.deps.Trades.ListSymbolGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("evolution_runner: list groups: %w", err)
	}
	return groups, nil
}

// Hydrate publishes the latest applied parameter set of every group that has
// one. It is called once at start-up.
func (r *EvolutionRunner) Hydrate(ctx context.Context) (int, error) {
	groups, err := r.deps.Store.ListGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("evolution_runner: hydrate: %w", err)
	}
	var (
		mu     sync.Mutex
		loaded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.settings.Parallelism)
	for _, group := range groups {
		g.Go(func() error {
			out, err := r.deps.Store.Latest(gctx, group)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("evolution_runner: hydrate %s: %w", group, err)
			}
			r.publish(gctx, out.Parameters)
			mu.Lock()
			loaded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loaded, err
	}
	r.logger.InfoContext(ctx, "evolution_runner: parameters hydrated", slog.Int("groups", loaded))
	return loaded, nil
}

// Refresh pulls the mirrored parameter set of every known group from the
// cache and publishes those newer than the live one. It returns how many
// groups moved forward. Cache failures skip the group.
func (r *EvolutionRunner) Refresh(ctx context.Context) (int, error) {
	if r.deps.Cache == nil {
		return 0, nil
	}
	stored, err := r.deps.Store.ListGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("evolution_runner: refresh: %w", err)
	}
	seen := make(map[string]bool, len(stored))
	updated := 0
	for _, group := range append(stored, r.settings.Groups...) {
		if seen[group] {
			continue
		}
		seen[group] = true

		p, err := r.deps.Cache.Get(ctx, group)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.WarnContext(ctx, "evolution_runner: refresh failed",
				slog.String("group", group),
				slog.String("error", err.Error()),
			)
			continue
		}
		if cur, ok := r.deps.Registry.Get(group); ok && cur.Version >= p.Version {
			continue
		}
		if p.SymbolGroup != group || !r.deps.Registry.Publish(p) {
			continue
		}
		updated++
		r.logger.InfoContext(ctx, "evolution_runner: parameters refreshed",
			slog.String("group", group),
			slog.Int64("version", p.Version),
		)
	}
	return updated, nil
}

// Watch calls Refresh every RefreshInterval until ctx is done, so processes
// that do not calibrate serve the parameters published elsewhere.
func (r *EvolutionRunner) Watch(ctx context.Context) error {
	if r.deps.Cache == nil || r.settings.RefreshInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.settings.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.ErrorContext(ctx, "evolution_runner: refresh pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Latest returns the latest applied output of a group.
func (r *EvolutionRunner) Latest(ctx context.Context, group string) (domain.EvolutionCycleOutput, error) {
	out, err := r.deps.Store.Latest(ctx, group)
	if err != nil {
		return domain.EvolutionCycleOutput{}, fmt.Errorf("evolution_runner: latest %s: %w", group, err)
	}
	return out, nil
}

// History returns the stored outputs of a group, newest first.
func (r *EvolutionRunner) History(ctx context.Context, group string, opts domain.ListOpts) ([]domain.EvolutionCycleOutput, error) {
	out, err := r.deps.Store.History(ctx, group, opts)
	if err != nil {
		return nil, fmt.Errorf("evolution_runner: history %s: %w", group, err)
	}
	return out, nil
}

// Parameters returns the live parameter set of a group and whether it has
// been calibrated.
func (r *EvolutionRunner) Parameters(group string) (domain.ParameterSet, bool) {
	return r.deps.Registry.Get(group)
}
