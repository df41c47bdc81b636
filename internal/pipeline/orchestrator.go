package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one scheduled task.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Orchestrator runs every job on its own cron loop. Schedules are read in
// loc, the exchange clock.
type Orchestrator struct {
	jobs   []Job
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
	after  func(d time.Duration) <-chan time.Time
}

// NewOrchestrator creates an Orchestrator. A nil loc means UTC.
func NewOrchestrator(jobs []Job, loc *time.Location, logger *slog.Logger) *Orchestrator {
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{
		jobs:   jobs,
		loc:    loc,
		logger: logger.With(slog.String("component", "scheduler")),
		now:    time.Now,
		after:  time.After,
	}
}

// Validate parses every job's schedule.
func (o *Orchestrator) Validate() error {
	var errs []error
	for _, j := range o.jobs {
		if _, err := ParseCron(j.Cron); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", j.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts every job loop and blocks until ctx is cancelled. A failing run
// is logged and the job waits for its next firing; only a bad schedule stops
// the orchestrator.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	o.logger.Info("scheduler: starting", slog.Int("jobs", len(o.jobs)), slog.String("tz", o.loc.String()))

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range o.jobs {
		g.Go(func() error {
			err := o.runCron(ctx, j)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: job %s: %w", j.Name, err)
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Error("scheduler: stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("scheduler: stopped")
	return nil
}

func (o *Orchestrator) runCron(ctx context.Context, j Job) error {
	sched, err := ParseCron(j.Cron)
	if err != nil {
		return err
	}
	log := o.logger.With(slog.String("job", j.Name))
	for {
		now := o.now().In(o.loc)
		next, err := sched.Next(now)
		if err != nil {
			return err
		}
		wait := next.Sub(now)
		log.Info("scheduler: waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.after(wait):
		}

		start := o.now()
		if err := j.Run(ctx); err != nil {
			log.Error("scheduler: run failed", slog.String("error", err.Error()))
			continue
		}
		log.Info("scheduler: run complete", slog.Duration("took", o.now().Sub(start)))
	}
}
