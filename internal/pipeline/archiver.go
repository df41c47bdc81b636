// Package pipeline runs the daemon's scheduled jobs: the daily, weekly and
// monthly evolution cycles and the exit-verdict archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Archiver moves exit verdicts older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
		logger:       logger.With(slog.String("component", "archive-job")),
		now:          time.Now,
	}
}

// Run executes a single archive run.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.Info("archive-job: starting",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blobArchiver.ArchiveVerdicts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive verdicts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.Info("archive-job: complete", slog.Int64("verdicts_archived", n))
	return nil
}
