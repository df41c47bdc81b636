package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/config"
	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/service"
)

type recordingRunner struct {
	cadences []domain.Cadence
	report   service.RunReport
	err      error
}

func (r *recordingRunner) Run(ctx context.Context, c domain.Cadence) (service.RunReport, error) {
	r.cadences = append(r.cadences, c)
	return r.report, r.err
}

func TestScheduledJobsSkipEmptyCron(t *testing.T) {
	r := &recordingRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobs := scheduledJobs("15 21 * * 1-5", "", "0 23 1 * *", r, logger)
	require.Len(t, jobs, 2)
	assert.Equal(t, "evolution-DAILY", jobs[0].Name)
	assert.Equal(t, "evolution-MONTHLY", jobs[1].Name)

	require.NoError(t, jobs[0].Run(context.Background()))
	require.NoError(t, jobs[1].Run(context.Background()))
	assert.Equal(t, []domain.Cadence{domain.CadenceDaily, domain.CadenceMonthly}, r.cadences)
}

func TestScheduledJobFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Per-group failures are reported but do not fail the job.
	partial := &recordingRunner{report: service.RunReport{Results: []service.GroupResult{{Group: "fx", Error: "boom"}}}}
	jobs := scheduledJobs("0 22 * * 5", "", "", partial, logger)
	assert.NoError(t, jobs[0].Run(context.Background()))

	broken := &recordingRunner{err: errors.New("store down")}
	jobs = scheduledJobs("0 22 * * 5", "", "", broken, logger)
	assert.EqualError(t, jobs[0].Run(context.Background()), "store down")
}

func TestRiskPoliciesFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.AccountID = "acct-1"
	cfg.Risk.CorrelationGroups = map[string]string{" btc-usd": "crypto", "ETH-USD": "crypto"}
	cfg.Risk.LeverageCaps = map[domain.AssetClass]float64{domain.AssetCrypto: 3}

	p := riskPolicies(&cfg)
	assert.Equal(t, "acct-1", p.AccountID)
	assert.Equal(t, 30*time.Second, p.SnapshotTTL)
	assert.Equal(t, 120.0, p.Snapshot.StaleAfterSeconds)
	assert.Equal(t, 0.01, p.Snapshot.Caps.RiskPerTrade)
	assert.Equal(t, 5, p.Governor.MaxOpenTrades)
	assert.Equal(t, "crypto", p.Governor.CorrelationGroups["BTC-USD"])
	assert.Equal(t, "crypto", p.Governor.CorrelationGroups["ETH-USD"])
	assert.Equal(t, 3.0, p.Leverage.Caps[domain.AssetCrypto])
	assert.Equal(t, cfg.Risk.MinRR, p.ExitPlan.MinRR)
}

func TestServiceSettingsFromConfig(t *testing.T) {
	cfg := config.Defaults()

	ex := exitSettings(&cfg)
	assert.Equal(t, 30*time.Second, ex.Interval)
	assert.Equal(t, domain.DefaultAdaptivePolicy(), ex.DefaultPolicy)

	ev := evolutionSettings(&cfg)
	assert.Equal(t, 4, ev.Parallelism)
	assert.Equal(t, 1000, ev.MaxSamples)
	assert.Equal(t, 250, ev.PageSize)
	assert.Equal(t, 5*time.Minute, ev.LockTTL)
	assert.Equal(t, 30*time.Second, ev.RefreshInterval)
}
