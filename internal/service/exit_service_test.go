package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/params"
)

var exitNow = time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)

type exitFixture struct {
	svc       *ExitService
	positions *fakePositions
	verdicts  *fakeVerdicts
	market    *fakeMarket
	registry  *params.Registry
	audit     *fakeAudit
	bus       *fakeBus
}

func openPosition(id string) domain.Position {
	return domain.Position{
		ID:               id,
		AccountID:        "acct-1",
		Symbol:           "SPY",
		SymbolGroup:      "us-index",
		AssetClass:       domain.AssetEquity,
		Direction:        domain.DirectionLong,
		StrategyTag:      domain.StrategyTrendPullback,
		EntryPrice:       100,
		StopPrice:        95,
		TargetPrices:     []float64{110},
		Quantity:         10,
		RiskUSD:          50,
		EdgeScoreAtEntry: 70,
		ExpectedWindow:   4 * time.Hour,
		Status:           domain.TradeOpen,
		OpenedAt:         exitNow.Add(-time.Hour),
	}
}

func newExitFixture(t *testing.T, positions ...domain.Position) *exitFixture {
	t.Helper()
	f := &exitFixture{
		positions: newFakePositions(positions...),
		verdicts:  &fakeVerdicts{},
		market:    &fakeMarket{quotes: map[string]domain.MarketQuote{}},
		registry:  params.NewRegistry(),
		audit:     &fakeAudit{},
		bus:       newFakeBus(),
	}
	f.svc = NewExitService(ExitDeps{
		Positions: f.positions,
		Verdicts:  f.verdicts,
		Market:    f.market,
		Regimes:   fakeRegimes{"SPY": {Symbol: "SPY", Regime: domain.RegimeTrendUp, EdgeScore: 70}},
		Params:    f.registry,
		Audit:     f.audit,
		Events:    NewEmitter(f.bus, nil, Topics{}, discardLogger()),
	}, ExitSettings{
		Interval:      time.Second,
		QuoteMaxAge:   time.Minute,
		DefaultPolicy: domain.DefaultAdaptivePolicy(),
	}, discardLogger())
	f.svc.now = func() time.Time { return exitNow }
	return f
}

func TestMonitorClosesAtObjective(t *testing.T) {
	t.Parallel()
	f := newExitFixture(t, openPosition("p1"))
	f.market.setPrice("SPY", 116, exitNow)

	n, err := f.svc.EvaluateOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := f.svc.LatestVerdict(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExitClose, v.Verdict.Action)
	assert.Equal(t, domain.ExitReasonObjectiveReached, v.Verdict.Reason)
	assert.InDelta(t, 3.2, v.UnrealizedR, 1e-9)

	pos, err := f.positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeClosed, pos.Status)
	require.NotNil(t, pos.ExitPrice)
	assert.Equal(t, 116.0, *pos.ExitPrice)
	assert.InDelta(t, 3.2, pos.MaxFavorableR, 1e-9)
	assert.Equal(t, 1, f.audit.count("exit_close"))
	assert.Equal(t, 1, f.bus.count(domain.ChannelVerdicts))
}

func TestMonitorClosesOnStopBreach(t *testing.T) {
	t.Parallel()
	f := newExitFixture(t, openPosition("p1"))
	f.market.setPrice("SPY", 94.5, exitNow)

	sv, err := f.svc.EvaluatePosition(context.Background(), openPosition("p1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExitClose, sv.Verdict.Action)
	assert.Equal(t, domain.ExitReasonStructuralFailure, sv.Verdict.Reason)
	assert.Less(t, sv.UnrealizedR, -1.0)
}

func TestMonitorHoldsIntactTrade(t *testing.T) {
	t.Parallel()
	f := newExitFixture(t, openPosition("p1"))
	f.market.setPrice("SPY", 101, exitNow)

	sv, err := f.svc.EvaluatePosition(context.Background(), openPosition("p1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExitHold, sv.Verdict.Action)
	assert.Equal(t, domain.ExitReasonThesisIntact, sv.Verdict.Reason)
	assert.InDelta(t, 25.0, sv.Verdict.TimeElapsedPct, 1e-9)

	open, err := f.positions.GetOpen(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Zero(t, f.audit.count("exit_close"))
}

func TestMonitorSkipsStaleAndMissingQuotes(t *testing.T) {
	t.Parallel()
	stale := openPosition("p1")
	missing := openPosition("p2")
	missing.Symbol = "QQQ"
	missing.OpenedAt = stale.OpenedAt.Add(time.Minute)
	f := newExitFixture(t, stale, missing)
	f.market.setPrice("SPY", 120, exitNow.Add(-5*time.Minute))

	n, err := f.svc.EvaluateOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.verdicts.rows)

	_, err = f.svc.EvaluatePosition(context.Background(), stale)
	assert.ErrorIs(t, err, domain.ErrStaleData)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestMonitorUsesCalibratedPolicy(t *testing.T) {
	t.Parallel()
	f := newExitFixture(t, openPosition("p1"))
	p := domain.DefaultParameterSet("us-index")
	p.Version = 1
	p.ExitPolicy.CloseAtR = 5
	require.True(t, f.registry.Publish(p))
	f.market.setPrice("SPY", 116, exitNow)

	sv, err := f.svc.EvaluatePosition(context.Background(), openPosition("p1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExitTrail, sv.Verdict.Action)
}

func TestOpenPositionValidates(t *testing.T) {
	t.Parallel()
	f := newExitFixture(t)
	ctx := context.Background()

	req := OpenPositionRequest{
		AccountID:             "acct-1",
		Symbol:                "SPY",
		Direction:             domain.DirectionShort,
		EntryPrice:            100,
		StopPrice:             99,
		Quantity:              5,
		ExpectedWindowMinutes: 90,
	}
	_, err := f.svc.OpenPosition(ctx, req)
	assert.True(t, domain.IsValidation(err))

	req.StopPrice = 102
	pos, err := f.svc.OpenPosition(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.AssetEquity, pos.AssetClass)
	assert.Equal(t, 90*time.Minute, pos.ExpectedWindow)
	assert.InDelta(t, 10, pos.RiskUSD, 1e-9)

	stored, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeOpen, stored.Status)
}

func TestEvaluateFillsDefaultPolicy(t *testing.T) {
	t.Parallel()
	f := newExitFixture(t)

	v := f.svc.Evaluate(domain.TradeState{
		Status:           domain.TradeOpen,
		Direction:        domain.DirectionLong,
		EntryPrice:       100,
		StopPrice:        95,
		MarkPrice:        108,
		UnrealizedR:      1.6,
		TimeOpenMs:       60_000,
		ExpectedWindowMs: 3_600_000,
		EdgeScoreAtEntry: 70,
		EdgeScore:        68,
	})
	assert.Equal(t, domain.ExitTrail, v.Action)
	assert.Equal(t, domain.ExitReasonTrailActivated, v.Reason)
}

func TestTradeStateCarriesRiskPerUnit(t *testing.T) {
	t.Parallel()
	f := newExitFixture(t)
	pos := openPosition("p1")

	st := f.svc.tradeState(context.Background(), pos, 107.5, exitNow)
	assert.Equal(t, 5.0, st.RiskR)
	assert.InDelta(t, 1.5, st.UnrealizedR, 1e-9)
	assert.Equal(t, domain.RegimeTrendUp, st.Regime)

	short := pos
	short.Direction = domain.DirectionShort
	short.StopPrice = 104
	st = f.svc.tradeState(context.Background(), short, 98, exitNow)
	assert.Equal(t, 4.0, st.RiskR)
	assert.InDelta(t, 0.5, st.UnrealizedR, 1e-9)
}
