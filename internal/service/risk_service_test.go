package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/params"
	"github.com/wesso80/marketscannerpros-sub008/internal/risk"
	"github.com/wesso80/marketscannerpros-sub008/internal/session"
)

// Tuesday 11:00 New York.
var riskNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type riskFixture struct {
	svc       *RiskService
	accounts  *fakeAccounts
	market    *fakeMarket
	regimes   fakeRegimes
	snapshots *fakeSnapshots
	audit     *fakeAudit
	bus       *fakeBus
}

func newRiskFixture(t *testing.T) *riskFixture {
	t.Helper()
	sessions, err := session.NewModel("America/New_York")
	require.NoError(t, err)

	f := &riskFixture{
		accounts: &fakeAccounts{state: domain.AccountState{Enabled: true, Equity: domain.Observed(100_000)}},
		market: &fakeMarket{
			quotes: map[string]domain.MarketQuote{
				"BTC-USD": {Symbol: "BTC-USD", AssetClass: domain.AssetCrypto, Price: 60_000, ATR: domain.Observed(1_200), AsOf: riskNow},
				"ETH-USD": {Symbol: "ETH-USD", AssetClass: domain.AssetCrypto, Price: 3_000, AsOf: riskNow},
			},
			health: domain.ProviderHealth{Status: domain.DataHealthOK, LastSeen: riskNow.Add(-5 * time.Second)},
		},
		regimes: fakeRegimes{
			"BTC-USD": {Symbol: "BTC-USD", Regime: domain.RegimeTrendUp, EdgeScore: 70},
		},
		snapshots: newFakeSnapshots(),
		audit:     &fakeAudit{},
		bus:       newFakeBus(),
	}
	f.svc = NewRiskService(RiskDeps{
		Accounts:  f.accounts,
		Market:    f.market,
		Regimes:   f.regimes,
		Snapshots: f.snapshots,
		Params:    params.NewRegistry(),
		Sessions:  sessions,
		Audit:     f.audit,
		Events:    NewEmitter(f.bus, nil, Topics{}, discardLogger()),
	}, RiskPolicies{
		Enabled:     true,
		AccountID:   "acct-1",
		SnapshotTTL: 30 * time.Second,
		Snapshot:    risk.DefaultSnapshotPolicy(),
		Governor:    risk.DefaultGovernorPolicy(),
		ExitPlan:    risk.DefaultExitPlanPolicy(),
		Leverage:    risk.DefaultLeveragePolicy(),
	}, discardLogger())
	f.svc.now = func() time.Time { return riskNow }
	return f
}

func btcIntent() domain.TradeIntent {
	return domain.TradeIntent{
		Symbol:      "BTC-USD",
		SymbolGroup: "crypto-majors",
		AssetClass:  domain.AssetCrypto,
		Direction:   domain.DirectionLong,
		StrategyTag: domain.StrategyTrendPullback,
		Confidence:  70,
		EntryPrice:  60_000,
	}
}

func TestEvaluateCandidateFillsInputsAndSizes(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)

	res, err := f.svc.EvaluateCandidate(context.Background(), CandidateRequest{Intent: btcIntent()})
	require.NoError(t, err)

	assert.True(t, res.Decision.Allowed, res.Decision.ReasonCodes)
	assert.Equal(t, domain.ReasonAllowed, res.Decision.PrimaryReason())
	assert.Equal(t, domain.RiskModeNormal, res.Snapshot.RiskMode)
	assert.Equal(t, domain.RegimeTrendUp, res.Snapshot.Regime)
	require.NotNil(t, res.Plan)
	assert.Less(t, res.Plan.StopPrice, 60_000.0)
	require.NotNil(t, res.Leverage)
	assert.GreaterOrEqual(t, res.Leverage.Recommended, 1.0)
	require.NotNil(t, res.Sizing)
	assert.Greater(t, res.Sizing.Quantity, 0.0)
	assert.LessOrEqual(t, res.Sizing.RiskPct, res.Decision.RiskPerTrade+1e-9)

	assert.Equal(t, 1, f.bus.count(domain.ChannelDecisions))
	assert.Zero(t, f.audit.count("governor_block"))
}

func TestEvaluateCandidateReusesCachedSnapshot(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)
	ctx := context.Background()

	_, err := f.svc.EvaluateCandidate(ctx, CandidateRequest{Intent: btcIntent()})
	require.NoError(t, err)
	_, err = f.svc.EvaluateCandidate(ctx, CandidateRequest{Intent: btcIntent()})
	require.NoError(t, err)

	assert.Equal(t, 1, f.snapshots.sets)
	assert.Equal(t, 1, f.bus.count(domain.ChannelSnapshots))
	assert.Equal(t, 2, f.bus.count(domain.ChannelDecisions))
}

func TestEvaluateCandidateBlocksWithoutVolatility(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)

	intent := btcIntent()
	intent.Symbol = "ETH-USD"
	intent.EntryPrice = 3_000
	res, err := f.svc.EvaluateCandidate(context.Background(), CandidateRequest{Intent: intent})
	require.NoError(t, err)

	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, domain.ReasonInvalidInput, res.Decision.PrimaryReason())
	assert.Nil(t, res.Sizing)
	assert.Equal(t, 1, f.audit.count("governor_block"))
}

func TestEvaluateCandidateTakesHigherEventRisk(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)
	r := f.regimes["BTC-USD"]
	r.EventRisk = domain.EventRiskHigh
	f.regimes["BTC-USD"] = r

	res, err := f.svc.EvaluateCandidate(context.Background(), CandidateRequest{Intent: btcIntent()})
	require.NoError(t, err)
	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, domain.ReasonEventRisk, res.Decision.PrimaryReason())
}

func TestProviderOutageLocksOnce(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)
	f.market.healthErr = errors.New("connection refused")
	ctx := context.Background()
	req := SnapshotRequest{AssetClass: domain.AssetCrypto, Symbol: "BTC-USD"}

	snap, err := f.svc.BuildSnapshot(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskModeLocked, snap.RiskMode)
	assert.Zero(t, snap.Caps.RiskPerTrade)
	assert.Contains(t, snap.Reasons, "data provider DOWN")

	_, err = f.svc.BuildSnapshot(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.audit.count("snapshot_locked"))

	res, err := f.svc.EvaluateCandidate(ctx, CandidateRequest{Intent: btcIntent()})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRiskModeLocked, res.Decision.PrimaryReason())
}

func TestAccountStateFailureIsDataUnavailable(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)
	f.accounts.err = errors.New("pool closed")

	_, err := f.svc.BuildSnapshot(context.Background(), SnapshotRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))

	_, err = f.svc.EvaluateCandidate(context.Background(), CandidateRequest{Intent: btcIntent()})
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
}

func TestBuildExitPlanReadsATR(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)
	ctx := context.Background()

	plan, err := f.svc.BuildExitPlan(ctx, ExitPlanRequest{
		Symbol:      "BTC-USD",
		AssetClass:  domain.AssetCrypto,
		Direction:   domain.DirectionShort,
		EntryPrice:  60_000,
		StrategyTag: domain.StrategyTrendPullback,
	})
	require.NoError(t, err)
	assert.Greater(t, plan.StopPrice, 60_000.0)
	assert.Less(t, plan.TakeProfit1, 60_000.0)

	_, err = f.svc.BuildExitPlan(ctx, ExitPlanRequest{
		Symbol:     "ETH-USD",
		AssetClass: domain.AssetCrypto,
		Direction:  domain.DirectionLong,
		EntryPrice: 3_000,
	})
	assert.ErrorIs(t, err, domain.ErrNoVolatilityData)
}

func TestLeverageFillsFromQuote(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)

	res, err := f.svc.Leverage(context.Background(), LeverageRequest{
		Symbol:     "BTC-USD",
		AssetClass: domain.AssetCrypto,
		Regime:     domain.RegimeTrendUp,
		RiskMode:   domain.RiskModeNormal,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.ATRPct, 1e-9)
	assert.GreaterOrEqual(t, res.Recommended, 1.0)
	assert.LessOrEqual(t, res.Recommended, res.MaxAllowed)
}

func TestSizeWithoutCapacityUsesRiskPerTrade(t *testing.T) {
	t.Parallel()
	f := newRiskFixture(t)

	res, err := f.svc.Size(SizeRequest{
		Intent: domain.TradeIntent{
			AssetClass:    domain.AssetEquity,
			EntryPrice:    100,
			AccountEquity: domain.Observed(100_000),
		},
		StopPrice:       98,
		RiskPerTrade:    0.01,
		MaxPositionSize: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.Quantity)
	assert.Equal(t, domain.CapNone, res.CappedBy)
	assert.InDelta(t, 1_000, res.TotalRiskUSD, 1e-9)
}
