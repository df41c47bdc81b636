package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

func intentFor(class domain.AssetClass, entry, equity float64) domain.TradeIntent {
	return domain.TradeIntent{
		Symbol:        "TEST",
		AssetClass:    class,
		Direction:     domain.DirectionLong,
		EntryPrice:    entry,
		Confidence:    70,
		ATR:           domain.Observed(entry * 0.02),
		AccountEquity: domain.Observed(equity),
		Regime:        domain.RegimeTrendUp,
	}
}

func TestComputePositionSizeRiskBased(t *testing.T) {
	t.Parallel()

	sz, err := ComputePositionSize(intentFor(domain.AssetEquity, 100, 100_000), 97, SizingCaps{
		RiskPerTrade: 0.01, MaxPositionSize: 0.5, RemainingCapacityPct: 0.06, Leverage: 2,
	})
	require.NoError(t, err)

	// 1% of 100k = 1000 USD at 3 USD per share -> 333 shares.
	assert.Equal(t, 333.0, sz.Quantity)
	assert.InDelta(t, 999.0, sz.TotalRiskUSD, 1e-9)
	assert.InDelta(t, 33_300.0, sz.NotionalUSD, 1e-9)
	assert.InDelta(t, 16_650.0, sz.MarginUSD, 1e-9)
	assert.Equal(t, domain.CapNone, sz.CappedBy)
}

func TestComputePositionSizeNotionalCap(t *testing.T) {
	t.Parallel()

	// A very tight stop would size a huge position; the notional cap binds.
	sz, err := ComputePositionSize(intentFor(domain.AssetEquity, 100, 100_000), 99.9, SizingCaps{
		RiskPerTrade: 0.01, MaxPositionSize: 0.25, RemainingCapacityPct: 0.06,
	})
	require.NoError(t, err)
	assert.Equal(t, 250.0, sz.Quantity)
	assert.LessOrEqual(t, sz.NotionalUSD, 0.25*100_000+1e-6)
	assert.Equal(t, domain.CapNotional, sz.CappedBy)
	assert.InDelta(t, sz.Quantity*0.1, sz.TotalRiskUSD, 1e-6)
}

func TestComputePositionSizeCapacityCap(t *testing.T) {
	t.Parallel()

	sz, err := ComputePositionSize(intentFor(domain.AssetEquity, 100, 100_000), 98, SizingCaps{
		RiskPerTrade: 0.01, MaxPositionSize: 1, RemainingCapacityPct: 0.004,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CapCapacity, sz.CappedBy)
	assert.Equal(t, 200.0, sz.Quantity)
	assert.InDelta(t, 0.004, sz.RiskPct, 1e-12)
}

func TestComputePositionSizeBelowMinimumLot(t *testing.T) {
	t.Parallel()

	sz, err := ComputePositionSize(intentFor(domain.AssetEquity, 5000, 1000), 4000, SizingCaps{
		RiskPerTrade: 0.01, MaxPositionSize: 0.25, RemainingCapacityPct: 0.06,
	})
	require.NoError(t, err)
	assert.Zero(t, sz.Quantity)
	assert.Zero(t, sz.TotalRiskUSD)
	assert.Equal(t, domain.CapMinQuantity, sz.CappedBy)
}

func TestComputePositionSizeInvariants(t *testing.T) {
	t.Parallel()

	classes := []domain.AssetClass{domain.AssetEquity, domain.AssetCrypto, domain.AssetForex, domain.AssetFutures}
	entries := []float64{0.35, 1.0842, 27.5, 101.25, 4210, 63000}
	stopsPct := []float64{0.001, 0.005, 0.02, 0.08}
	equities := []float64{2_500, 50_000, 1_000_000}
	riskPcts := []float64{0.0025, 0.01, 0.02}

	for _, class := range classes {
		for _, entry := range entries {
			for _, sp := range stopsPct {
				for _, eq := range equities {
					for _, rp := range riskPcts {
						stop := entry * (1 - sp)
						caps := SizingCaps{RiskPerTrade: rp, MaxPositionSize: 0.25, RemainingCapacityPct: 0.05, Leverage: 3}
						sz, err := ComputePositionSize(intentFor(class, entry, eq), stop, caps)
						require.NoError(t, err)

						perUnit := math.Abs(entry - stop)
						assert.InDelta(t, sz.TotalRiskUSD, sz.Quantity*perUnit, 1e-6*math.Max(1, sz.TotalRiskUSD))
						assert.InDelta(t, sz.TotalRiskUSD, sz.RiskPct*eq, 1e-6*math.Max(1, sz.TotalRiskUSD))
						assert.LessOrEqual(t, sz.NotionalUSD, 0.25*eq*(1+1e-9))
						assert.LessOrEqual(t, sz.RiskPct, math.Min(rp, 0.05)+1e-12)
						assert.GreaterOrEqual(t, sz.Quantity, 0.0)
					}
				}
			}
		}
	}
}

func TestComputePositionSizeRejectsNonFinite(t *testing.T) {
	t.Parallel()

	caps := SizingCaps{RiskPerTrade: 0.01, MaxPositionSize: 0.25, RemainingCapacityPct: 0.06}
	tests := []struct {
		name   string
		intent domain.TradeIntent
		stop   float64
		caps   SizingCaps
	}{
		{"nan entry", intentFor(domain.AssetEquity, math.NaN(), 1000), 90, caps},
		{"inf stop", intentFor(domain.AssetEquity, 100, 1000), math.Inf(-1), caps},
		{"zero equity", intentFor(domain.AssetEquity, 100, 0), 90, caps},
		{"stop equals entry", intentFor(domain.AssetEquity, 100, 1000), 100, caps},
		{"nan risk", intentFor(domain.AssetEquity, 100, 1000), 90, SizingCaps{RiskPerTrade: math.NaN(), MaxPositionSize: 0.25}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputePositionSize(tc.intent, tc.stop, tc.caps)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
}

func TestComputeLeverage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    LeverageParams
		want float64
	}{
		{"equity calm trend", LeverageParams{domain.AssetEquity, domain.RegimeTrendUp, domain.RiskModeNormal, 100, 0.5}, 2},
		{"equity volatile", LeverageParams{domain.AssetEquity, domain.RegimeTrendUp, domain.RiskModeNormal, 100, 2}, 1},
		{"crypto moderate", LeverageParams{domain.AssetCrypto, domain.RegimeTrendUp, domain.RiskModeNormal, 100, 1}, 3},
		{"crypto expansion halves", LeverageParams{domain.AssetCrypto, domain.RegimeVolExpansion, domain.RiskModeNormal, 100, 1}, 1.5},
		{"forex capped", LeverageParams{domain.AssetForex, domain.RegimeTrendUp, domain.RiskModeNormal, 1, 0.001}, 10},
		{"throttled halves", LeverageParams{domain.AssetForex, domain.RegimeTrendUp, domain.RiskModeThrottled, 1, 0.01}, 2.5},
		{"locked is flat", LeverageParams{domain.AssetForex, domain.RegimeTrendUp, domain.RiskModeLocked, 1, 0.001}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ComputeLeverage(tc.p, DefaultLeveragePolicy())
			require.NoError(t, err)
			assert.InDelta(t, tc.want, res.Recommended, 1e-9)
			assert.GreaterOrEqual(t, res.Recommended, 1.0)
			assert.LessOrEqual(t, res.Recommended, res.MaxAllowed)
		})
	}

	_, err := ComputeLeverage(LeverageParams{AssetClass: domain.AssetEquity, Price: 100, ATR: math.NaN()}, DefaultLeveragePolicy())
	assert.True(t, domain.IsValidation(err))
}
