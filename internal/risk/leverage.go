package risk

import (
	"fmt"
	"math"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// LeveragePolicy holds per-asset caps and volatility targets (ATR %).
type LeveragePolicy struct {
	Caps       map[domain.AssetClass]float64
	VolTargets map[domain.AssetClass]float64
}

var defaultLeverageCaps = map[domain.AssetClass]float64{
	domain.AssetEquity:  2,
	domain.AssetCrypto:  5,
	domain.AssetForex:   10,
	domain.AssetFutures: 5,
}

var defaultVolTargets = map[domain.AssetClass]float64{
	domain.AssetEquity:  2.0,
	domain.AssetCrypto:  3.0,
	domain.AssetForex:   5.0,
	domain.AssetFutures: 2.5,
}

// DefaultLeveragePolicy returns the built-in tables.
func DefaultLeveragePolicy() LeveragePolicy { return LeveragePolicy{} }

// LeverageParams are the inputs to ComputeLeverage.
type LeverageParams struct {
	AssetClass domain.AssetClass
	Regime     domain.Regime
	RiskMode   domain.RiskMode
	Price      float64
	ATR        float64
}

// ComputeLeverage recommends leverage from volatility, regime and risk mode.
// The result is always within [1, cap].
func ComputeLeverage(p LeverageParams, policy LeveragePolicy) (domain.LeverageResult, error) {
	if !domain.Finite(p.Price) || p.Price <= 0 {
		return domain.LeverageResult{}, domain.Invalid("price", "must be a positive finite number")
	}
	if !domain.Finite(p.ATR) || p.ATR <= 0 {
		return domain.LeverageResult{}, domain.Invalid("atr", "must be a positive finite number")
	}
	maxLev := lookupFloat(policy.Caps, defaultLeverageCaps, p.AssetClass, 1)
	target := lookupFloat(policy.VolTargets, defaultVolTargets, p.AssetClass, 2.0)

	res := domain.LeverageResult{
		MaxAllowed: maxLev,
		ATRPct:     p.ATR / p.Price * 100,
	}
	if p.RiskMode == domain.RiskModeLocked {
		res.Recommended = 1
		res.Reasons = append(res.Reasons, "risk mode LOCKED")
		return res, nil
	}

	raw := target / res.ATRPct
	res.Reasons = append(res.Reasons, fmt.Sprintf("vol target %.2f%% / atr %.2f%%", target, res.ATRPct))
	switch p.Regime {
	case domain.RegimeVolExpansion, domain.RegimeRiskOffStress:
		raw *= 0.5
		res.Reasons = append(res.Reasons, "regime "+string(p.Regime)+" halves leverage")
	case domain.RegimeRangeNeutral:
		raw *= 0.9
	}
	if p.RiskMode == domain.RiskModeThrottled {
		raw *= 0.5
		res.Reasons = append(res.Reasons, "risk mode THROTTLED halves leverage")
	}
	lev := math.Floor(math.Min(math.Max(raw, 1), maxLev)*10) / 10
	res.Recommended = math.Max(lev, 1)
	return res, nil
}
