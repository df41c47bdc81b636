package risk

import (
	"math"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// SizingCaps bound the position computed by ComputePositionSize.
type SizingCaps struct {
	RiskPerTrade         float64
	MaxPositionSize      float64
	RemainingCapacityPct float64
	Leverage             float64
}

// CapsFromDecision builds sizing caps from an allowed governor decision.
func CapsFromDecision(d domain.GovernorDecision, leverage float64) SizingCaps {
	return SizingCaps{
		RiskPerTrade:         d.RiskPerTrade,
		MaxPositionSize:      d.MaxPositionSize,
		RemainingCapacityPct: d.RemainingCapacityPct,
		Leverage:             leverage,
	}
}

// ComputePositionSize sizes a trade so that quantity × |entry − stop| equals
// the dollar risk and notional never exceeds max_position_size × equity.
func ComputePositionSize(intent domain.TradeIntent, stopPrice float64, caps SizingCaps) (domain.PositionSizing, error) {
	entry := intent.EntryPrice
	equity := intent.AccountEquity.Value
	switch {
	case !domain.Finite(entry) || entry <= 0:
		return domain.PositionSizing{}, domain.Invalid("entry_price", "must be a positive finite number")
	case !domain.Finite(stopPrice) || stopPrice <= 0:
		return domain.PositionSizing{}, domain.Invalid("stop_price", "must be a positive finite number")
	case !domain.Finite(equity) || equity <= 0:
		return domain.PositionSizing{}, domain.Invalid("account_equity", "must be a positive finite number")
	case !domain.Finite(caps.RiskPerTrade) || caps.RiskPerTrade < 0:
		return domain.PositionSizing{}, domain.Invalid("risk_per_trade", "must be a non-negative finite number")
	case !domain.Finite(caps.MaxPositionSize) || caps.MaxPositionSize < 0:
		return domain.PositionSizing{}, domain.Invalid("max_position_size", "must be a non-negative finite number")
	case !domain.Finite(caps.RemainingCapacityPct):
		return domain.PositionSizing{}, domain.Invalid("remaining_capacity_pct", "must be finite")
	}
	perUnit := math.Abs(entry - stopPrice)
	if perUnit == 0 {
		return domain.PositionSizing{}, domain.Invalid("stop_price", "must differ from entry")
	}
	leverage := caps.Leverage
	if !domain.Finite(leverage) || leverage < 1 {
		leverage = 1
	}

	capped := domain.CapNone
	riskPct := caps.RiskPerTrade
	if c := math.Max(0, caps.RemainingCapacityPct); c < riskPct {
		riskPct = c
		capped = domain.CapCapacity
	}

	qty := riskPct * equity / perUnit
	if maxQty := caps.MaxPositionSize * equity / entry; qty > maxQty {
		qty = maxQty
		capped = domain.CapNotional
	}

	lot := lotSize(intent.AssetClass)
	qty = math.Floor(qty/lot) * lot
	if qty <= 0 {
		qty = 0
		if riskPct > 0 {
			capped = domain.CapMinQuantity
		}
	}

	totalRisk := qty * perUnit
	notional := qty * entry
	return domain.PositionSizing{
		Quantity:     qty,
		TotalRiskUSD: totalRisk,
		RiskPct:      totalRisk / equity,
		NotionalUSD:  notional,
		MarginUSD:    notional / leverage,
		CappedBy:     capped,
	}, nil
}

// lotSize returns the minimum tradable increment.
func lotSize(class domain.AssetClass) float64 {
	if class == domain.AssetCrypto {
		return 1e-6
	}
	return 1
}
