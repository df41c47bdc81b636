package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// ExitPlanPolicy tunes the exit plan builder. Nil maps fall back to the
// built-in tables.
type ExitPlanPolicy struct {
	MinRR               float64
	RejectEstimatedATR  bool
	StopMultipliers     map[domain.Regime]float64
	StrategyStopFactors map[domain.StrategyTag]float64
	TimeStopMinutes     map[domain.Regime]int
}

// DefaultExitPlanPolicy returns the stock policy.
func DefaultExitPlanPolicy() ExitPlanPolicy {
	return ExitPlanPolicy{MinRR: 1.0}
}

var defaultStopMultipliers = map[domain.Regime]float64{
	domain.RegimeTrendUp:        1.5,
	domain.RegimeTrendDown:      1.5,
	domain.RegimeRangeNeutral:   1.0,
	domain.RegimeVolExpansion:   2.2,
	domain.RegimeVolContraction: 1.2,
	domain.RegimeRiskOffStress:  2.0,
	domain.RegimeUnknown:        1.5,
}

var defaultStrategyStopFactors = map[domain.StrategyTag]float64{
	domain.StrategyBreakoutContinuation: 1.1,
	domain.StrategyMeanReversion:        0.8,
	domain.StrategyRangeFade:            0.8,
	domain.StrategyEventDriven:          1.3,
}

var defaultTimeStopMinutes = map[domain.Regime]int{
	domain.RegimeTrendUp:        240,
	domain.RegimeTrendDown:      240,
	domain.RegimeRangeNeutral:   90,
	domain.RegimeVolExpansion:   60,
	domain.RegimeVolContraction: 180,
	domain.RegimeRiskOffStress:  45,
	domain.RegimeUnknown:        120,
}

var timeStopStrategyFactors = map[domain.StrategyTag]float64{
	domain.StrategyTrendPullback: 1.25,
	domain.StrategyMeanReversion: 0.75,
	domain.StrategyRangeFade:     0.75,
	domain.StrategyEventDriven:   0.5,
}

var tp2Multiples = map[domain.StrategyTag]float64{
	domain.StrategyTrendPullback:        3.0,
	domain.StrategyBreakoutContinuation: 3.5,
	domain.StrategyMomentumContinuation: 3.0,
	domain.StrategyEventDriven:          2.5,
}

// ExitPlanParams are the inputs to BuildExitPlan.
type ExitPlanParams struct {
	Direction   domain.Direction
	EntryPrice  float64
	ATR         domain.Measured
	AssetClass  domain.AssetClass
	Regime      domain.Regime
	StrategyTag domain.StrategyTag
}

// BuildExitPlan derives a stop, targets, trail rule and time stop from
// volatility, regime and strategy. A plan that fails any invariant is rejected
// with a *domain.ValidationError; a missing ATR yields
// domain.ErrNoVolatilityData.
func BuildExitPlan(p ExitPlanParams, policy ExitPlanPolicy) (domain.ExitPlan, error) {
	if p.ATR.Missing() || (policy.RejectEstimatedATR && p.ATR.IsEstimated()) {
		return domain.ExitPlan{}, domain.ErrNoVolatilityData
	}
	if p.Direction != domain.DirectionLong && p.Direction != domain.DirectionShort {
		return domain.ExitPlan{}, domain.Invalid("direction", "must be LONG or SHORT, got %q", p.Direction)
	}
	if !domain.Finite(p.EntryPrice) || p.EntryPrice <= 0 {
		return domain.ExitPlan{}, domain.Invalid("entry_price", "must be a positive finite number")
	}
	if !domain.Finite(p.ATR.Value) || p.ATR.Value <= 0 {
		return domain.ExitPlan{}, domain.Invalid("atr", "must be a positive finite number")
	}
	minRR := policy.MinRR
	if minRR <= 0 {
		minRR = 1.0
	}

	regime := p.Regime
	if regime == "" {
		regime = domain.RegimeUnknown
	}
	stopMult := lookupFloat(policy.StopMultipliers, defaultStopMultipliers, regime, 1.5) *
		lookupFloat(policy.StrategyStopFactors, defaultStrategyStopFactors, p.StrategyTag, 1.0)

	entry := decimal.NewFromFloat(p.EntryPrice)
	distance := decimal.NewFromFloat(p.ATR.Value).Mul(decimal.NewFromFloat(stopMult))
	sign := decimal.NewFromInt(int64(p.Direction.Sign()))
	tick := tickSize(p.AssetClass, p.EntryPrice)

	reward := math.Max(rewardMultiple(p.StrategyTag, regime), minRR)
	stop := roundToTick(entry.Sub(distance.Mul(sign)), tick, p.Direction)
	tp1 := roundToTick(entry.Add(distance.Mul(decimal.NewFromFloat(reward)).Mul(sign)), tick, p.Direction)

	plan := domain.ExitPlan{
		StopPrice:       stop.InexactFloat64(),
		TakeProfit1:     tp1.InexactFloat64(),
		TrailRule:       trailRule(p.StrategyTag),
		TimeStopMinutes: timeStop(policy, regime, p.StrategyTag),
	}
	if m, ok := tp2Multiples[p.StrategyTag]; ok {
		tp2 := roundToTick(entry.Add(distance.Mul(decimal.NewFromFloat(m)).Mul(sign)), tick, p.Direction).InexactFloat64()
		plan.TakeProfit2 = &tp2
	}

	risk := entry.Sub(stop).Abs()
	if !risk.IsPositive() {
		return domain.ExitPlan{}, domain.Invalid("stop_price", "collapses onto entry after tick rounding")
	}
	plan.StopDistance = risk.InexactFloat64()
	plan.RRAtTP1 = tp1.Sub(entry).Abs().Div(risk).Round(4).InexactFloat64()

	if err := plan.CheckAgainst(p.EntryPrice, p.Direction, minRR); err != nil {
		return domain.ExitPlan{}, err
	}
	return plan, nil
}

func rewardMultiple(tag domain.StrategyTag, regime domain.Regime) float64 {
	switch {
	case tag.IsTrendFollowing():
		if regime == domain.RegimeRangeNeutral {
			return 1.5
		}
		return 2.0
	case tag.IsCounterTrend():
		return 1.2
	}
	return 1.5
}

func trailRule(tag domain.StrategyTag) domain.TrailRule {
	switch tag {
	case domain.StrategyBreakoutContinuation, domain.StrategyMomentumContinuation:
		return domain.TrailStructure
	case domain.StrategyTrendPullback:
		return domain.TrailATR
	case domain.StrategyEventDriven:
		return domain.TrailBreakeven
	}
	return domain.TrailNone
}

func timeStop(policy ExitPlanPolicy, regime domain.Regime, tag domain.StrategyTag) int {
	base, ok := policy.TimeStopMinutes[regime]
	if !ok {
		base = defaultTimeStopMinutes[regime]
	}
	if base <= 0 {
		base = 120
	}
	f, ok := timeStopStrategyFactors[tag]
	if !ok {
		f = 1.0
	}
	return int(math.Round(float64(base) * f))
}

// tickSize returns the price increment used for rounding plan levels.
func tickSize(class domain.AssetClass, price float64) decimal.Decimal {
	switch class {
	case domain.AssetForex:
		return decimal.New(1, -5)
	case domain.AssetCrypto:
		switch {
		case price >= 1000:
			return decimal.New(1, -2)
		case price >= 1:
			return decimal.New(1, -4)
		default:
			return decimal.New(1, -8)
		}
	}
	return decimal.New(1, -2)
}

// roundToTick rounds in the trade direction so the stop only tightens and
// targets only extend, which keeps rr_at_tp1 at or above the requested multiple.
func roundToTick(v, tick decimal.Decimal, dir domain.Direction) decimal.Decimal {
	if dir == domain.DirectionShort {
		return v.Div(tick).Floor().Mul(tick)
	}
	return v.Div(tick).Ceil().Mul(tick)
}

func lookupFloat[K comparable](override, defaults map[K]float64, key K, fallback float64) float64 {
	if v, ok := override[key]; ok && v > 0 {
		return v
	}
	if v, ok := defaults[key]; ok {
		return v
	}
	return fallback
}
