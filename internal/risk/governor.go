package risk

import (
	"math"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// GovernorPolicy holds the portfolio-level caps enforced on candidates.
type GovernorPolicy struct {
	MaxDailyLossPct       float64
	MaxHeatPct            float64
	MaxOpenTrades         int
	CorrelationThreshold  float64
	ConfidenceFloors      map[domain.Regime]float64
	RejectEstimatedInputs bool
	MinRR                 float64
	CorrelationGroups     CorrelationGroups
}

// DefaultGovernorPolicy returns the stock caps.
func DefaultGovernorPolicy() GovernorPolicy {
	return GovernorPolicy{
		MaxDailyLossPct:      0.03,
		MaxHeatPct:           0.06,
		MaxOpenTrades:        5,
		CorrelationThreshold: 2.0,
		MinRR:                1.0,
	}
}

var defaultConfidenceFloors = map[domain.Regime]float64{
	domain.RegimeTrendUp:        55,
	domain.RegimeTrendDown:      55,
	domain.RegimeRangeNeutral:   60,
	domain.RegimeVolExpansion:   65,
	domain.RegimeVolContraction: 58,
	domain.RegimeRiskOffStress:  75,
	domain.RegimeUnknown:        70,
}

// eventTolerance is the highest event-risk severity a strategy accepts.
func eventTolerance(tag domain.StrategyTag) domain.EventRisk {
	switch {
	case tag == domain.StrategyEventDriven:
		return domain.EventRiskHigh
	case tag.IsCounterTrend():
		return domain.EventRiskLow
	}
	return domain.EventRiskMedium
}

// CandidateInput is everything the governor looks at for one candidate.
type CandidateInput struct {
	Snapshot  *domain.PermissionSnapshot
	Intent    domain.TradeIntent
	Plan      *domain.ExitPlan
	Portfolio domain.PortfolioState
	// Params is the adaptive parameter set of the intent's symbol group. Nil
	// skips the armed-threshold check.
	Params *domain.ParameterSet
}

// Governor evaluates candidate trades against the snapshot and portfolio
// caps. It is stateless and safe for concurrent use.
type Governor struct {
	policy GovernorPolicy
}

// NewGovernor creates a Governor.
func NewGovernor(policy GovernorPolicy) *Governor {
	return &Governor{policy: policy}
}

// Policy returns the governor's policy.
func (g *Governor) Policy() GovernorPolicy { return g.policy }

// Evaluate applies the checks in order and stops at the first failure, whose
// code becomes the primary reason. Any input that cannot be trusted blocks.
func (g *Governor) Evaluate(in CandidateInput) domain.GovernorDecision {
	if in.Snapshot == nil || in.Snapshot.RiskMode == "" {
		return block(domain.RiskModeLocked, domain.ReasonMissingSnapshot)
	}
	snap := in.Snapshot
	intent := in.Intent

	// Check 1: locked accounts take no new risk.
	if snap.RiskMode == domain.RiskModeLocked {
		return block(snap.RiskMode, domain.ReasonRiskModeLocked)
	}

	// Check 2: fail closed on untrustworthy inputs.
	if code := g.validateInputs(in); code != "" {
		return block(snap.RiskMode, code)
	}

	// Check 3: daily loss.
	if in.Portfolio.DailyLossPct >= g.policy.MaxDailyLossPct {
		return block(snap.RiskMode, domain.ReasonDailyLossCap)
	}

	// Check 4: portfolio heat.
	if in.Portfolio.HeatPct >= g.policy.MaxHeatPct {
		return block(snap.RiskMode, domain.ReasonPortfolioHeatCap)
	}

	// Check 5: open trade count.
	if in.Portfolio.OpenTrades >= g.policy.MaxOpenTrades {
		return block(snap.RiskMode, domain.ReasonMaxOpenTrades)
	}

	// Check 6: daily budget.
	if snap.Caps.MaxTradesPerDay > 0 && snap.Session.TradesToday >= snap.Caps.MaxTradesPerDay {
		return block(snap.RiskMode, domain.ReasonDailyTradeLimit)
	}
	if snap.Session.RemainingDailyR <= 0 || snap.Caps.RiskPerTrade <= 0 {
		return block(snap.RiskMode, domain.ReasonNoRiskCapacity)
	}

	// Check 7: correlated exposure.
	if g.policy.CorrelationThreshold > 0 &&
		Concentration(intent, intent.OpenPositions, g.policy.CorrelationGroups) >= g.policy.CorrelationThreshold {
		return block(snap.RiskMode, domain.ReasonCorrelationConcentration)
	}

	// Check 8: regime confidence floor.
	if intent.Confidence < g.confidenceFloor(intent.Regime) {
		return block(snap.RiskMode, domain.ReasonConfidenceBelowFloor)
	}

	// Check 9: adaptive armed threshold.
	if in.Params != nil && intent.SetupQuality != nil && !armed(intent, *in.Params) {
		return block(snap.RiskMode, domain.ReasonBelowArmedThreshold)
	}

	// Check 10: event exposure.
	if intent.EventRisk > eventTolerance(intent.StrategyTag) {
		return block(snap.RiskMode, domain.ReasonEventRisk)
	}

	codes := []string{domain.ReasonAllowed}
	if snap.RiskMode == domain.RiskModeThrottled {
		codes = append(codes, domain.ReasonRiskThrottled)
	}
	if intent.ATR.IsEstimated() {
		codes = append(codes, domain.ReasonEstimatedATR)
	}
	return domain.GovernorDecision{
		Allowed:              true,
		RiskMode:             snap.RiskMode,
		RiskPerTrade:         snap.Caps.RiskPerTrade,
		MaxPositionSize:      snap.Caps.MaxPositionSize,
		RemainingCapacityPct: remainingCapacity(snap, in.Portfolio, g.policy.MaxHeatPct),
		ReasonCodes:          codes,
	}
}

func (g *Governor) validateInputs(in CandidateInput) string {
	intent := in.Intent
	if err := intent.Validate(); err != nil {
		return domain.ReasonInvalidInput
	}
	if intent.ATR.Missing() || intent.ATR.Value <= 0 {
		return domain.ReasonInvalidInput
	}
	if intent.AccountEquity.Missing() {
		return domain.ReasonInvalidInput
	}
	for _, v := range []float64{in.Portfolio.DailyLossPct, in.Portfolio.HeatPct} {
		if !domain.Finite(v) {
			return domain.ReasonInvalidInput
		}
	}
	if g.policy.RejectEstimatedInputs && (intent.ATR.IsEstimated() || intent.AccountEquity.IsEstimated()) {
		return domain.ReasonEstimatedInput
	}
	if in.Plan == nil {
		return domain.ReasonInvalidExitPlan
	}
	minRR := g.policy.MinRR
	if minRR <= 0 {
		minRR = 1.0
	}
	if err := in.Plan.CheckAgainst(intent.EntryPrice, intent.Direction, minRR); err != nil {
		return domain.ReasonInvalidExitPlan
	}
	return ""
}

func (g *Governor) confidenceFloor(r domain.Regime) float64 {
	if r == "" {
		r = domain.RegimeUnknown
	}
	return lookupFloat(g.policy.ConfidenceFloors, defaultConfidenceFloors, r, 70)
}

// armed reports whether the setup quality clears the group's armed threshold
// after trigger sensitivity and fast-jump adjustments.
func armed(intent domain.TradeIntent, params domain.ParameterSet) bool {
	quality := *intent.SetupQuality
	if intent.TransitionPath != "" && domain.IsSingleJump(intent.TransitionPath) && params.FastJumpMultiplier > 0 {
		quality *= params.FastJumpMultiplier
	}
	threshold := params.Armed() / params.Sensitivity(intent.Trigger)
	return quality >= threshold
}

// remainingCapacity is the equity fraction still available for new risk: the
// smaller of unused heat and the remaining daily R budget.
func remainingCapacity(snap *domain.PermissionSnapshot, p domain.PortfolioState, maxHeat float64) float64 {
	heat := maxHeat - p.HeatPct
	daily := snap.Session.RemainingDailyR * snap.Caps.RiskPerTrade
	return math.Max(0, math.Min(heat, daily))
}

func block(mode domain.RiskMode, code string) domain.GovernorDecision {
	return domain.GovernorDecision{
		Allowed:     false,
		RiskMode:    mode,
		ReasonCodes: []string{code},
	}
}
