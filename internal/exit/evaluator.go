// Package exit scores an open trade across four pressure channels and
// recommends HOLD, SCALE, TRAIL or CLOSE.
package exit

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Evaluate computes the exit verdict for a trade. It is pure: identical
// states always produce identical verdicts.
//
// The action is chosen by explicit rules on the channels, not by the blended
// score. The blended score is reported for ranking and display only.
func Evaluate(st domain.TradeState) domain.ExitVerdict {
	if st.Status == domain.TradeClosed {
		return domain.ExitVerdict{
			Action: domain.ExitHold,
			Reason: domain.ExitReasonAlreadyClosed,
			Detail: "trade is closed",
		}
	}
	if err := validateState(st); err != nil {
		return domain.ExitVerdict{
			Action: domain.ExitHold,
			Reason: domain.ExitReasonInvalidState,
			Detail: err.Error(),
		}
	}

	pol := st.Policy
	elapsed := elapsedFraction(st)

	structural, breached := structuralScore(st)
	edge := edgeScore(st)
	timeScore, noProgress := timeDecayScore(st, elapsed)
	objective := clamp(100*st.UnrealizedR/pol.CloseAtR, 0, 100)

	v := domain.ExitVerdict{
		TimeElapsedPct: round(elapsed*100, 1),
		Channels: domain.ChannelScores{
			Structural: round(structural, 2),
			Edge:       round(edge, 2),
			Time:       round(timeScore, 2),
			Objective:  round(objective, 2),
		},
	}
	v.Score = blend(v.Channels, pol.Weights)

	switch {
	case breached:
		v.Action, v.Reason = domain.ExitClose, domain.ExitReasonStructuralFailure
	case st.UnrealizedR >= pol.CloseAtR:
		v.Action, v.Reason = domain.ExitClose, domain.ExitReasonObjectiveReached
	case timeScore >= pol.TimeDecayCutoff:
		v.Action, v.Reason = domain.ExitClose, domain.ExitReasonTimeDecay
	case st.UnrealizedR >= pol.TrailAtR:
		v.Action, v.Reason = domain.ExitTrail, domain.ExitReasonTrailActivated
	case st.UnrealizedR >= pol.ScaleOutAtR:
		v.Action, v.Reason = domain.ExitScale, domain.ExitReasonScaleOut
	case edge >= 50:
		v.Action, v.Reason = domain.ExitHold, domain.ExitReasonEdgeDecayWarning
	case noProgress:
		v.Action, v.Reason = domain.ExitHold, domain.ExitReasonNoProgressWarning
	default:
		v.Action, v.Reason = domain.ExitHold, domain.ExitReasonThesisIntact
	}
	v.Detail = fmt.Sprintf("%s: R=%.2f elapsed=%.1f%% structural=%.1f edge=%.1f time=%.1f objective=%.1f",
		v.Reason, st.UnrealizedR, v.TimeElapsedPct, v.Channels.Structural, v.Channels.Edge, v.Channels.Time, v.Channels.Objective)
	return v
}

func validateState(st domain.TradeState) error {
	if st.Direction != domain.DirectionLong && st.Direction != domain.DirectionShort {
		return fmt.Errorf("direction %q", st.Direction)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"entry_price", st.EntryPrice},
		{"stop_price", st.StopPrice},
		{"mark_price", st.MarkPrice},
		{"unrealized_r", st.UnrealizedR},
		{"edge_score", st.EdgeScore},
		{"edge_score_at_entry", st.EdgeScoreAtEntry},
		{"thesis_invalidation_price", st.ThesisInvalidationPrice},
		{"risk_r", st.RiskR},
	} {
		if !domain.Finite(f.v) {
			return fmt.Errorf("%s is not finite", f.name)
		}
	}
	if st.EntryPrice <= 0 || st.MarkPrice <= 0 {
		return fmt.Errorf("entry and mark prices must be positive")
	}
	if st.RiskR < 0 {
		return fmt.Errorf("risk_r must not be negative")
	}
	if err := st.Policy.Validate(); err != nil {
		return err
	}
	return nil
}

// invalidationLevel is the thesis invalidation price, or the stop when none
// was recorded.
func invalidationLevel(st domain.TradeState) float64 {
	if st.ThesisInvalidationPrice > 0 {
		return st.ThesisInvalidationPrice
	}
	return st.StopPrice
}

// structuralScore measures how much of the entry-to-invalidation cushion has
// been consumed. A breach is the only confirmed structural failure.
func structuralScore(st domain.TradeState) (float64, bool) {
	level := invalidationLevel(st)
	if level <= 0 {
		return structureBonus(st.Structure), false
	}
	mark := decimal.NewFromFloat(st.MarkPrice)
	lvl := decimal.NewFromFloat(level)
	var breached bool
	if st.Direction == domain.DirectionLong {
		breached = mark.LessThanOrEqual(lvl)
	} else {
		breached = mark.GreaterThanOrEqual(lvl)
	}
	if breached {
		return 100, true
	}

	cushion := math.Abs(st.EntryPrice - level)
	var consumed float64
	if cushion > 0 {
		// Distance still left between mark and invalidation, as a fraction of
		// the original cushion. Above 1 the trade is in profit.
		left := math.Abs(st.MarkPrice-level) / cushion
		consumed = clamp(1-left, 0, 1)
	}
	return math.Min(consumed*70+structureBonus(st.Structure), 95), false
}

func structureBonus(s domain.StructureState) float64 {
	switch s {
	case domain.StructureBroken:
		return 30
	case domain.StructureWeakening:
		return 15
	}
	return 0
}

// edgeScore measures the decay of the setup's edge since entry.
func edgeScore(st domain.TradeState) float64 {
	drop := st.EdgeScoreAtEntry - st.EdgeScore
	score := 100 * drop / st.Policy.EdgeDropThreshold
	switch st.Momentum {
	case domain.MomentumReversing:
		score += 15
	case domain.MomentumDecelerating:
		score += 5
	}
	if st.EventRisk > domain.EventRiskMedium {
		score += 10 * float64(st.EventRisk-domain.EventRiskMedium)
	}
	return clamp(score, 0, 100)
}

// timeDecayScore combines a linear age term with penalties for failing to
// make progress by the configured checkpoints.
func timeDecayScore(st domain.TradeState, elapsed float64) (float64, bool) {
	pol := st.Policy
	score := 40 * math.Min(elapsed, 1.5) / 1.5
	noProgress := elapsed >= pol.NoProgressTimePct && st.UnrealizedR < pol.NoProgressRThreshold
	if noProgress {
		score += 30
	}
	if elapsed >= pol.ExpiryTimePct && st.UnrealizedR < pol.ExpiryRThreshold {
		score += 40
	}
	return clamp(score, 0, 100), noProgress
}

func elapsedFraction(st domain.TradeState) float64 {
	if st.ExpectedWindowMs <= 0 || st.TimeOpenMs <= 0 {
		return 0
	}
	return float64(st.TimeOpenMs) / float64(st.ExpectedWindowMs)
}

func blend(c domain.ChannelScores, w domain.ChannelWeights) float64 {
	total := w.Structural + w.Edge + w.Time + w.Objective
	if total <= 0 {
		return 0
	}
	s := (c.Structural*w.Structural + c.Edge*w.Edge + c.Time*w.Time + c.Objective*w.Objective) / total
	return round(clamp(s, 0, 100), 2)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
