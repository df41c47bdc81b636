package exit

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

func openLong() domain.TradeState {
	return domain.TradeState{
		Status:                  domain.TradeOpen,
		Direction:               domain.DirectionLong,
		EntryPrice:              100,
		StopPrice:               97,
		ThesisInvalidationPrice: 97.5,
		TargetPrices:            []float64{106, 109},
		MarkPrice:               100.5,
		UnrealizedR:             0.17,
		TimeOpenMs:              (20 * time.Minute).Milliseconds(),
		ExpectedWindowMs:        (4 * time.Hour).Milliseconds(),
		EdgeScoreAtEntry:        72,
		EdgeScore:               70,
		Regime:                  domain.RegimeTrendUp,
		Momentum:                domain.MomentumSteady,
		Structure:               domain.StructureIntact,
		Policy:                  domain.DefaultAdaptivePolicy(),
	}
}

func TestEvaluateObjectiveClose(t *testing.T) {
	t.Parallel()

	st := openLong()
	st.MarkPrice = 109.6
	st.UnrealizedR = 3.2

	v := Evaluate(st)
	assert.Equal(t, domain.ExitClose, v.Action)
	assert.Equal(t, domain.ExitReasonObjectiveReached, v.Reason)
	assert.Equal(t, 100.0, v.Channels.Objective)
}

func TestEvaluateStructuralFailureOverridesProfit(t *testing.T) {
	t.Parallel()

	// A short whose invalidation sits below entry after trailing; price is
	// back through it while the trade still shows a large open profit.
	st := domain.TradeState{
		Status:                  domain.TradeOpen,
		Direction:               domain.DirectionShort,
		EntryPrice:              200,
		StopPrice:               204,
		ThesisInvalidationPrice: 190,
		MarkPrice:               190.5,
		UnrealizedR:             2.4,
		TimeOpenMs:              (30 * time.Minute).Milliseconds(),
		ExpectedWindowMs:        (2 * time.Hour).Milliseconds(),
		EdgeScoreAtEntry:        60,
		EdgeScore:               60,
		Policy:                  domain.DefaultAdaptivePolicy(),
	}

	v := Evaluate(st)
	assert.Equal(t, domain.ExitClose, v.Action)
	assert.Equal(t, domain.ExitReasonStructuralFailure, v.Reason)
	assert.Equal(t, 100.0, v.Channels.Structural)

	long := openLong()
	long.MarkPrice = 97.4
	long.UnrealizedR = 5 // stale R from the feed must not mask the breach
	v = Evaluate(long)
	assert.Equal(t, domain.ExitClose, v.Action)
	assert.Equal(t, domain.ExitReasonStructuralFailure, v.Reason)
}

func TestEvaluateFallsBackToStop(t *testing.T) {
	t.Parallel()

	st := openLong()
	st.ThesisInvalidationPrice = 0
	st.MarkPrice = 97
	st.UnrealizedR = -1

	v := Evaluate(st)
	assert.Equal(t, domain.ExitClose, v.Action)
	assert.Equal(t, domain.ExitReasonStructuralFailure, v.Reason)
}

func TestEvaluateLadder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		r          float64
		wantAction domain.ExitAction
		wantReason string
	}{
		{"below scale", 0.6, domain.ExitHold, domain.ExitReasonThesisIntact},
		{"scale", 1.0, domain.ExitScale, domain.ExitReasonScaleOut},
		{"trail", 1.5, domain.ExitTrail, domain.ExitReasonTrailActivated},
		{"trail below close", 2.99, domain.ExitTrail, domain.ExitReasonTrailActivated},
		{"close", 3.0, domain.ExitClose, domain.ExitReasonObjectiveReached},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := openLong()
			st.UnrealizedR = tc.r
			st.MarkPrice = 100 + tc.r*3
			v := Evaluate(st)
			assert.Equal(t, tc.wantAction, v.Action)
			assert.Equal(t, tc.wantReason, v.Reason)
		})
	}
}

func TestEvaluateTimeDecay(t *testing.T) {
	t.Parallel()

	st := openLong()
	st.TimeOpenMs = st.ExpectedWindowMs // elapsed 100%
	st.UnrealizedR = 0.1
	st.MarkPrice = 100.3

	v := Evaluate(st)
	assert.Equal(t, domain.ExitClose, v.Action)
	assert.Equal(t, domain.ExitReasonTimeDecay, v.Reason)
	assert.Equal(t, 100.0, v.TimeElapsedPct)

	// Past the no-progress checkpoint but before expiry only warns.
	st.TimeOpenMs = st.ExpectedWindowMs * 6 / 10
	v = Evaluate(st)
	assert.Equal(t, domain.ExitHold, v.Action)
	assert.Equal(t, domain.ExitReasonNoProgressWarning, v.Reason)

	// Progress beyond the expiry threshold keeps an old trade alive.
	st.TimeOpenMs = st.ExpectedWindowMs
	st.UnrealizedR = 0.8
	st.MarkPrice = 102.4
	v = Evaluate(st)
	assert.Equal(t, domain.ExitHold, v.Action)
}

func TestEvaluateEdgeDecayWarning(t *testing.T) {
	t.Parallel()

	st := openLong()
	st.EdgeScore = 50
	st.Momentum = domain.MomentumReversing

	v := Evaluate(st)
	assert.Equal(t, domain.ExitHold, v.Action)
	assert.Equal(t, domain.ExitReasonEdgeDecayWarning, v.Reason)
	assert.InDelta(t, 100.0, v.Channels.Edge, 1e-9)
}

func TestEvaluateClosedTradeIsStatic(t *testing.T) {
	t.Parallel()

	st := openLong()
	st.Status = domain.TradeClosed
	st.UnrealizedR = 10
	st.MarkPrice = 50

	v := Evaluate(st)
	assert.Equal(t, domain.ExitHold, v.Action)
	assert.Equal(t, domain.ExitReasonAlreadyClosed, v.Reason)
	assert.Zero(t, v.Score)
}

func TestEvaluateInvalidState(t *testing.T) {
	t.Parallel()

	st := openLong()
	st.MarkPrice = math.NaN()
	v := Evaluate(st)
	assert.Equal(t, domain.ExitHold, v.Action)
	assert.Equal(t, domain.ExitReasonInvalidState, v.Reason)

	st = openLong()
	st.Policy.TrailAtR = 5 // trail above close
	v = Evaluate(st)
	assert.Equal(t, domain.ExitReasonInvalidState, v.Reason)

	for _, r := range []float64{math.Inf(1), -2.5} {
		st = openLong()
		st.RiskR = r
		v = Evaluate(st)
		assert.Equal(t, domain.ExitReasonInvalidState, v.Reason, "risk_r %v", r)
	}
}

func TestEvaluateIsDeterministicAndBounded(t *testing.T) {
	t.Parallel()

	for r := -1.5; r <= 4.0; r += 0.25 {
		for _, elapsed := range []int64{0, 30, 60, 120, 240, 480} {
			st := openLong()
			st.UnrealizedR = r
			st.MarkPrice = 100 + r*3
			st.TimeOpenMs = elapsed * time.Minute.Milliseconds()
			st.EdgeScore = 72 - float64(elapsed)/10

			a := Evaluate(st)
			b := Evaluate(st)
			assert.Equal(t, a, b)
			assert.GreaterOrEqual(t, a.Score, 0.0)
			assert.LessOrEqual(t, a.Score, 100.0)
			assert.NotEmpty(t, a.Detail)
		}
	}
}
