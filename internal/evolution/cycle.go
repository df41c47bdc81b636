package evolution

import (
	"fmt"
	"math"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Input is everything one calibration cycle reads.
type Input struct {
	ID          string
	SymbolGroup string
	Cadence     domain.Cadence
	// Samples are closed trades, newest first.
	Samples []domain.EvolutionSample
	Prior   domain.ParameterSet
	PriorID string
	Config  Config
	AsOf    time.Time
}

// RunCycle computes the next parameter set for a symbol group. It does not
// touch the prior; the caller decides whether to publish the result, which it
// should do only when Applied is true.
func RunCycle(in Input) (domain.EvolutionCycleOutput, error) {
	cfg := in.Config
	if err := cfg.Validate(); err != nil {
		return domain.EvolutionCycleOutput{}, err
	}
	if _, err := domain.ParseCadence(string(in.Cadence)); err != nil {
		return domain.EvolutionCycleOutput{}, fmt.Errorf("evolution: %w", err)
	}
	if in.SymbolGroup == "" {
		return domain.EvolutionCycleOutput{}, domain.Invalid("symbol_group", "must not be empty")
	}

	prior := in.Prior.Clone()
	if prior.SymbolGroup == "" {
		prior.SymbolGroup = in.SymbolGroup
	}
	prior.Weights = normalise(prior.Weights)

	unique := dedupe(in.Samples, cfg.maxWindow())
	samples, windowCounts := blend(unique, cfg.Windows, prior.Weights)

	out := domain.EvolutionCycleOutput{
		ID:          in.ID,
		PriorID:     in.PriorID,
		SymbolGroup: in.SymbolGroup,
		Cadence:     in.Cadence,
		CreatedAt:   in.AsOf.UTC(),
		SampleCount: len(samples),
		Changes:     []domain.ParameterChange{},
	}
	out.Metrics = measure(samples, cfg)
	out.Metrics.WindowCounts = windowCounts
	out.Confidence = confidence(len(samples), out.Metrics, cfg)

	if len(samples) < cfg.MinSamples {
		out.Skipped = true
		out.SkipReason = fmt.Sprintf("insufficient samples: %d < %d", len(samples), cfg.MinSamples)
		out.Parameters = prior
		return out, nil
	}

	plan := cfg.planFor(in.Cadence)
	next := prior.Clone()
	var log changeLog

	next.Weights = recalibrateWeights(prior.Weights, out.Metrics.PredictivePower, cfg.WeightStep*plan.stepScale)
	for i := range next.Weights {
		log.record("weights."+domain.FactorNames[i], prior.Weights[i], next.Weights[i],
			"predictive power %+.3f", out.Metrics.PredictivePower[i])
	}

	win, _ := idqsByOutcome(samples)
	if win.n > 0 {
		next.ArmedThreshold = armedTarget(prior.Armed(), win.mean(), cfg, plan.stepScale)
		log.record("armed_threshold", prior.ArmedThreshold, next.ArmedThreshold,
			"mean winning IDQS %.3f", win.mean())
	}

	if plan.structural {
		for _, name := range seenTriggers(samples) {
			if _, ok := next.TriggerSensitivities[name]; !ok {
				next.TriggerSensitivities[name] = 1.0
				log.record("trigger_sensitivity."+name, 0, 1.0, "registered new trigger")
			}
		}
	}

	if plan.triggers {
		base := next.TriggerSensitivities
		adjusted, gaps := triggerAdjustments(samples, base, cfg, plan.stepScale)
		for _, name := range sortedKeys(gaps) {
			log.record("trigger_sensitivity."+name, base[name], adjusted[name],
				"open-midday win rate gap %+.3f", gaps[name])
		}
		next.TriggerSensitivities = adjusted
		out.Metrics.TriggerGaps = gaps
	}

	if plan.paths {
		canonWR, nCanon, jumpWR, nJump := pathRates(samples, cfg.CanonicalPath)
		if nCanon >= cfg.MinPathSamples && nJump >= cfg.MinPathSamples {
			next.FastJumpMultiplier = fastJumpTarget(prior.FastJumpMultiplier, canonWR, jumpWR, cfg, plan.stepScale)
			log.record("fast_jump_multiplier", prior.FastJumpMultiplier, next.FastJumpMultiplier,
				"canonical win rate %.3f vs single jump %.3f", canonWR, jumpWR)
		}
	}

	if plan.structural {
		if r, ok := closeAtRTarget(samples, prior.ExitPolicy, cfg, plan.stepScale); ok {
			next.ExitPolicy.CloseAtR = r
			log.record("exit_policy.close_at_r", prior.ExitPolicy.CloseAtR, r,
				"weighted p75 of winning R-multiples")
		}
	}

	next.Version = prior.Version + 1
	next.SourceCycleID = in.ID
	next.UpdatedAt = out.CreatedAt

	out.Applied = plan.apply
	out.Parameters = next
	out.Changes = log
	if out.Changes == nil {
		out.Changes = []domain.ParameterChange{}
	}
	return out, nil
}

// measure computes the reporting metrics of a sample set.
func measure(samples []weighted, cfg Config) domain.CycleMetrics {
	m := domain.CycleMetrics{OutcomeCounts: make(map[domain.Outcome]int)}
	for _, s := range samples {
		m.OutcomeCounts[s.Outcome]++
	}
	m.WinRate, _ = winRate(samples, func(weighted) bool { return true })
	win, loss := idqsByOutcome(samples)
	m.MeanIDQSWin = win.mean()
	m.MeanIDQSLoss = loss.mean()
	m.PredictivePower = predictivePower(samples, cfg.PredictivePowerClamp)
	m.OpenWinRate, _ = winRate(samples, func(s weighted) bool { return s.Session == domain.SessionOpen })
	m.MiddayWinRate, _ = winRate(samples, func(s weighted) bool { return s.Session == domain.SessionMidday })
	m.CanonicalWinRate, _, m.JumpWinRate, _ = pathRates(samples, cfg.CanonicalPath)
	return m
}

// confidence is 0.6*min(n/base, 1) + 0.4*|IDQS separation between winners and
// losers|, in [0, 1].
func confidence(n int, m domain.CycleMetrics, cfg Config) float64 {
	coverage := math.Min(float64(n)/float64(cfg.ConfidenceSampleBase), 1)
	separation := math.Abs(m.MeanIDQSWin - m.MeanIDQSLoss)
	return clamp(0.6*coverage+0.4*separation, 0, 1)
}
