package evolution

import (
	"fmt"
	"math"
	"sort"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// recalibrateWeights moves each factor weight by its predictive power, keeps
// it within step of its prior value and renormalises the set to sum to 1.
func recalibrateWeights(old domain.FactorWeights, pp [domain.FactorCount]float64, step float64) domain.FactorWeights {
	prior := normalise(old)
	var raw, lo, hi [domain.FactorCount]float64
	for i, w := range prior {
		lo[i] = w * (1 - step)
		hi[i] = w * (1 + step)
		raw[i] = clamp(w*(1+pp[i]), lo[i], hi[i])
	}
	return boundedNormalise(raw, lo, hi)
}

// boundedNormalise finds the scale s for which sum(clamp(s*raw_i, lo_i, hi_i))
// equals 1. Every result stays inside [lo_i, hi_i]. A solution exists whenever
// sum(lo) <= 1 <= sum(hi), which holds for bands around a normalised prior.
func boundedNormalise(raw, lo, hi [domain.FactorCount]float64) domain.FactorWeights {
	apply := func(s float64) (domain.FactorWeights, float64) {
		var out domain.FactorWeights
		var sum float64
		for i := range raw {
			out[i] = clamp(s*raw[i], lo[i], hi[i])
			sum += out[i]
		}
		return out, sum
	}

	low, high := 0.0, 1.0
	for high < 1e6 {
		if _, sum := apply(high); sum >= 1 {
			break
		}
		high *= 2
	}
	for iter := 0; iter < 200; iter++ {
		mid := (low + high) / 2
		if _, sum := apply(mid); sum < 1 {
			low = mid
		} else {
			high = mid
		}
	}
	out, _ := apply(high)
	return out
}

func normalise(w domain.FactorWeights) domain.FactorWeights {
	sum := w.Sum()
	if sum <= 0 || !domain.Finite(sum) {
		return domain.DefaultFactorWeights()
	}
	if math.Abs(sum-1) < 1e-9 {
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// armedTarget places the threshold just below the typical winning IDQS,
// inside the absolute band and then within step of the prior. The prior is
// pulled into the band first so the result never leaves it.
func armedTarget(prior, meanWin float64, cfg Config, scale float64) float64 {
	target := clamp(meanWin-cfg.ArmedOffset, cfg.ArmedMin, cfg.ArmedMax)
	prior = clamp(prior, cfg.ArmedMin, cfg.ArmedMax)
	step := cfg.ArmedStep * scale
	return clamp(target, prior*(1-step), prior*(1+step))
}

// triggerAdjustments compares open-session and midday win rates per trigger.
// Triggers without enough samples in both sessions are left alone.
func triggerAdjustments(samples []weighted, prior map[string]float64, cfg Config, scale float64) (map[string]float64, map[string]float64) {
	next := make(map[string]float64, len(prior))
	gaps := make(map[string]float64)
	for name, v := range prior {
		next[name] = v
	}
	step := cfg.TriggerStep * scale
	for _, name := range sortedKeys(prior) {
		isTrigger := func(s weighted) bool { return s.Trigger == name }
		openWR, nOpen := winRate(samples, func(s weighted) bool { return isTrigger(s) && s.Session == domain.SessionOpen })
		midWR, nMid := winRate(samples, func(s weighted) bool { return isTrigger(s) && s.Session == domain.SessionMidday })
		if nOpen < cfg.MinSessionSamples || nMid < cfg.MinSessionSamples {
			continue
		}
		gap := openWR - midWR
		gaps[name] = gap
		next[name] = clamp(prior[name]*(1+clamp(gap, -step, step)), cfg.TriggerMin, cfg.TriggerMax)
	}
	return next, gaps
}

// seenTriggers lists the distinct non-empty triggers, sorted.
func seenTriggers(samples []weighted) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range samples {
		if s.Trigger == "" {
			continue
		}
		if _, ok := seen[s.Trigger]; ok {
			continue
		}
		seen[s.Trigger] = struct{}{}
		out = append(out, s.Trigger)
	}
	sort.Strings(out)
	return out
}

// pathRates returns the weighted win rates of the canonical multi-stage path
// and of single-jump paths, with their sample counts.
func pathRates(samples []weighted, canonical string) (canonWR float64, nCanon int, jumpWR float64, nJump int) {
	canonical = domain.NormalizePath(canonical)
	canonWR, nCanon = winRate(samples, func(s weighted) bool {
		return domain.NormalizePath(s.TransitionPath) == canonical
	})
	jumpWR, nJump = winRate(samples, func(s weighted) bool {
		p := domain.NormalizePath(s.TransitionPath)
		return p != canonical && domain.IsSingleJump(p)
	})
	return canonWR, nCanon, jumpWR, nJump
}

// fastJumpTarget shrinks the multiplier when the canonical path outperforms
// single jumps and grows it when single jumps do better.
func fastJumpTarget(prior, canonWR, jumpWR float64, cfg Config, scale float64) float64 {
	step := cfg.FastJumpStep * scale
	return clamp(prior*(1-clamp(canonWR-jumpWR, -step, step)), cfg.FastJumpMin, cfg.FastJumpMax)
}

// closeAtRTarget moves close_at_r toward the weighted 75th percentile of
// winning R-multiples. It reports false when there is not enough evidence or
// the move would break the trail < close ordering.
func closeAtRTarget(samples []weighted, pol domain.AdaptivePolicy, cfg Config, scale float64) (float64, bool) {
	var rs, ws []float64
	for _, s := range samples {
		if s.Outcome == domain.OutcomeWin && s.RMultiple > 0 {
			rs = append(rs, s.RMultiple)
			ws = append(ws, s.weight)
		}
	}
	if len(rs) < cfg.MinPathSamples {
		return pol.CloseAtR, false
	}
	target := clamp(weightedQuantile(rs, ws, 0.75), cfg.CloseAtRMin, cfg.CloseAtRMax)
	step := cfg.CloseAtRStep * scale
	next := clamp(target, pol.CloseAtR*(1-step), pol.CloseAtR*(1+step))
	if next <= pol.TrailAtR {
		return pol.CloseAtR, false
	}
	return next, true
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// changeLog accumulates parameter moves in a stable order.
type changeLog []domain.ParameterChange

func (c *changeLog) record(name string, old, next float64, reason string, args ...any) {
	if math.Abs(next-old) < 1e-12 {
		return
	}
	*c = append(*c, domain.ParameterChange{
		Name:   name,
		Old:    old,
		New:    next,
		Reason: fmt.Sprintf(reason, args...),
	})
}
