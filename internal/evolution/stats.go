package evolution

import (
	"math"
	"sort"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// IDQS is the weighted setup-quality score of a trade, clamped to [0, 1].
func IDQS(s domain.SubScores, w domain.FactorWeights) float64 {
	var v float64
	for i := range s {
		v += s[i] * w[i]
	}
	return clamp(v, 0, 1)
}

// tally accumulates weighted means and win rates.
type tally struct {
	n      int
	weight float64
	sum    float64
}

func (t *tally) add(v, w float64) {
	t.n++
	t.weight += w
	t.sum += v * w
}

func (t tally) mean() float64 {
	if t.weight <= 0 {
		return 0
	}
	return t.sum / t.weight
}

// winRate returns the weighted share of WIN outcomes among samples matching
// keep, and the number of samples that matched.
func winRate(samples []weighted, keep func(weighted) bool) (float64, int) {
	var t tally
	for _, s := range samples {
		if !keep(s) {
			continue
		}
		win := 0.0
		if s.Outcome == domain.OutcomeWin {
			win = 1
		}
		t.add(win, s.weight)
	}
	return t.mean(), t.n
}

// idqsByOutcome returns the weighted mean IDQS of WIN and of loss-like
// samples, with their counts.
func idqsByOutcome(samples []weighted) (win, loss tally) {
	for _, s := range samples {
		switch {
		case s.Outcome == domain.OutcomeWin:
			win.add(s.idqs, s.weight)
		case s.Outcome.IsLossLike():
			loss.add(s.idqs, s.weight)
		}
	}
	return win, loss
}

// predictivePower is 2*(mean factor | WIN - mean factor | loss-like) per
// factor, clamped to +/-limit. Factors are zero when either side is empty.
func predictivePower(samples []weighted, limit float64) [domain.FactorCount]float64 {
	var win, loss [domain.FactorCount]tally
	for _, s := range samples {
		for i, v := range s.Scores {
			switch {
			case s.Outcome == domain.OutcomeWin:
				win[i].add(v, s.weight)
			case s.Outcome.IsLossLike():
				loss[i].add(v, s.weight)
			}
		}
	}
	var pp [domain.FactorCount]float64
	for i := range pp {
		if win[i].n == 0 || loss[i].n == 0 {
			continue
		}
		pp[i] = clamp(2*(win[i].mean()-loss[i].mean()), -limit, limit)
	}
	return pp
}

// weightedQuantile returns the q-quantile of values under weights: the
// smallest value whose cumulative weight reaches q of the total.
func weightedQuantile(values, weights []float64, q float64) float64 {
	idx := make([]int, len(values))
	var total float64
	for i := range idx {
		idx[i] = i
		total += weights[i]
	}
	if len(idx) == 0 || total <= 0 {
		return 0
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })
	target := q * total
	var cum float64
	for _, i := range idx {
		cum += weights[i]
		if cum >= target-1e-12 {
			return values[i]
		}
	}
	return values[idx[len(idx)-1]]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
