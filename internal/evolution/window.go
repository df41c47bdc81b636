package evolution

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// weighted is a deduplicated sample with its blend weight.
type weighted struct {
	domain.EvolutionSample
	weight float64
	idqs   float64
}

// Fingerprint hashes the content of a sample. Two records of the same trade
// delivered under different ids hash identically.
func Fingerprint(s domain.EvolutionSample) string {
	h := sha256.New()
	var buf [8]byte
	str := func(v string) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(v)))
		h.Write(buf[:])
		h.Write([]byte(v))
	}
	num := func(v float64) {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	str(s.Symbol)
	str(s.SymbolGroup)
	str(domain.NormalizePath(s.TransitionPath))
	str(s.Trigger)
	str(string(s.Outcome))
	str(string(s.Session))
	num(s.RMultiple)
	num(s.HoldingMinutes)
	for _, v := range s.Scores {
		num(v)
	}
	str(s.ClosedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// usable drops samples the statistics cannot consume.
func usable(s domain.EvolutionSample) bool {
	if s.Outcome == "" || !domain.Finite(s.RMultiple) {
		return false
	}
	for _, v := range s.Scores {
		if !domain.Finite(v) {
			return false
		}
	}
	return true
}

// dedupe keeps the first (newest) occurrence of each fingerprint and stops
// once limit unique samples are collected.
func dedupe(samples []domain.EvolutionSample, limit int) []domain.EvolutionSample {
	seen := make(map[string]struct{}, len(samples))
	out := make([]domain.EvolutionSample, 0, min(len(samples), limit))
	for _, s := range samples {
		if len(out) == limit {
			break
		}
		if !usable(s) {
			continue
		}
		fp := Fingerprint(s)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		for i := range s.Scores {
			s.Scores[i] = clamp(s.Scores[i], 0, 1)
		}
		out = append(out, s)
	}
	return out
}

// blend assigns each unique sample the sum of share/n over the windows that
// contain it, where n is the number of samples the window actually holds.
// Weights sum to the total window share.
func blend(unique []domain.EvolutionSample, windows []Window, weights domain.FactorWeights) ([]weighted, map[string]int) {
	out := make([]weighted, len(unique))
	counts := make(map[string]int, len(windows))
	for i, s := range unique {
		out[i] = weighted{EvolutionSample: s, idqs: IDQS(s.Scores, weights)}
	}
	for _, w := range windows {
		n := min(w.Size, len(unique))
		counts[windowKey(w.Size)] = n
		if n == 0 {
			continue
		}
		per := w.Share / float64(n)
		for i := 0; i < n; i++ {
			out[i].weight += per
		}
	}
	return out, counts
}

func windowKey(size int) string {
	return "last_" + strconv.Itoa(size)
}
