package domain

import (
	"strings"
	"time"
)

// FactorCount is the number of IDQS sub-scores.
const FactorCount = 5

// IDQS factors, in the order of SubScores and FactorWeights.
const (
	FactorStateAlignment = iota
	FactorFlowQuality
	FactorTimingPrecision
	FactorVolatilityMatch
	FactorExecutionQuality
)

// FactorNames labels each factor position in change logs and metrics.
var FactorNames = [FactorCount]string{
	"state_alignment",
	"flow_quality",
	"timing_precision",
	"volatility_match",
	"execution_quality",
}

// SubScores are the five 0-1 setup-quality readings recorded with a trade,
// positionally: state alignment, flow quality, timing precision, volatility
// match and execution quality. Producers must send them in that order.
type SubScores [FactorCount]float64

// FactorWeights are the IDQS blend weights. They sum to 1.
type FactorWeights [FactorCount]float64

// DefaultFactorWeights returns 0.30/0.25/0.20/0.15/0.10 in FactorNames order.
func DefaultFactorWeights() FactorWeights {
	return FactorWeights{0.30, 0.25, 0.20, 0.15, 0.10}
}

// Sum returns the total weight.
func (w FactorWeights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// EvolutionSample is one closed trade as seen by the calibration engine.
type EvolutionSample struct {
	ID             string       `json:"id"`
	Symbol         string       `json:"symbol"`
	SymbolGroup    string       `json:"symbol_group"`
	State          string       `json:"state"`
	TransitionPath string       `json:"transition_path"`
	Trigger        string       `json:"trigger"`
	Outcome        Outcome      `json:"outcome"`
	RMultiple      float64      `json:"r_multiple"`
	HoldingMinutes float64      `json:"holding_minutes"`
	Session        SessionPhase `json:"session"`
	Scores         SubScores    `json:"scores"`
	ClosedAt       time.Time    `json:"closed_at"`
}

// ParameterSet is the adaptive configuration for one symbol group. Instances
// are immutable once published.
type ParameterSet struct {
	SymbolGroup          string             `json:"symbol_group"`
	Version              int64              `json:"version"`
	Weights              FactorWeights      `json:"weights"`
	ArmedThreshold       float64            `json:"armed_threshold"`
	TriggerSensitivities map[string]float64 `json:"trigger_sensitivities"`
	FastJumpMultiplier   float64            `json:"fast_jump_multiplier"`
	ExitPolicy           AdaptivePolicy     `json:"exit_policy"`
	SourceCycleID        string             `json:"source_cycle_id,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// DefaultParameterSet returns the starting parameters for a group with no
// calibration history.
func DefaultParameterSet(group string) ParameterSet {
	return ParameterSet{
		SymbolGroup:          group,
		Weights:              DefaultFactorWeights(),
		ArmedThreshold:       DefaultArmedThreshold,
		TriggerSensitivities: map[string]float64{},
		FastJumpMultiplier:   1.0,
		ExitPolicy:           DefaultAdaptivePolicy(),
	}
}

// DefaultArmedThreshold is the setup-quality bar of an uncalibrated group.
const DefaultArmedThreshold = 0.70

// Armed returns the armed threshold, or DefaultArmedThreshold when the set
// carries none (zero, negative or non-finite).
func (p ParameterSet) Armed() float64 {
	if p.ArmedThreshold > 0 && Finite(p.ArmedThreshold) {
		return p.ArmedThreshold
	}
	return DefaultArmedThreshold
}

// Sensitivity returns the multiplier for trigger, 1.0 when unknown.
func (p ParameterSet) Sensitivity(trigger string) float64 {
	if v, ok := p.TriggerSensitivities[trigger]; ok && v > 0 {
		return v
	}
	return 1.0
}

// Clone returns a deep copy.
func (p ParameterSet) Clone() ParameterSet {
	out := p
	out.TriggerSensitivities = make(map[string]float64, len(p.TriggerSensitivities))
	for k, v := range p.TriggerSensitivities {
		out.TriggerSensitivities[k] = v
	}
	return out
}

// ParameterChange records one parameter moved by a cycle.
type ParameterChange struct {
	Name   string  `json:"name"`
	Old    float64 `json:"old"`
	New    float64 `json:"new"`
	Reason string  `json:"reason"`
}

// CycleMetrics are the statistics a cycle computed from its samples.
type CycleMetrics struct {
	WinRate          float64              `json:"win_rate"`
	MeanIDQSWin      float64              `json:"mean_idqs_win"`
	MeanIDQSLoss     float64              `json:"mean_idqs_loss"`
	PredictivePower  [FactorCount]float64 `json:"predictive_power"`
	OpenWinRate      float64              `json:"open_win_rate"`
	MiddayWinRate    float64              `json:"midday_win_rate"`
	CanonicalWinRate float64              `json:"canonical_win_rate"`
	JumpWinRate      float64              `json:"jump_win_rate"`
	TriggerGaps      map[string]float64   `json:"trigger_gaps,omitempty"`
	WindowCounts     map[string]int       `json:"window_counts,omitempty"`
	OutcomeCounts    map[Outcome]int      `json:"outcome_counts,omitempty"`
}

// EvolutionCycleOutput is the immutable record of one calibration cycle.
type EvolutionCycleOutput struct {
	ID          string            `json:"id"`
	PriorID     string            `json:"prior_id,omitempty"`
	SymbolGroup string            `json:"symbol_group"`
	Cadence     Cadence           `json:"cadence"`
	CreatedAt   time.Time         `json:"created_at"`
	Applied     bool              `json:"applied"`
	Skipped     bool              `json:"skipped"`
	SkipReason  string            `json:"skip_reason,omitempty"`
	SampleCount int               `json:"sample_count"`
	Confidence  float64           `json:"confidence"`
	Parameters  ParameterSet      `json:"parameters"`
	Changes     []ParameterChange `json:"changes"`
	Metrics     CycleMetrics      `json:"metrics"`
}

// NormalizePath canonicalises a state transition path such as
// "compression > ignition > expansion" to "COMPRESSION>IGNITION>EXPANSION".
func NormalizePath(path string) string {
	parts := strings.Split(path, ">")
	out := parts[:0]
	for _, p := range parts {
		if c := canon(p); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, ">")
}

// IsSingleJump reports whether the path is a single transition between two
// states.
func IsSingleJump(path string) bool {
	return strings.Count(NormalizePath(path), ">") == 1
}
