package domain

// TradeStatus tracks whether a trade is live.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// ChannelWeights blend the four exit pressure channels into exit_score.
type ChannelWeights struct {
	Structural float64 `json:"structural" toml:"structural"`
	Edge       float64 `json:"edge" toml:"edge"`
	Time       float64 `json:"time" toml:"time"`
	Objective  float64 `json:"objective" toml:"objective"`
}

// AdaptivePolicy holds the exit thresholds. It is part of the parameter set
// calibrated by the evolution engine.
type AdaptivePolicy struct {
	ScaleOutAtR          float64        `json:"scale_out_at_r" toml:"scale_out_at_r"`
	TrailAtR             float64        `json:"trail_at_r" toml:"trail_at_r"`
	CloseAtR             float64        `json:"close_at_r" toml:"close_at_r"`
	EdgeDropThreshold    float64        `json:"edge_drop_threshold" toml:"edge_drop_threshold"`
	NoProgressTimePct    float64        `json:"no_progress_time_pct" toml:"no_progress_time_pct"`
	NoProgressRThreshold float64        `json:"no_progress_r_threshold" toml:"no_progress_r_threshold"`
	ExpiryTimePct        float64        `json:"expiry_time_pct" toml:"expiry_time_pct"`
	ExpiryRThreshold     float64        `json:"expiry_r_threshold" toml:"expiry_r_threshold"`
	TimeDecayCutoff      float64        `json:"time_decay_cutoff" toml:"time_decay_cutoff"`
	Weights              ChannelWeights `json:"weights" toml:"weights"`
}

// DefaultAdaptivePolicy returns the stock exit thresholds.
func DefaultAdaptivePolicy() AdaptivePolicy {
	return AdaptivePolicy{
		ScaleOutAtR:          1.0,
		TrailAtR:             1.5,
		CloseAtR:             3.0,
		EdgeDropThreshold:    25,
		NoProgressTimePct:    0.5,
		NoProgressRThreshold: 0.25,
		ExpiryTimePct:        1.0,
		ExpiryRThreshold:     0.5,
		TimeDecayCutoff:      80,
		Weights: ChannelWeights{
			Structural: 0.35,
			Edge:       0.25,
			Time:       0.20,
			Objective:  0.20,
		},
	}
}

// Validate checks the ordering scale_out < trail < close and the ranges of
// the remaining thresholds.
func (p AdaptivePolicy) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"scale_out_at_r", p.ScaleOutAtR},
		{"trail_at_r", p.TrailAtR},
		{"close_at_r", p.CloseAtR},
		{"edge_drop_threshold", p.EdgeDropThreshold},
		{"no_progress_time_pct", p.NoProgressTimePct},
		{"expiry_time_pct", p.ExpiryTimePct},
		{"time_decay_cutoff", p.TimeDecayCutoff},
	}
	for _, c := range checks {
		if !Finite(c.v) || c.v <= 0 {
			return Invalid(c.name, "must be a positive finite number")
		}
	}
	if !(p.ScaleOutAtR < p.TrailAtR && p.TrailAtR < p.CloseAtR) {
		return Invalid("adaptive_policy", "require scale_out_at_r < trail_at_r < close_at_r")
	}
	w := p.Weights
	if w.Structural < 0 || w.Edge < 0 || w.Time < 0 || w.Objective < 0 ||
		w.Structural+w.Edge+w.Time+w.Objective <= 0 {
		return Invalid("weights", "must be non-negative with a positive sum")
	}
	return nil
}

// TradeState is the live view of an open trade fed to the exit evaluator.
type TradeState struct {
	ID                      string         `json:"id,omitempty"`
	Symbol                  string         `json:"symbol,omitempty"`
	Status                  TradeStatus    `json:"status"`
	Direction               Direction      `json:"direction"`
	EntryPrice              float64        `json:"entry_price"`
	StopPrice               float64        `json:"stop_price"`
	ThesisInvalidationPrice float64        `json:"thesis_invalidation_price,omitempty"`
	TargetPrices            []float64      `json:"target_prices,omitempty"`
	RiskR                   float64        `json:"risk_r"` // dollar risk per unit, |entry - stop|
	MarkPrice               float64        `json:"mark_price"`
	UnrealizedR             float64        `json:"unrealized_r"`
	MaxFavorableR           float64        `json:"max_favorable_r,omitempty"`
	TimeOpenMs              int64          `json:"time_open_ms"`
	ExpectedWindowMs        int64          `json:"expected_window_ms"`
	EdgeScoreAtEntry        float64        `json:"edge_score_at_entry"`
	EdgeScore               float64        `json:"edge_score"`
	Regime                  Regime         `json:"regime"`
	Momentum                MomentumState  `json:"momentum_state,omitempty"`
	Structure               StructureState `json:"structure_state,omitempty"`
	EventRisk               EventRisk      `json:"event_risk"`
	Policy                  AdaptivePolicy `json:"adaptive_policy"`
}

// ChannelScores are the four 0-100 exit pressure readings.
type ChannelScores struct {
	Structural float64 `json:"structural"`
	Edge       float64 `json:"edge"`
	Time       float64 `json:"time"`
	Objective  float64 `json:"objective"`
}

// Exit reason codes.
const (
	ExitReasonAlreadyClosed     = "ALREADY_CLOSED"
	ExitReasonInvalidState      = "INVALID_STATE"
	ExitReasonStructuralFailure = "STRUCTURAL_FAILURE"
	ExitReasonObjectiveReached  = "OBJECTIVE_REACHED"
	ExitReasonTimeDecay         = "TIME_DECAY"
	ExitReasonTrailActivated    = "TRAIL_ACTIVATED"
	ExitReasonScaleOut          = "SCALE_OUT"
	ExitReasonEdgeDecayWarning  = "EDGE_DECAY_WARNING"
	ExitReasonNoProgressWarning = "NO_PROGRESS_WARNING"
	ExitReasonThesisIntact      = "THESIS_INTACT"
)

// ExitVerdict is the evaluator's recommendation for an open trade.
type ExitVerdict struct {
	Action         ExitAction    `json:"exit_action"`
	Reason         string        `json:"exit_reason"`
	Detail         string        `json:"exit_detail"`
	Score          float64       `json:"exit_score"`
	TimeElapsedPct float64       `json:"time_elapsed_pct"`
	Channels       ChannelScores `json:"channels"`
}
