// Package evolution recalibrates adaptive parameters from closed-trade
// outcomes. RunCycle is pure; scheduling, locking and persistence live in the
// service layer.
package evolution

import (
	"fmt"
	"strings"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Window is one recency slice of the sample blend.
type Window struct {
	Size  int     `toml:"size"`
	Share float64 `toml:"share"`
}

// Config holds the calibration constants.
type Config struct {
	Windows              []Window `toml:"windows"`
	MinSamples           int      `toml:"min_samples"`
	ArmedOffset          float64  `toml:"armed_offset"`
	ArmedMin             float64  `toml:"armed_min"`
	ArmedMax             float64  `toml:"armed_max"`
	ArmedStep            float64  `toml:"armed_step"`
	WeightStep           float64  `toml:"weight_step"`
	PredictivePowerClamp float64  `toml:"predictive_power_clamp"`
	TriggerStep          float64  `toml:"trigger_step"`
	TriggerMin           float64  `toml:"trigger_min"`
	TriggerMax           float64  `toml:"trigger_max"`
	MinSessionSamples    int      `toml:"min_session_samples"`
	CanonicalPath        string   `toml:"canonical_path"`
	FastJumpStep         float64  `toml:"fast_jump_step"`
	FastJumpMin          float64  `toml:"fast_jump_min"`
	FastJumpMax          float64  `toml:"fast_jump_max"`
	MinPathSamples       int      `toml:"min_path_samples"`
	CloseAtRStep         float64  `toml:"close_at_r_step"`
	CloseAtRMin          float64  `toml:"close_at_r_min"`
	CloseAtRMax          float64  `toml:"close_at_r_max"`
	ConfidenceSampleBase int      `toml:"confidence_sample_base"`
	DailyStepScale       float64  `toml:"daily_step_scale"`
}

// DefaultConfig returns the stock calibration constants.
func DefaultConfig() Config {
	return Config{
		Windows: []Window{
			{Size: 30, Share: 0.50},
			{Size: 100, Share: 0.30},
			{Size: 300, Share: 0.20},
		},
		MinSamples:           20,
		ArmedOffset:          0.04,
		ArmedMin:             0.55,
		ArmedMax:             0.90,
		ArmedStep:            0.05,
		WeightStep:           0.10,
		PredictivePowerClamp: 0.30,
		TriggerStep:          0.10,
		TriggerMin:           0.5,
		TriggerMax:           1.5,
		MinSessionSamples:    3,
		CanonicalPath:        "COMPRESSION>IGNITION>EXPANSION",
		FastJumpStep:         0.10,
		FastJumpMin:          0.5,
		FastJumpMax:          1.2,
		MinPathSamples:       3,
		CloseAtRStep:         0.05,
		CloseAtRMin:          1.5,
		CloseAtRMax:          6.0,
		ConfidenceSampleBase: 200,
		DailyStepScale:       0.5,
	}
}

// Validate reports configuration that would break the cycle's bounds.
func (c Config) Validate() error {
	var errs []string
	if len(c.Windows) == 0 {
		errs = append(errs, "windows must not be empty")
	}
	var share float64
	for i, w := range c.Windows {
		if w.Size <= 0 || w.Share <= 0 {
			errs = append(errs, fmt.Sprintf("windows[%d]: size and share must be > 0", i))
		}
		share += w.Share
	}
	if len(c.Windows) > 0 && (share < 0.999 || share > 1.001) {
		errs = append(errs, fmt.Sprintf("window shares must sum to 1, got %.3f", share))
	}
	if c.ArmedMin <= 0 || c.ArmedMax > 1 || c.ArmedMin >= c.ArmedMax {
		errs = append(errs, "armed_min/armed_max must satisfy 0 < min < max <= 1")
	}
	steps := []struct {
		name string
		v    float64
	}{
		{"weight_step", c.WeightStep},
		{"armed_step", c.ArmedStep},
		{"trigger_step", c.TriggerStep},
		{"fast_jump_step", c.FastJumpStep},
		{"close_at_r_step", c.CloseAtRStep},
	}
	for _, s := range steps {
		if s.v <= 0 || s.v >= 1 {
			errs = append(errs, s.name+" must be in (0, 1)")
		}
	}
	if c.DailyStepScale <= 0 || c.DailyStepScale > 1 {
		errs = append(errs, "daily_step_scale must be in (0, 1]")
	}
	if c.ConfidenceSampleBase <= 0 {
		errs = append(errs, "confidence_sample_base must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("evolution: %s", strings.Join(errs, "; "))
	}
	return nil
}

// maxWindow returns the largest window size.
func (c Config) maxWindow() int {
	m := 0
	for _, w := range c.Windows {
		if w.Size > m {
			m = w.Size
		}
	}
	return m
}

// cadencePlan describes what a cadence is allowed to change.
type cadencePlan struct {
	apply      bool
	stepScale  float64
	triggers   bool
	paths      bool
	structural bool
}

func (c Config) planFor(cadence domain.Cadence) cadencePlan {
	switch cadence {
	case domain.CadenceIntraday:
		return cadencePlan{apply: false, stepScale: 1, triggers: true, paths: true}
	case domain.CadenceDaily:
		return cadencePlan{apply: true, stepScale: c.DailyStepScale}
	case domain.CadenceWeekly:
		return cadencePlan{apply: true, stepScale: 1, triggers: true, paths: true}
	case domain.CadenceMonthly:
		return cadencePlan{apply: true, stepScale: 1, triggers: true, paths: true, structural: true}
	}
	return cadencePlan{}
}
