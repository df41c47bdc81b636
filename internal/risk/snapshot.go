// Package risk implements the pre-trade governance pipeline: permission
// snapshots, exit plans, position sizing, leverage and the candidate governor.
// Everything in this package is pure and deterministic.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/session"
)

// SnapshotPolicy holds the thresholds used to derive a permission snapshot.
type SnapshotPolicy struct {
	Caps                    domain.RiskCaps
	StaleAfterSeconds       float64
	ConsecutiveLossThrottle int
	DailyLossThrottleR      float64
	ThrottleFactor          float64
}

// DefaultSnapshotPolicy returns the stock snapshot thresholds.
func DefaultSnapshotPolicy() SnapshotPolicy {
	return SnapshotPolicy{
		Caps: domain.RiskCaps{
			RiskPerTrade:    0.01,
			MaxPositionSize: 0.25,
			MaxDailyR:       3.0,
			MaxTradesPerDay: 10,
		},
		StaleAfterSeconds:       120,
		ConsecutiveLossThrottle: 3,
		DailyLossThrottleR:      2.0,
		ThrottleFactor:          0.5,
	}
}

// SnapshotInput collects the live account and provider state.
type SnapshotInput struct {
	Enabled           bool
	Regime            domain.Regime
	DataHealth        domain.DataHealth
	RealizedDailyR    float64
	OpenRiskR         float64
	ConsecutiveLosses int
	TradesToday       int
	Session           session.Window
	AsOf              time.Time
}

// BuildPermissionSnapshot derives risk mode and caps. It never fails; any
// condition that makes trading unsafe produces LOCKED.
func BuildPermissionSnapshot(in SnapshotInput, policy SnapshotPolicy) domain.PermissionSnapshot {
	snap := domain.PermissionSnapshot{
		RiskMode:   domain.RiskModeNormal,
		Caps:       policy.Caps,
		DataHealth: in.DataHealth,
		Regime:     in.Regime,
		AsOf:       in.AsOf,
		Session: domain.SessionState{
			TradesToday:    in.TradesToday,
			Phase:          in.Session.Phase,
			LiquidityScore: in.Session.LiquidityScore,
		},
	}
	if snap.Regime == "" {
		snap.Regime = domain.RegimeUnknown
	}

	if reasons := lockReasons(in, policy); len(reasons) > 0 {
		snap.RiskMode = domain.RiskModeLocked
		snap.Caps = domain.RiskCaps{}
		snap.Reasons = reasons
		return snap
	}

	dailyLossR := math.Max(0, -in.RealizedDailyR)
	if in.ConsecutiveLosses >= policy.ConsecutiveLossThrottle && policy.ConsecutiveLossThrottle > 0 {
		snap.Reasons = append(snap.Reasons,
			fmt.Sprintf("consecutive losses %d >= %d", in.ConsecutiveLosses, policy.ConsecutiveLossThrottle))
	}
	if dailyLossR >= policy.DailyLossThrottleR && policy.DailyLossThrottleR > 0 {
		snap.Reasons = append(snap.Reasons,
			fmt.Sprintf("daily loss %.2fR >= %.2fR", dailyLossR, policy.DailyLossThrottleR))
	}
	if in.Regime == domain.RegimeRiskOffStress {
		snap.Reasons = append(snap.Reasons, "regime RISK_OFF_STRESS")
	}
	if len(snap.Reasons) > 0 {
		snap.RiskMode = domain.RiskModeThrottled
		snap.Caps.RiskPerTrade *= policy.ThrottleFactor
		snap.Caps.MaxDailyR *= policy.ThrottleFactor
	}

	snap.Caps.RiskPerTrade *= in.Session.RiskCapMultiplier
	if in.Session.Closed() {
		snap.Reasons = append(snap.Reasons, "session closed")
	}

	snap.Session.RemainingDailyR = math.Max(0, snap.Caps.MaxDailyR-dailyLossR-math.Max(0, in.OpenRiskR))
	return snap
}

func lockReasons(in SnapshotInput, policy SnapshotPolicy) []string {
	var reasons []string
	if !in.Enabled {
		reasons = append(reasons, "risk engine disabled")
	}
	switch in.DataHealth.Status {
	case domain.DataHealthDown, domain.DataHealthStale:
		reasons = append(reasons, "data provider "+string(in.DataHealth.Status))
	case "":
		reasons = append(reasons, "data provider status unknown")
	}
	if !domain.Finite(in.DataHealth.AgeSeconds) || in.DataHealth.AgeSeconds > policy.StaleAfterSeconds {
		reasons = append(reasons,
			fmt.Sprintf("data age %.0fs exceeds %.0fs", in.DataHealth.AgeSeconds, policy.StaleAfterSeconds))
	}
	if !domain.Finite(in.RealizedDailyR) || !domain.Finite(in.OpenRiskR) {
		reasons = append(reasons, "non-finite account state")
	}
	return reasons
}
