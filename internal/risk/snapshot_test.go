package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/session"
)

func TestBuildPermissionSnapshot(t *testing.T) {
	t.Parallel()

	open := session.Window{Phase: domain.SessionOpen, LiquidityScore: 0.9, RiskCapMultiplier: 1}
	healthy := domain.DataHealth{Status: domain.DataHealthOK, AgeSeconds: 5}

	tests := []struct {
		name      string
		in        SnapshotInput
		wantMode  domain.RiskMode
		wantRisk  float64
		wantDailR float64
	}{
		{
			name:      "normal",
			in:        SnapshotInput{Enabled: true, Regime: domain.RegimeTrendUp, DataHealth: healthy, Session: open},
			wantMode:  domain.RiskModeNormal,
			wantRisk:  0.01,
			wantDailR: 3,
		},
		{
			name:     "disabled",
			in:       SnapshotInput{Enabled: false, DataHealth: healthy, Session: open},
			wantMode: domain.RiskModeLocked,
		},
		{
			name:     "stale data",
			in:       SnapshotInput{Enabled: true, DataHealth: domain.DataHealth{Status: domain.DataHealthOK, AgeSeconds: 600}, Session: open},
			wantMode: domain.RiskModeLocked,
		},
		{
			name:     "provider down",
			in:       SnapshotInput{Enabled: true, DataHealth: domain.DataHealth{Status: domain.DataHealthDown}, Session: open},
			wantMode: domain.RiskModeLocked,
		},
		{
			name:     "non-finite age",
			in:       SnapshotInput{Enabled: true, DataHealth: domain.DataHealth{Status: domain.DataHealthOK, AgeSeconds: math.NaN()}, Session: open},
			wantMode: domain.RiskModeLocked,
		},
		{
			name:      "loss streak",
			in:        SnapshotInput{Enabled: true, DataHealth: healthy, ConsecutiveLosses: 3, Session: open},
			wantMode:  domain.RiskModeThrottled,
			wantRisk:  0.005,
			wantDailR: 1.5,
		},
		{
			name:      "daily loss",
			in:        SnapshotInput{Enabled: true, DataHealth: healthy, RealizedDailyR: -1.0, OpenRiskR: 0.25, Session: open},
			wantMode:  domain.RiskModeNormal,
			wantRisk:  0.01,
			wantDailR: 1.75,
		},
		{
			name:      "daily loss throttles",
			in:        SnapshotInput{Enabled: true, DataHealth: healthy, RealizedDailyR: -2.0, Session: open},
			wantMode:  domain.RiskModeThrottled,
			wantRisk:  0.005,
			wantDailR: 0,
		},
		{
			name:      "risk off",
			in:        SnapshotInput{Enabled: true, Regime: domain.RegimeRiskOffStress, DataHealth: healthy, Session: open},
			wantMode:  domain.RiskModeThrottled,
			wantRisk:  0.005,
			wantDailR: 1.5,
		},
		{
			name: "midday session scales risk",
			in: SnapshotInput{Enabled: true, DataHealth: healthy,
				Session: session.Window{Phase: domain.SessionMidday, RiskCapMultiplier: 0.8}},
			wantMode:  domain.RiskModeNormal,
			wantRisk:  0.008,
			wantDailR: 3,
		},
		{
			name:      "closed session",
			in:        SnapshotInput{Enabled: true, DataHealth: healthy, Session: session.Window{Phase: domain.SessionClosed}},
			wantMode:  domain.RiskModeNormal,
			wantRisk:  0,
			wantDailR: 3,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := BuildPermissionSnapshot(tc.in, DefaultSnapshotPolicy())
			assert.Equal(t, tc.wantMode, snap.RiskMode)
			assert.InDelta(t, tc.wantRisk, snap.Caps.RiskPerTrade, 1e-12)
			assert.InDelta(t, tc.wantDailR, snap.Session.RemainingDailyR, 1e-12)
			if tc.wantMode != domain.RiskModeNormal {
				assert.NotEmpty(t, snap.Reasons)
			}
			if tc.wantMode == domain.RiskModeLocked {
				assert.Equal(t, domain.RiskCaps{}, snap.Caps)
			}
		})
	}
}

func TestBuildPermissionSnapshotIsDeterministic(t *testing.T) {
	t.Parallel()

	in := SnapshotInput{
		Enabled:           true,
		Regime:            domain.RegimeVolExpansion,
		DataHealth:        domain.DataHealth{Status: domain.DataHealthDegraded, AgeSeconds: 30},
		RealizedDailyR:    -0.5,
		OpenRiskR:         1,
		ConsecutiveLosses: 1,
		TradesToday:       4,
		Session:           session.Window{Phase: domain.SessionPowerHour, LiquidityScore: 0.85, RiskCapMultiplier: 0.9},
	}
	a := BuildPermissionSnapshot(in, DefaultSnapshotPolicy())
	b := BuildPermissionSnapshot(in, DefaultSnapshotPolicy())
	assert.Equal(t, a, b)
	assert.Equal(t, 4, a.Session.TradesToday)
	assert.Equal(t, domain.RiskModeNormal, a.RiskMode)
}
