package app

import (
	"strings"

	"github.com/wesso80/marketscannerpros-sub008/internal/config"
	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/risk"
	"github.com/wesso80/marketscannerpros-sub008/internal/service"
)

// riskPolicies translates the [risk] section into the risk service policies.
func riskPolicies(cfg *config.Config) service.RiskPolicies {
	rc := cfg.Risk

	groups := make(risk.CorrelationGroups, len(rc.CorrelationGroups))
	for sym, cluster := range rc.CorrelationGroups {
		groups[strings.ToUpper(strings.TrimSpace(sym))] = cluster
	}

	return service.RiskPolicies{
		Enabled:     rc.Enabled,
		AccountID:   cfg.AccountID,
		SnapshotTTL: rc.SnapshotTTL.Duration,
		Snapshot: risk.SnapshotPolicy{
			Caps: domain.RiskCaps{
				RiskPerTrade:    rc.RiskPerTrade,
				MaxPositionSize: rc.MaxPositionSize,
				MaxDailyR:       rc.MaxDailyR,
				MaxTradesPerDay: rc.MaxTradesPerDay,
			},
			StaleAfterSeconds:       rc.StaleAfter.Seconds(),
			ConsecutiveLossThrottle: rc.ConsecutiveLossThrottle,
			DailyLossThrottleR:      rc.DailyLossThrottleR,
			ThrottleFactor:          rc.ThrottleFactor,
		},
		Governor: risk.GovernorPolicy{
			MaxDailyLossPct:       rc.MaxDailyLossPct,
			MaxHeatPct:            rc.MaxHeatPct,
			MaxOpenTrades:         rc.MaxOpenTrades,
			CorrelationThreshold:  rc.CorrelationThreshold,
			ConfidenceFloors:      rc.ConfidenceFloors,
			RejectEstimatedInputs: rc.RejectEstimatedInputs,
			MinRR:                 rc.MinRR,
			CorrelationGroups:     groups,
		},
		ExitPlan: risk.ExitPlanPolicy{
			MinRR:              rc.MinRR,
			RejectEstimatedATR: rc.RejectEstimatedInputs,
			StopMultipliers:    rc.StopMultipliers,
		},
		Leverage: risk.LeveragePolicy{
			Caps: rc.LeverageCaps,
		},
	}
}

func exitSettings(cfg *config.Config) service.ExitSettings {
	return service.ExitSettings{
		Interval:      cfg.Exit.MonitorInterval.Duration,
		QuoteMaxAge:   cfg.Exit.QuoteMaxAge.Duration,
		DefaultPolicy: cfg.Exit.Policy,
	}
}

func evolutionSettings(cfg *config.Config) service.EvolutionSettings {
	ec := cfg.Evolution
	return service.EvolutionSettings{
		Groups:       ec.Groups,
		Parallelism:  ec.Parallelism,
		GroupTimeout: ec.GroupTimeout.Duration,
		LockTTL:      ec.LockTTL.Duration,
		MaxSamples:   ec.MaxSamples,
		PageSize:     ec.PageSize,
		Calibration:  ec.Calibration,

		RefreshInterval: ec.ParamRefresh.Duration,
	}
}
