package domain

import (
	"fmt"
	"strings"
)

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// AssetClass groups instruments that share session hours, tick sizes and
// leverage caps.
type AssetClass string

const (
	AssetEquity  AssetClass = "EQUITY"
	AssetCrypto  AssetClass = "CRYPTO"
	AssetForex   AssetClass = "FOREX"
	AssetFutures AssetClass = "FUTURES"
)

// Regime is the market-state classification of an instrument.
type Regime string

const (
	RegimeTrendUp        Regime = "TREND_UP"
	RegimeTrendDown      Regime = "TREND_DOWN"
	RegimeRangeNeutral   Regime = "RANGE_NEUTRAL"
	RegimeVolExpansion   Regime = "VOL_EXPANSION"
	RegimeVolContraction Regime = "VOL_CONTRACTION"
	RegimeRiskOffStress  Regime = "RISK_OFF_STRESS"
	RegimeUnknown        Regime = "UNKNOWN"
)

// IsTrend reports whether the regime is a directional trend.
func (r Regime) IsTrend() bool {
	return r == RegimeTrendUp || r == RegimeTrendDown
}

// StrategyTag labels the setup family a trade belongs to.
type StrategyTag string

const (
	StrategyTrendPullback        StrategyTag = "TREND_PULLBACK"
	StrategyBreakoutContinuation StrategyTag = "BREAKOUT_CONTINUATION"
	StrategyMomentumContinuation StrategyTag = "MOMENTUM_CONTINUATION"
	StrategyMeanReversion        StrategyTag = "MEAN_REVERSION"
	StrategyRangeFade            StrategyTag = "RANGE_FADE"
	StrategyEventDriven          StrategyTag = "EVENT_DRIVEN"
	StrategyUnknown              StrategyTag = "UNKNOWN"
)

// IsTrendFollowing reports whether the strategy trades with the prevailing move.
func (s StrategyTag) IsTrendFollowing() bool {
	switch s {
	case StrategyTrendPullback, StrategyBreakoutContinuation, StrategyMomentumContinuation:
		return true
	}
	return false
}

// IsCounterTrend reports whether the strategy fades moves back to a mean.
func (s StrategyTag) IsCounterTrend() bool {
	return s == StrategyMeanReversion || s == StrategyRangeFade
}

// RiskMode is the coarse permission state of the account.
type RiskMode string

const (
	RiskModeNormal    RiskMode = "NORMAL"
	RiskModeThrottled RiskMode = "THROTTLED"
	RiskModeLocked    RiskMode = "LOCKED"
)

// DataHealthStatus reports the state of the market-data provider.
type DataHealthStatus string

const (
	DataHealthOK       DataHealthStatus = "OK"
	DataHealthDegraded DataHealthStatus = "DEGRADED"
	DataHealthStale    DataHealthStatus = "STALE"
	DataHealthDown     DataHealthStatus = "DOWN"
)

// TrailRule selects how the stop follows price once a trade is in profit.
type TrailRule string

const (
	TrailNone      TrailRule = "NONE"
	TrailStructure TrailRule = "STRUCTURE"
	TrailATR       TrailRule = "ATR"
	TrailBreakeven TrailRule = "BREAKEVEN"
)

// ExitAction is the verdict of the exit evaluator.
type ExitAction string

const (
	ExitHold  ExitAction = "HOLD"
	ExitScale ExitAction = "SCALE"
	ExitTrail ExitAction = "TRAIL"
	ExitClose ExitAction = "CLOSE"
)

// Outcome labels a closed trade for learning.
type Outcome string

const (
	OutcomeWin             Outcome = "WIN"
	OutcomeLoss            Outcome = "LOSS"
	OutcomeScratch         Outcome = "SCRATCH"
	OutcomeLateEntry       Outcome = "LATE_ENTRY"
	OutcomeEarlyExit       Outcome = "EARLY_EXIT"
	OutcomeForcedTrade     Outcome = "FORCED_TRADE"
	OutcomeNoFollowThrough Outcome = "NO_FOLLOW_THROUGH"
)

// IsLossLike reports whether the outcome counts against a setup when measuring
// predictive power.
func (o Outcome) IsLossLike() bool {
	switch o {
	case OutcomeLoss, OutcomeNoFollowThrough, OutcomeForcedTrade:
		return true
	}
	return false
}

// SessionPhase is the time-of-day bucket of a trading session.
type SessionPhase string

const (
	SessionPremarket  SessionPhase = "PREMARKET"
	SessionOpen       SessionPhase = "OPEN"
	SessionMidday     SessionPhase = "MIDDAY"
	SessionPowerHour  SessionPhase = "POWER_HOUR"
	SessionAfterHours SessionPhase = "AFTER_HOURS"
	SessionClosed     SessionPhase = "CLOSED"
)

// Cadence selects the magnitude of an evolution cycle.
type Cadence string

const (
	CadenceIntraday Cadence = "INTRADAY"
	CadenceDaily    Cadence = "DAILY"
	CadenceWeekly   Cadence = "WEEKLY"
	CadenceMonthly  Cadence = "MONTHLY"
)

// EventRisk is the severity of scheduled or breaking event exposure.
type EventRisk int

const (
	EventRiskNone EventRisk = iota
	EventRiskLow
	EventRiskMedium
	EventRiskHigh
	EventRiskCritical
)

var eventRiskNames = [...]string{"NONE", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (e EventRisk) String() string {
	if e < EventRiskNone || e > EventRiskCritical {
		return fmt.Sprintf("EventRisk(%d)", int(e))
	}
	return eventRiskNames[e]
}

// MarshalText encodes the severity by name.
func (e EventRisk) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText accepts a severity name.
func (e *EventRisk) UnmarshalText(text []byte) error {
	v, err := ParseEventRisk(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// MomentumState describes the short-term momentum of price relative to the trade.
type MomentumState string

const (
	MomentumAccelerating MomentumState = "ACCELERATING"
	MomentumSteady       MomentumState = "STEADY"
	MomentumDecelerating MomentumState = "DECELERATING"
	MomentumReversing    MomentumState = "REVERSING"
)

// StructureState describes the market structure supporting the trade thesis.
type StructureState string

const (
	StructureIntact    StructureState = "INTACT"
	StructureWeakening StructureState = "WEAKENING"
	StructureBroken    StructureState = "BROKEN"
)

// Provenance records whether a measured input was observed or estimated.
type Provenance string

const (
	ProvenanceObserved  Provenance = "OBSERVED"
	ProvenanceEstimated Provenance = "ESTIMATED"
	ProvenanceMissing   Provenance = "MISSING"
)

// ---------------------------------------------------------------------------
// Canonicalisation. All free-form labels coming from requests, records or
// caches pass through these functions exactly once.
// ---------------------------------------------------------------------------

func canon(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

// ParseDirection canonicalises a trade side. "BUY" and "SELL" are accepted.
func ParseDirection(s string) (Direction, error) {
	switch canon(s) {
	case "LONG", "BUY":
		return DirectionLong, nil
	case "SHORT", "SELL":
		return DirectionShort, nil
	}
	return "", fmt.Errorf("domain: unknown direction %q", s)
}

// ParseAssetClass canonicalises an asset class label.
func ParseAssetClass(s string) (AssetClass, error) {
	switch canon(s) {
	case "EQUITY", "EQUITIES", "STOCK", "STOCKS", "ETF":
		return AssetEquity, nil
	case "CRYPTO", "CRYPTOCURRENCY":
		return AssetCrypto, nil
	case "FOREX", "FX":
		return AssetForex, nil
	case "FUTURES", "FUTURE":
		return AssetFutures, nil
	}
	return "", fmt.Errorf("domain: unknown asset class %q", s)
}

// ParseRegime canonicalises a regime label. Unrecognised labels map to
// RegimeUnknown so downstream consumers apply their most conservative branch.
func ParseRegime(s string) Regime {
	switch canon(s) {
	case "TREND_UP", "TRENDING_UP", "UPTREND", "BULL":
		return RegimeTrendUp
	case "TREND_DOWN", "TRENDING_DOWN", "DOWNTREND", "BEAR":
		return RegimeTrendDown
	case "RANGE_NEUTRAL", "RANGE", "RANGING", "NEUTRAL", "CHOP":
		return RegimeRangeNeutral
	case "VOL_EXPANSION", "EXPANSION", "HIGH_VOL":
		return RegimeVolExpansion
	case "VOL_CONTRACTION", "CONTRACTION", "COMPRESSION", "LOW_VOL":
		return RegimeVolContraction
	case "RISK_OFF_STRESS", "RISK_OFF", "STRESS":
		return RegimeRiskOffStress
	}
	return RegimeUnknown
}

// ParseStrategyTag canonicalises a strategy label. Unrecognised labels map to
// StrategyUnknown.
func ParseStrategyTag(s string) StrategyTag {
	switch canon(s) {
	case "TREND_PULLBACK", "PULLBACK":
		return StrategyTrendPullback
	case "BREAKOUT_CONTINUATION", "BREAKOUT":
		return StrategyBreakoutContinuation
	case "MOMENTUM_CONTINUATION", "MOMENTUM":
		return StrategyMomentumContinuation
	case "MEAN_REVERSION", "REVERSION":
		return StrategyMeanReversion
	case "RANGE_FADE", "FADE":
		return StrategyRangeFade
	case "EVENT_DRIVEN", "EVENT", "EVENT_STRATEGY":
		return StrategyEventDriven
	}
	return StrategyUnknown
}

// ParseOutcome canonicalises an outcome label.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(canon(s)); o {
	case OutcomeWin, OutcomeLoss, OutcomeScratch, OutcomeLateEntry,
		OutcomeEarlyExit, OutcomeForcedTrade, OutcomeNoFollowThrough:
		return o, nil
	}
	return "", fmt.Errorf("domain: unknown outcome %q", s)
}

// ParseSessionPhase canonicalises a session bucket label.
func ParseSessionPhase(s string) (SessionPhase, error) {
	switch p := SessionPhase(canon(s)); p {
	case SessionPremarket, SessionOpen, SessionMidday, SessionPowerHour,
		SessionAfterHours, SessionClosed:
		return p, nil
	}
	return "", fmt.Errorf("domain: unknown session phase %q", s)
}

// ParseCadence canonicalises an evolution cadence.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(canon(s)); c {
	case CadenceIntraday, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return c, nil
	}
	return "", fmt.Errorf("domain: unknown cadence %q", s)
}

// ParseEventRisk canonicalises an event-risk severity.
func ParseEventRisk(s string) (EventRisk, error) {
	c := canon(s)
	if c == "" {
		return EventRiskNone, nil
	}
	for i, name := range eventRiskNames {
		if name == c {
			return EventRisk(i), nil
		}
	}
	return EventRiskNone, fmt.Errorf("domain: unknown event risk %q", s)
}

// ParseMomentumState canonicalises a momentum label; unknown labels are STEADY.
func ParseMomentumState(s string) MomentumState {
	switch m := MomentumState(canon(s)); m {
	case MomentumAccelerating, MomentumDecelerating, MomentumReversing:
		return m
	}
	return MomentumSteady
}

// ParseStructureState canonicalises a structure label; unknown labels are INTACT.
func ParseStructureState(s string) StructureState {
	switch st := StructureState(canon(s)); st {
	case StructureWeakening, StructureBroken:
		return st
	}
	return StructureIntact
}
