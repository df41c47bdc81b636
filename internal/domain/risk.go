package domain

import (
	"math"
	"time"
)

// Measured is a numeric input with its provenance.
type Measured struct {
	Value      float64    `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// Observed wraps an observed value.
func Observed(v float64) Measured { return Measured{Value: v, Provenance: ProvenanceObserved} }

// Estimated wraps an estimated value.
func Estimated(v float64) Measured { return Measured{Value: v, Provenance: ProvenanceEstimated} }

// Missing reports whether no value is available.
func (m Measured) Missing() bool {
	return m.Provenance == ProvenanceMissing || (m.Provenance == "" && m.Value == 0)
}

// IsEstimated reports whether the value was estimated rather than observed.
func (m Measured) IsEstimated() bool { return m.Provenance == ProvenanceEstimated }

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// RiskCaps are the per-trade and per-day limits granted by a snapshot.
type RiskCaps struct {
	RiskPerTrade    float64 `json:"risk_per_trade"`
	MaxPositionSize float64 `json:"max_position_size"`
	MaxDailyR       float64 `json:"max_daily_r"`
	MaxTradesPerDay int     `json:"max_trades_per_day"`
}

// DataHealth describes the market-data provider at snapshot time.
type DataHealth struct {
	Status     DataHealthStatus `json:"status"`
	AgeSeconds float64          `json:"age_seconds"`
}

// SessionState is the intraday budget state carried by a snapshot.
type SessionState struct {
	RemainingDailyR float64      `json:"remaining_daily_r"`
	TradesToday     int          `json:"trades_today"`
	Phase           SessionPhase `json:"phase"`
	LiquidityScore  float64      `json:"liquidity_score"`
}

// PermissionSnapshot is an immutable summary of what the account may do right
// now. It is rebuilt per request.
type PermissionSnapshot struct {
	RiskMode   RiskMode     `json:"risk_mode"`
	Caps       RiskCaps     `json:"caps"`
	DataHealth DataHealth   `json:"data_health"`
	Session    SessionState `json:"session"`
	Regime     Regime       `json:"regime"`
	Reasons    []string     `json:"reasons,omitempty"`
	AsOf       time.Time    `json:"as_of"`
}

// PositionRef is the minimal view of an open position the governor needs for
// correlation checks.
type PositionRef struct {
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
	Direction  Direction  `json:"direction"`
}

// TradeIntent is a proposed trade awaiting a governance decision.
type TradeIntent struct {
	Symbol         string        `json:"symbol"`
	SymbolGroup    string        `json:"symbol_group"`
	AssetClass     AssetClass    `json:"asset_class"`
	Direction      Direction     `json:"direction"`
	StrategyTag    StrategyTag   `json:"strategy_tag"`
	Trigger        string        `json:"trigger,omitempty"`
	TransitionPath string        `json:"transition_path,omitempty"`
	Confidence     float64       `json:"confidence"`
	EntryPrice     float64       `json:"entry_price"`
	ATR            Measured      `json:"atr"`
	AccountEquity  Measured      `json:"account_equity"`
	Regime         Regime        `json:"regime"`
	EventRisk      EventRisk     `json:"event_risk"`
	SetupQuality   *float64      `json:"setup_quality,omitempty"`
	OpenPositions  []PositionRef `json:"open_positions,omitempty"`
}

// Validate checks the intent at the boundary. Business rules are not applied
// here.
func (t TradeIntent) Validate() error {
	switch {
	case t.Symbol == "":
		return Invalid("symbol", "must not be empty")
	case t.Direction != DirectionLong && t.Direction != DirectionShort:
		return Invalid("direction", "must be LONG or SHORT, got %q", t.Direction)
	case !Finite(t.EntryPrice) || t.EntryPrice <= 0:
		return Invalid("entry_price", "must be a positive finite number")
	case !Finite(t.Confidence) || t.Confidence < 1 || t.Confidence > 99:
		return Invalid("confidence", "must be within 1-99, got %v", t.Confidence)
	case !Finite(t.AccountEquity.Value) || t.AccountEquity.Value <= 0:
		return Invalid("account_equity", "must be a positive finite number")
	case !Finite(t.ATR.Value) || t.ATR.Value < 0:
		return Invalid("atr", "must be a non-negative finite number")
	}
	if t.SetupQuality != nil && (!Finite(*t.SetupQuality) || *t.SetupQuality < 0 || *t.SetupQuality > 1) {
		return Invalid("setup_quality", "must be within 0-1")
	}
	return nil
}

// ExitPlan is the deterministic stop/target/time plan for a trade.
type ExitPlan struct {
	StopPrice       float64   `json:"stop_price"`
	TakeProfit1     float64   `json:"take_profit_1"`
	TakeProfit2     *float64  `json:"take_profit_2,omitempty"`
	RRAtTP1         float64   `json:"rr_at_tp1"`
	TrailRule       TrailRule `json:"trail_rule"`
	TimeStopMinutes int       `json:"time_stop_minutes"`
	StopDistance    float64   `json:"stop_distance"`
}

// CheckAgainst verifies the plan invariants for the given entry and side.
func (p ExitPlan) CheckAgainst(entry float64, dir Direction, minRR float64) error {
	switch {
	case !Finite(p.StopPrice) || p.StopPrice <= 0:
		return Invalid("stop_price", "must be a positive finite number")
	case !Finite(p.TakeProfit1) || p.TakeProfit1 <= 0:
		return Invalid("take_profit_1", "must be a positive finite number")
	}
	s := dir.Sign()
	if (entry-p.StopPrice)*s <= 0 {
		return Invalid("stop_price", "must be on the loss side of entry")
	}
	if (p.TakeProfit1-entry)*s <= 0 {
		return Invalid("take_profit_1", "must be on the profit side of entry")
	}
	rr := math.Abs(p.TakeProfit1-entry) / math.Abs(entry-p.StopPrice)
	if rr < minRR-1e-9 {
		return Invalid("rr_at_tp1", "%.3f is below minimum %.2f", rr, minRR)
	}
	return nil
}

// SizingCap records which limit bound the final quantity.
type SizingCap string

const (
	CapNone        SizingCap = "NONE"
	CapNotional    SizingCap = "NOTIONAL"
	CapCapacity    SizingCap = "CAPACITY"
	CapMinQuantity SizingCap = "MIN_QUANTITY"
)

// PositionSizing is the computed quantity and its risk footprint.
type PositionSizing struct {
	Quantity     float64   `json:"quantity"`
	TotalRiskUSD float64   `json:"total_risk_usd"`
	RiskPct      float64   `json:"risk_pct"`
	NotionalUSD  float64   `json:"notional_usd"`
	MarginUSD    float64   `json:"margin_usd"`
	CappedBy     SizingCap `json:"capped_by"`
}

// LeverageResult is the recommended leverage for a candidate.
type LeverageResult struct {
	Recommended float64  `json:"recommended_leverage"`
	MaxAllowed  float64  `json:"max_allowed"`
	ATRPct      float64  `json:"atr_pct"`
	Reasons     []string `json:"reasons,omitempty"`
}

// PortfolioState is the account-level exposure at evaluation time.
type PortfolioState struct {
	DailyLossPct float64 `json:"daily_loss_pct"`
	HeatPct      float64 `json:"heat_pct"`
	OpenTrades   int     `json:"open_trades"`
}

// Governor reason codes.
const (
	ReasonAllowed                  = "ALLOWED"
	ReasonRiskThrottled            = "RISK_THROTTLED"
	ReasonEstimatedATR             = "ESTIMATED_ATR"
	ReasonMissingSnapshot          = "MISSING_SNAPSHOT"
	ReasonRiskModeLocked           = "RISK_MODE_LOCKED"
	ReasonInvalidInput             = "INVALID_INPUT"
	ReasonInvalidExitPlan          = "INVALID_EXIT_PLAN"
	ReasonEstimatedInput           = "ESTIMATED_INPUT"
	ReasonDailyLossCap             = "DAILY_LOSS_CAP"
	ReasonPortfolioHeatCap         = "PORTFOLIO_HEAT_CAP"
	ReasonMaxOpenTrades            = "MAX_OPEN_TRADES"
	ReasonDailyTradeLimit          = "DAILY_TRADE_LIMIT"
	ReasonNoRiskCapacity           = "NO_RISK_CAPACITY"
	ReasonCorrelationConcentration = "CORRELATION_CONCENTRATION"
	ReasonConfidenceBelowFloor     = "CONFIDENCE_BELOW_FLOOR"
	ReasonBelowArmedThreshold      = "BELOW_ARMED_THRESHOLD"
	ReasonEventRisk                = "EVENT_RISK"
)

// GovernorDecision is the verdict on a candidate trade. A block is a decision,
// not an error.
type GovernorDecision struct {
	Allowed              bool     `json:"allowed"`
	RiskMode             RiskMode `json:"risk_mode"`
	RiskPerTrade         float64  `json:"risk_per_trade"`
	MaxPositionSize      float64  `json:"max_position_size"`
	RemainingCapacityPct float64  `json:"remaining_capacity_pct"`
	ReasonCodes          []string `json:"reason_codes"`
}

// PrimaryReason returns the first reason code, or "".
func (d GovernorDecision) PrimaryReason() string {
	if len(d.ReasonCodes) == 0 {
		return ""
	}
	return d.ReasonCodes[0]
}
