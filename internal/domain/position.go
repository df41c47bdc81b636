package domain

import "time"

// Position is a paper position tracked by the exit monitor.
type Position struct {
	ID                      string        `json:"id"`
	AccountID               string        `json:"account_id"`
	Symbol                  string        `json:"symbol"`
	SymbolGroup             string        `json:"symbol_group"`
	AssetClass              AssetClass    `json:"asset_class"`
	Direction               Direction     `json:"direction"`
	StrategyTag             StrategyTag   `json:"strategy_tag"`
	EntryPrice              float64       `json:"entry_price"`
	StopPrice               float64       `json:"stop_price"`
	ThesisInvalidationPrice float64       `json:"thesis_invalidation_price"`
	TargetPrices            []float64     `json:"target_prices"`
	Quantity                float64       `json:"quantity"`
	RiskUSD                 float64       `json:"risk_usd"`
	EdgeScoreAtEntry        float64       `json:"edge_score_at_entry"`
	ExpectedWindow          time.Duration `json:"expected_window"`
	Status                  TradeStatus   `json:"status"`
	MaxFavorableR           float64       `json:"max_favorable_r"`
	OpenedAt                time.Time     `json:"opened_at"`
	ClosedAt                *time.Time    `json:"closed_at,omitempty"`
	ExitPrice               *float64      `json:"exit_price,omitempty"`
}

// RiskPerUnit returns |entry - stop|.
func (p Position) RiskPerUnit() float64 {
	d := p.EntryPrice - p.StopPrice
	if d < 0 {
		return -d
	}
	return d
}

// Ref returns the correlation view of the position.
func (p Position) Ref() PositionRef {
	return PositionRef{Symbol: p.Symbol, AssetClass: p.AssetClass, Direction: p.Direction}
}

// AccountState is the account-level input to the snapshot builder and governor.
type AccountState struct {
	AccountID         string
	Enabled           bool
	Equity            Measured
	RealizedDailyR    float64
	RealizedDailyPnL  float64
	OpenRiskUSD       float64
	OpenRiskR         float64
	OpenTrades        int
	TradesToday       int
	ConsecutiveLosses int
	OpenPositions     []PositionRef
	AsOf              time.Time
}

// Portfolio derives exposure percentages from the account state.
func (a AccountState) Portfolio() PortfolioState {
	var p PortfolioState
	p.OpenTrades = a.OpenTrades
	if a.Equity.Value > 0 {
		if a.RealizedDailyPnL < 0 {
			p.DailyLossPct = -a.RealizedDailyPnL / a.Equity.Value
		}
		p.HeatPct = a.OpenRiskUSD / a.Equity.Value
	}
	return p
}

// StoredVerdict is an exit verdict persisted for a position.
type StoredVerdict struct {
	ID          string      `json:"id"`
	PositionID  string      `json:"position_id"`
	Verdict     ExitVerdict `json:"verdict"`
	MarkPrice   float64     `json:"mark_price"`
	UnrealizedR float64     `json:"unrealized_r"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}
