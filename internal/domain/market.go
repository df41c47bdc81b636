package domain

import "time"

// MarketQuote is the latest price and volatility reading for a symbol.
type MarketQuote struct {
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
	Price      float64    `json:"price"`
	ATR        Measured   `json:"atr"`
	AsOf       time.Time  `json:"as_of"`
}

// Age returns how old the quote is at now.
func (q MarketQuote) Age(now time.Time) time.Duration {
	if q.AsOf.IsZero() {
		return 0
	}
	return now.Sub(q.AsOf)
}

// RegimeReading is the classifier output for a symbol.
type RegimeReading struct {
	Symbol    string         `json:"symbol"`
	Regime    Regime         `json:"regime"`
	EdgeScore float64        `json:"edge_score"`
	Momentum  MomentumState  `json:"momentum_state"`
	Structure StructureState `json:"structure_state"`
	EventRisk EventRisk      `json:"event_risk"`
	AsOf      time.Time      `json:"as_of"`
}

// ProviderHealth is the market-data provider heartbeat.
type ProviderHealth struct {
	Status   DataHealthStatus `json:"status"`
	LastSeen time.Time        `json:"last_seen"`
}
