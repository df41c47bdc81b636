// Package session maps wall-clock time and asset class to a trading-session
// phase with a liquidity score and a risk-cap multiplier.
package session

import (
	"time"
	_ "time/tzdata"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Window is the session classification of an instant.
type Window struct {
	Phase             domain.SessionPhase `json:"phase"`
	LiquidityScore    float64             `json:"liquidity_score"`
	RiskCapMultiplier float64             `json:"risk_cap_multiplier"`
}

// Closed reports whether no new risk should be taken.
func (w Window) Closed() bool { return w.Phase == domain.SessionClosed }

// span is a half-open [from, to) interval in minutes after local midnight.
type span struct {
	from, to int
	window   Window
}

func hm(h, m int) int { return h*60 + m }

var closed = Window{Phase: domain.SessionClosed}

var equitySpans = []span{
	{hm(4, 0), hm(9, 30), Window{domain.SessionPremarket, 0.35, 0.50}},
	{hm(9, 30), hm(10, 30), Window{domain.SessionOpen, 0.90, 1.00}},
	{hm(10, 30), hm(15, 0), Window{domain.SessionMidday, 0.65, 0.80}},
	{hm(15, 0), hm(16, 0), Window{domain.SessionPowerHour, 0.85, 0.90}},
	{hm(16, 0), hm(20, 0), Window{domain.SessionAfterHours, 0.30, 0.50}},
}

var cryptoSpans = []span{
	{0, hm(9, 30), Window{domain.SessionPremarket, 0.60, 0.80}},
	{hm(9, 30), hm(10, 30), Window{domain.SessionOpen, 0.95, 1.00}},
	{hm(10, 30), hm(15, 0), Window{domain.SessionMidday, 0.75, 0.90}},
	{hm(15, 0), hm(16, 0), Window{domain.SessionPowerHour, 0.85, 0.95}},
	{hm(16, 0), hm(24, 0), Window{domain.SessionAfterHours, 0.50, 0.70}},
}

var forexSpans = []span{
	{0, hm(3, 0), Window{domain.SessionAfterHours, 0.55, 0.70}},
	{hm(3, 0), hm(8, 0), Window{domain.SessionPremarket, 0.85, 0.90}},
	{hm(8, 0), hm(12, 0), Window{domain.SessionOpen, 1.00, 1.00}},
	{hm(12, 0), hm(17, 0), Window{domain.SessionMidday, 0.70, 0.85}},
	{hm(17, 0), hm(24, 0), Window{domain.SessionAfterHours, 0.55, 0.70}},
}

var futuresSpans = []span{
	{0, hm(9, 30), Window{domain.SessionAfterHours, 0.45, 0.65}},
	{hm(9, 30), hm(10, 30), Window{domain.SessionOpen, 0.95, 1.00}},
	{hm(10, 30), hm(15, 0), Window{domain.SessionMidday, 0.70, 0.85}},
	{hm(15, 0), hm(16, 0), Window{domain.SessionPowerHour, 0.85, 0.90}},
	{hm(16, 0), hm(17, 0), Window{domain.SessionAfterHours, 0.45, 0.65}},
	{hm(18, 0), hm(24, 0), Window{domain.SessionAfterHours, 0.45, 0.65}},
}

// Model classifies instants against exchange-local session tables.
type Model struct {
	loc *time.Location
}

// NewModel returns a Model anchored to the named IANA zone. An empty name
// selects America/New_York.
func NewModel(zone string) (*Model, error) {
	if zone == "" {
		zone = "America/New_York"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	return &Model{loc: loc}, nil
}

// Location returns the exchange clock.
func (m *Model) Location() *time.Location { return m.loc }

// Classify returns the session window of t for the given asset class.
func (m *Model) Classify(t time.Time, class domain.AssetClass) Window {
	local := t.In(m.loc)
	minute := local.Hour()*60 + local.Minute()
	wd := local.Weekday()

	switch class {
	case domain.AssetCrypto:
		return lookup(cryptoSpans, minute)
	case domain.AssetForex:
		// Friday 17:00 through Sunday 17:00 local.
		if wd == time.Saturday ||
			(wd == time.Friday && minute >= hm(17, 0)) ||
			(wd == time.Sunday && minute < hm(17, 0)) {
			return closed
		}
		return lookup(forexSpans, minute)
	case domain.AssetFutures:
		if wd == time.Saturday ||
			(wd == time.Friday && minute >= hm(17, 0)) ||
			(wd == time.Sunday && minute < hm(18, 0)) {
			return closed
		}
		return lookup(futuresSpans, minute)
	default:
		if wd == time.Saturday || wd == time.Sunday {
			return closed
		}
		return lookup(equitySpans, minute)
	}
}

// Phase is shorthand for Classify(t, class).Phase.
func (m *Model) Phase(t time.Time, class domain.AssetClass) domain.SessionPhase {
	return m.Classify(t, class).Phase
}

func lookup(spans []span, minute int) Window {
	for _, s := range spans {
		if minute >= s.from && minute < s.to {
			return s.window
		}
	}
	return closed
}
