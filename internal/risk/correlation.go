package risk

import (
	"strings"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// CorrelationGroups maps an upper-case symbol to its correlation cluster.
type CorrelationGroups map[string]string

// Concentration scores how much same-direction exposure the candidate adds
// to: 1.0 per same symbol, 0.7 per same cluster, 0.4 per same asset class.
func Concentration(intent domain.TradeIntent, open []domain.PositionRef, groups CorrelationGroups) float64 {
	sym := strings.ToUpper(intent.Symbol)
	cluster := groups[sym]
	var score float64
	for _, p := range open {
		if p.Direction != intent.Direction {
			continue
		}
		other := strings.ToUpper(p.Symbol)
		switch {
		case other == sym:
			score += 1.0
		case cluster != "" && groups[other] == cluster:
			score += 0.7
		case p.AssetClass == intent.AssetClass:
			score += 0.4
		}
	}
	return score
}
