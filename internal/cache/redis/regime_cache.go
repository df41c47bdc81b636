package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// RegimeCache implements domain.RegimeClassifier over readings published by
// the scanner's classifier.
//
// Key schema:
//
//	regime:{symbol} - JSON RegimeReading
type RegimeCache struct {
	rdb *redis.Client
}

// NewRegimeCache creates a RegimeCache backed by the given Client.
func NewRegimeCache(c *Client) *RegimeCache {
	return &RegimeCache{rdb: c.Underlying()}
}

func regimeKey(symbol string) string { return "regime:" + symbol }

// Set stores the latest reading for its symbol.
func (rc *RegimeCache) Set(ctx context.Context, r domain.RegimeReading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal regime %s: %w", r.Symbol, err)
	}
	if err := rc.rdb.Set(ctx, regimeKey(r.Symbol), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set regime %s: %w", r.Symbol, err)
	}
	return nil
}

// Reading returns the latest reading for symbol, or domain.ErrNotFound. Labels
// are canonicalised so an unknown regime reads as UNKNOWN.
func (rc *RegimeCache) Reading(ctx context.Context, symbol string) (domain.RegimeReading, error) {
	data, err := rc.rdb.Get(ctx, regimeKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RegimeReading{}, domain.ErrNotFound
		}
		return domain.RegimeReading{}, fmt.Errorf("redis: get regime %s: %w", symbol, err)
	}
	return decodeRegime(symbol, data)
}

func decodeRegime(symbol string, data []byte) (domain.RegimeReading, error) {
	var r domain.RegimeReading
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.RegimeReading{}, fmt.Errorf("redis: unmarshal regime %s: %w", symbol, err)
	}
	r.Symbol = symbol
	r.Regime = domain.ParseRegime(string(r.Regime))
	r.Momentum = domain.ParseMomentumState(string(r.Momentum))
	r.Structure = domain.ParseStructureState(string(r.Structure))
	return r, nil
}

// Compile-time interface check.
var _ domain.RegimeClassifier = (*RegimeCache)(nil)
