package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// QuoteCache implements domain.MarketDataProvider over quotes written to
// Redis by the market scanner.
//
// Key schema:
//
//	quote:{symbol}      - hash: price, atr, atr_src, asset_class, ts (unix nanos)
//	provider:heartbeat  - hash: status, ts (unix nanos)
type QuoteCache struct {
	rdb *redis.Client
	now func() time.Time
	// heartbeatMaxAge demotes an OK heartbeat to STALE once it is older.
	heartbeatMaxAge time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client, heartbeatMaxAge time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), now: time.Now, heartbeatMaxAge: heartbeatMaxAge}
}

const heartbeatKey = "provider:heartbeat"

func quoteKey(symbol string) string { return "quote:" + symbol }

// SetQuote stores the latest quote for a symbol. A missing ATR is stored as
// an absent field.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.MarketQuote) error {
	fields := map[string]interface{}{
		"price":       strconv.FormatFloat(q.Price, 'f', -1, 64),
		"asset_class": string(q.AssetClass),
		"ts":          strconv.FormatInt(q.AsOf.UnixNano(), 10),
	}
	key := quoteKey(q.Symbol)
	pipe := qc.rdb.TxPipeline()
	pipe.HDel(ctx, key, "atr", "atr_src")
	if !q.ATR.Missing() {
		fields["atr"] = strconv.FormatFloat(q.ATR.Value, 'f', -1, 64)
		fields["atr_src"] = string(q.ATR.Provenance)
	}
	pipe.HSet(ctx, key, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// Quote returns the latest quote for symbol. An unknown symbol yields
// domain.ErrDataUnavailable. When the quote has no usable ATR the quote is
// still returned, together with domain.ErrNoVolatilityData, so callers that
// only need the price can proceed.
func (qc *QuoteCache) Quote(ctx context.Context, symbol string) (domain.MarketQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.MarketQuote{}, fmt.Errorf("redis: quote %s: %w", symbol, domain.ErrDataUnavailable)
	}
	q, err := parseQuote(symbol, vals)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse quote %s: %w", symbol, err)
	}
	if q.ATR.Missing() {
		return q, fmt.Errorf("redis: quote %s: %w", symbol, domain.ErrNoVolatilityData)
	}
	return q, nil
}

func parseQuote(symbol string, vals map[string]string) (domain.MarketQuote, error) {
	q := domain.MarketQuote{Symbol: symbol}
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil || !domain.Finite(price) || price <= 0 {
		return q, fmt.Errorf("price %q", vals["price"])
	}
	q.Price = price

	if ac := vals["asset_class"]; ac != "" {
		if q.AssetClass, err = domain.ParseAssetClass(ac); err != nil {
			return q, err
		}
	}
	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil && ts > 0 {
		q.AsOf = time.Unix(0, ts).UTC()
	}

	q.ATR = domain.Measured{Provenance: domain.ProvenanceMissing}
	if raw, ok := vals["atr"]; ok {
		atr, err := strconv.ParseFloat(raw, 64)
		if err == nil && domain.Finite(atr) && atr > 0 {
			q.ATR = domain.Observed(atr)
			if vals["atr_src"] == string(domain.ProvenanceEstimated) {
				q.ATR = domain.Estimated(atr)
			}
		}
	}
	return q, nil
}

// SetHeartbeat records the provider status.
func (qc *QuoteCache) SetHeartbeat(ctx context.Context, status domain.DataHealthStatus, at time.Time) error {
	err := qc.rdb.HSet(ctx, heartbeatKey, map[string]interface{}{
		"status": string(status),
		"ts":     strconv.FormatInt(at.UnixNano(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: set heartbeat: %w", err)
	}
	return nil
}

// Health returns the provider heartbeat. A missing heartbeat reads as DOWN and
// an old one as STALE; neither is an error.
func (qc *QuoteCache) Health(ctx context.Context) (domain.ProviderHealth, error) {
	vals, err := qc.rdb.HGetAll(ctx, heartbeatKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.ProviderHealth{}, fmt.Errorf("redis: get heartbeat: %w", err)
	}
	return heartbeatHealth(vals, qc.now(), qc.heartbeatMaxAge), nil
}

func heartbeatHealth(vals map[string]string, now time.Time, maxAge time.Duration) domain.ProviderHealth {
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if len(vals) == 0 || err != nil || ts <= 0 {
		return domain.ProviderHealth{Status: domain.DataHealthDown}
	}
	h := domain.ProviderHealth{
		Status:   domain.DataHealthStatus(vals["status"]),
		LastSeen: time.Unix(0, ts).UTC(),
	}
	switch h.Status {
	case domain.DataHealthOK, domain.DataHealthDegraded, domain.DataHealthStale, domain.DataHealthDown:
	default:
		h.Status = domain.DataHealthDegraded
	}
	if maxAge > 0 && now.Sub(h.LastSeen) > maxAge && h.Status != domain.DataHealthDown {
		h.Status = domain.DataHealthStale
	}
	return h
}

// Compile-time interface check.
var _ domain.MarketDataProvider = (*QuoteCache)(nil)
