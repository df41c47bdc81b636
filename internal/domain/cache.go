package domain

import (
	"context"
	"time"
)

// MarketDataProvider supplies price and volatility. A missing ATR is reported
// as ErrNoVolatilityData.
type MarketDataProvider interface {
	Quote(ctx context.Context, symbol string) (MarketQuote, error)
	Health(ctx context.Context) (ProviderHealth, error)
}

// RegimeClassifier supplies the latest regime reading for a symbol.
type RegimeClassifier interface {
	Reading(ctx context.Context, symbol string) (RegimeReading, error)
}

// SnapshotCache holds recently built permission snapshots.
type SnapshotCache interface {
	Get(ctx context.Context, accountID string) (PermissionSnapshot, error)
	Set(ctx context.Context, accountID string, snap PermissionSnapshot, ttl time.Duration) error
}

// ParameterCache mirrors published parameter sets for other processes.
type ParameterCache interface {
	Get(ctx context.Context, symbolGroup string) (ParameterSet, error)
	Set(ctx context.Context, params ParameterSet) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus fans events out to live subscribers and keeps a short backlog
// per channel for late joiners.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	// Recent returns up to n of the latest payloads on channel, oldest first.
	Recent(ctx context.Context, channel string, n int) ([][]byte, error)
}

// EventPublisher delivers events to an external log such as Kafka.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}
