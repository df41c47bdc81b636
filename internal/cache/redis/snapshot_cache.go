package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache with JSON values and a
// caller-supplied TTL.
//
// Key schema:
//
//	snapshot:{accountID} - JSON PermissionSnapshot
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

func snapshotKey(accountID string) string { return "snapshot:" + accountID }

// Set stores snap for ttl. A non-positive ttl is rejected so a snapshot can
// never outlive its inputs indefinitely.
func (sc *SnapshotCache) Set(ctx context.Context, accountID string, snap domain.PermissionSnapshot, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis: set snapshot %s: ttl must be positive", accountID)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", accountID, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(accountID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", accountID, err)
	}
	return nil
}

// Get returns the cached snapshot, or domain.ErrNotFound once it expired.
func (sc *SnapshotCache) Get(ctx context.Context, accountID string) (domain.PermissionSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PermissionSnapshot{}, domain.ErrNotFound
		}
		return domain.PermissionSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", accountID, err)
	}
	var snap domain.PermissionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PermissionSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", accountID, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
