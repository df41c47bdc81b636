package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// setIfNewerLua writes the parameter set only when its version is not older
// than the stored one, so a slow publisher cannot roll a group back.
const setIfNewerLua = `
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
return 1
`

// ParameterCache implements domain.ParameterCache so every process serves
// the same adaptive parameters.
//
// Key schema:
//
//	params:{group} - hash: version, data (JSON ParameterSet)
type ParameterCache struct {
	rdb        *redis.Client
	setIfNewer *redis.Script
}

// NewParameterCache creates a ParameterCache backed by the given Client.
func NewParameterCache(c *Client) *ParameterCache {
	return &ParameterCache{rdb: c.Underlying(), setIfNewer: redis.NewScript(setIfNewerLua)}
}

func paramsKey(group string) string { return "params:" + group }

// Set publishes p unless a newer version is already stored.
func (pc *ParameterCache) Set(ctx context.Context, p domain.ParameterSet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal params %s: %w", p.SymbolGroup, err)
	}
	err = pc.setIfNewer.Run(ctx, pc.rdb, []string{paramsKey(p.SymbolGroup)}, p.Version, data).Err()
	if err != nil {
		return fmt.Errorf("redis: set params %s: %w", p.SymbolGroup, err)
	}
	return nil
}

// Get returns the mirrored set for group, or domain.ErrNotFound.
func (pc *ParameterCache) Get(ctx context.Context, group string) (domain.ParameterSet, error) {
	data, err := pc.rdb.HGet(ctx, paramsKey(group), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ParameterSet{}, domain.ErrNotFound
		}
		return domain.ParameterSet{}, fmt.Errorf("redis: get params %s: %w", group, err)
	}
	var p domain.ParameterSet
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ParameterSet{}, fmt.Errorf("redis: unmarshal params %s: %w", group, err)
	}
	if p.TriggerSensitivities == nil {
		p.TriggerSensitivities = map[string]float64{}
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.ParameterCache = (*ParameterCache)(nil)
