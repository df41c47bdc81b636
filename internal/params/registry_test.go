package params

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

func TestRegistryDefaults(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	p, ok := r.Get("crypto-majors")
	assert.False(t, ok)
	assert.Equal(t, domain.DefaultParameterSet("crypto-majors"), p)
	assert.Empty(t, r.Groups())
}

func TestRegistryPublishIsolatesCallers(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	p := domain.DefaultParameterSet("fx")
	p.Version = 3
	p.TriggerSensitivities["BREAKOUT"] = 1.2
	require.True(t, r.Publish(p))

	// Mutating the caller's copy must not leak into the registry.
	p.TriggerSensitivities["BREAKOUT"] = 0.1
	got, ok := r.Get("fx")
	require.True(t, ok)
	assert.Equal(t, 1.2, got.TriggerSensitivities["BREAKOUT"])

	got.TriggerSensitivities["BREAKOUT"] = 0.2
	again, _ := r.Get("fx")
	assert.Equal(t, 1.2, again.TriggerSensitivities["BREAKOUT"])
}

func TestRegistryRejectsOlderVersion(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	p := domain.DefaultParameterSet("fx")
	p.Version = 5
	require.True(t, r.Publish(p))

	stale := domain.DefaultParameterSet("fx")
	stale.Version = 4
	stale.ArmedThreshold = 0.6
	assert.False(t, r.Publish(stale))

	got, _ := r.Get("fx")
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, 0.70, got.ArmedThreshold)
}

func TestRegistryConcurrentReaders(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			p := domain.DefaultParameterSet(fmt.Sprintf("g%d", i))
			p.Version = int64(i)
			r.Publish(p)
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p, _ := r.Get("g1")
				assert.InDelta(t, 1.0, p.Weights.Sum(), 1e-9)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, r.Groups(), 8)
}
