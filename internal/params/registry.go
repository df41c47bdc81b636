// Package params holds the live adaptive parameter sets, one per symbol
// group. Readers take lock-free snapshots; publishers swap whole maps.
package params

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

type snapshot map[string]domain.ParameterSet

// Registry is a copy-on-write map of published parameter sets.
type Registry struct {
	mu      sync.Mutex // serialises publishers
	current atomic.Pointer[snapshot]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := snapshot{}
	r.current.Store(&empty)
	return r
}

// Get returns the published set for group, or the defaults and false when
// nothing has been published for it.
func (r *Registry) Get(group string) (domain.ParameterSet, bool) {
	if p, ok := (*r.current.Load())[group]; ok {
		return p.Clone(), true
	}
	return domain.DefaultParameterSet(group), false
}

// Publish installs p as the current set for its group. A set whose version
// is older than the one already published is ignored and Publish reports
// false.
func (r *Registry) Publish(p domain.ParameterSet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	if cur, ok := old[p.SymbolGroup]; ok && cur.Version > p.Version {
		return false
	}
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[p.SymbolGroup] = p.Clone()
	r.current.Store(&next)
	return true
}

// Groups lists the groups with a published set, sorted.
func (r *Registry) Groups() []string {
	cur := *r.current.Load()
	out := make([]string, 0, len(cur))
	for k := range cur {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
