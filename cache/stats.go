package cache

import "sync/atomic"

// Stats is a utility for collecting cache hit/miss counters, reused
// verbatim from the teacher's `cache.Stats` for the blueprint cache's
// metrics.
type Stats struct {
	hit, miss atomic.Int64
	flag      atomic.Int32
}

// Hit records a hit.
func (cs *Stats) Hit() int64 { return cs.hit.Add(1) }

// Miss records a miss.
func (cs *Stats) Miss() int64 { return cs.miss.Add(1) }

// Stats returns hit/miss counts and whether the hit rate bucket changed
// since the last call (coalescing metric emission).
func (cs *Stats) Stats() (changed bool, hit, miss int64) {
	hit = cs.hit.Load()
	miss = cs.miss.Load()
	lookups := hit + miss

	hitRate := float64(0)
	if lookups > 0 {
		hitRate = float64(hit) / float64(lookups)
	}
	flag := int32(hitRate * 1000)

	return cs.flag.Swap(flag) != flag, hit, miss
}
