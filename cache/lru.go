// Package cache wraps github.com/hashicorp/golang-lru the way the
// teacher's own cache package does, used here for the blueprint cache
// (§6), the gossip de-duplication cache (§4.6/§8 property 4), and the
// network-probe result cache (§4.2).
package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRU extends golang-lru.Cache with a load-on-miss helper.
type LRU struct {
	*lru.Cache
}

// NewLRU creates an LRU cache of the given capacity (minimum 16 entries).
func NewLRU(maxSize int) *LRU {
	if maxSize < 16 {
		maxSize = 16
	}
	c, _ := lru.New(maxSize) //nolint:errcheck // only errors on non-positive size, guarded above
	return &LRU{c}
}

// Loader produces a value for a cache miss.
type Loader func(key interface{}) (interface{}, error)

// GetOrLoad returns the cached value for key, loading and caching it on miss.
func (l *LRU) GetOrLoad(key interface{}, loader Loader) (interface{}, error) {
	if v, ok := l.Get(key); ok {
		return v, nil
	}
	v, err := loader(key)
	if err != nil {
		return nil, err
	}
	l.Add(key, v)
	return v, nil
}
