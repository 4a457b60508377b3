package aggregate

import (
	"sync"

	"poolEngine/internal/model"
)

// PoolMetaCache caches pool metadata by pool id.
type PoolMetaCache struct {
	mu   sync.RWMutex
	data map[string]model.Pool
}

func NewPoolMetaCache() *PoolMetaCache {
	return &PoolMetaCache{data: make(map[string]model.Pool)}
}

func (c *PoolMetaCache) Get(poolID string) (model.Pool, bool) {
	c.mu.RLock()
	meta, ok := c.data[poolID]
	c.mu.RUnlock()
	return meta, ok
}

func (c *PoolMetaCache) Set(meta model.Pool) {
	c.mu.Lock()
	c.data[meta.ID] = meta
	c.mu.Unlock()
}
