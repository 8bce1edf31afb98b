// internal/pipeline/cache.go
package pipeline

import "sync"

// ContextCache holds the delta summary of each completed scene, keyed
// by scene number. It lives for one run; nothing is ever evicted and
// nothing survives a restart, so a miss is always answerable from the
// persisted blueprint.
type ContextCache struct {
	mu     sync.RWMutex
	deltas map[int]string
}

func NewContextCache() *ContextCache {
	return &ContextCache{
		deltas: make(map[int]string),
	}
}

// Get returns the delta summary for a scene number, if cached.
func (c *ContextCache) Get(sceneNumber int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	delta, ok := c.deltas[sceneNumber]
	return delta, ok
}

// Put stores the delta summary for a scene number.
func (c *ContextCache) Put(sceneNumber int, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas[sceneNumber] = delta
}

// Len returns the number of cached deltas.
func (c *ContextCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.deltas)
}
