package tokens

import (
	"sync"

	"github.com/fintrack/kis-broker/internal/config"
)

// MemoryCache is the per-process token tier. The original broker ran one
// request at a time per isolate; a Go process serves requests concurrently,
// so access is mutex-guarded.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[config.Environment]CachedToken
}

// NewMemoryCache creates an empty in-process token cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[config.Environment]CachedToken),
	}
}

// Get returns the cached token for an environment, if any
func (c *MemoryCache) Get(env config.Environment) (CachedToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tok, ok := c.entries[env]
	return tok, ok
}

// Set stores a token for an environment, replacing any previous one
func (c *MemoryCache) Set(env config.Environment, tok CachedToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[env] = tok
}
