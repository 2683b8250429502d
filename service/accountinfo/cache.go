package accountinfo

import (
	"context"
	"sync"
)

// Cache is the process-lifetime store of resolved addresses.
type Cache interface {
	// GetMany returns the cached entries among addrs.
	GetMany(addrs []string) map[string]AccountInfo
	SetMany(entries map[string]AccountInfo)
	Clear()
	Len() int
}

// Store is an optional persistent layer consulted before the network.
type Store interface {
	GetAccountInfos(ctx context.Context, addrs []string) (map[string]AccountInfo, error)
	PutAccountInfos(ctx context.Context, entries map[string]AccountInfo) error
}

// MemoryCache is a Cache guarded by a RWMutex. Concurrent writers of the same
// address race; the last write wins.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]AccountInfo
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]AccountInfo)}
}

func (c *MemoryCache) GetMany(addrs []string) map[string]AccountInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]AccountInfo, len(addrs))
	for _, a := range addrs {
		if info, ok := c.entries[a]; ok {
			out[a] = info
		}
	}
	return out
}

func (c *MemoryCache) SetMany(entries map[string]AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for a, info := range entries {
		c.entries[a] = info
	}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]AccountInfo)
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
