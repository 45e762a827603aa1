package services

import (
	"context"
	"sync"
	"time"

	"ride-tracker/internal/identity-service/core/domain/model"
)

const DefaultStatusTTL = 30 * time.Second

// MemoryStatusCache is the in-process status cache. Entries older than ttl
// are reported as missing and dropped on the next write.
type MemoryStatusCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[model.RideReference]model.StatusEntry
}

func NewMemoryStatusCache(ttl time.Duration) *MemoryStatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &MemoryStatusCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[model.RideReference]model.StatusEntry),
	}
}

func (c *MemoryStatusCache) Get(_ context.Context, rideID model.RideReference) (model.StatusEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[rideID]
	if !ok || c.now().Sub(e.LastChecked) >= c.ttl {
		return model.StatusEntry{}, false
	}
	return e, true
}

func (c *MemoryStatusCache) Put(_ context.Context, rideID model.RideReference, entry model.StatusEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.LastChecked) >= c.ttl {
			delete(c.entries, id)
		}
	}
	c.entries[rideID] = entry
}
