package exportcache

import (
	"context"
	"sync"
	"time"

	"keystack/internal/domain"
	"keystack/internal/usecase"
)

// Memory is a process-local export cache.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     domain.ResolvedOutput
	expiresAt time.Time
	hasExpiry bool
}

func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Memory) Get(ctx context.Context, key string) (*domain.ResolvedOutput, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.hasExpiry && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *Memory) Put(ctx context.Context, key string, value domain.ResolvedOutput, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *Memory) Delete(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

var _ usecase.ExportCache = (*Memory)(nil)
