package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	raw       []byte
	expiresAt time.Time
}

// ResponseCache keeps raw backend responses in process memory.
type ResponseCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (c *ResponseCache) Put(_ context.Context, uploadID string, raw []byte) error {
	stored := make([]byte, len(raw))
	copy(stored, raw)

	e := entry{raw: stored}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[uploadID] = e
	c.mu.Unlock()
	return nil
}

func (c *ResponseCache) Get(_ context.Context, uploadID string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[uploadID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, uploadID)
		c.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.raw))
	copy(out, e.raw)
	return out, true, nil
}

func (c *ResponseCache) Delete(_ context.Context, uploadID string) error {
	c.mu.Lock()
	delete(c.entries, uploadID)
	c.mu.Unlock()
	return nil
}
