// Package memory implements an in-process page cache with expiry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

type entry struct {
	page      crawler.CachedPage
	expiresAt time.Time
}

// Cache keeps fetched pages keyed by URL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Cache. A non-positive ttl keeps entries until Clear.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached page for url when present and fresh.
func (c *Cache) Get(_ context.Context, url string) (crawler.CachedPage, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[url]
	c.mu.RUnlock()
	if !ok {
		return crawler.CachedPage{}, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, url)
		c.mu.Unlock()
		return crawler.CachedPage{}, false, nil
	}
	return e.page, true, nil
}

// Set stores page under url.
func (c *Cache) Set(_ context.Context, url string, page crawler.CachedPage) error {
	e := entry{page: page}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = e
	return nil
}

// Clear drops every entry.
func (c *Cache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	return nil
}
