package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CountStore records processed URLs in a map keyed by URL.
type CountStore struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewCountStore constructs an empty CountStore.
func NewCountStore() *CountStore {
	return &CountStore{seen: make(map[string]time.Time)}
}

// RecordProcessed marks url as processed at the given time.
func (s *CountStore) RecordProcessed(_ context.Context, url string, at time.Time) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[url] = at
	return nil
}

// Count returns the number of distinct processed URLs.
func (s *CountStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.seen)), nil
}

// Clear forgets every processed URL.
func (s *CountStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.seen)
	return nil
}

// LastProcessed reports when url was last recorded.
func (s *CountStore) LastProcessed(url string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.seen[url]
	return at, ok
}
