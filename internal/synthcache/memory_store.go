package synthcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is a bounded in-process store evicting least recently used
// entries, with an optional TTL.
type MemoryStore struct {
	lru *expirable.LRU[string, Entry]
}

// NewMemoryStore creates a store holding at most maxEntries entries.
// A zero ttl disables expiry.
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryStore{lru: expirable.NewLRU[string, Entry](maxEntries, nil, ttl)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	if e, ok := s.lru.Get(key); ok {
		return e, nil
	}
	return Entry{}, ErrMiss
}

// Put is a no-op for keys already present.
func (s *MemoryStore) Put(ctx context.Context, key string, e Entry) error {
	if s.lru.Contains(key) {
		return nil
	}
	s.lru.Add(key, e)
	return nil
}

// Len reports the number of cached entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
