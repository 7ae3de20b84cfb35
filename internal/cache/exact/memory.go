package exact

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore is the in-memory backend: an LRU bounded by max entries.
// TTL is enforced by the Cache layer on access.
type MemoryStore struct {
	entries *lru.Cache[string, *Entry]
}

// NewMemoryStore creates an in-memory store holding at most maxEntries.
func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	entries, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries}, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	s.entries.Add(key, entry)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	return s.entries.Remove(key), nil
}

func (s *MemoryStore) Clear(ctx context.Context) (int, error) {
	count := s.entries.Len()
	s.entries.Purge()
	return count, nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	return s.entries.Len(), nil
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	return s.entries.Keys(), nil
}
