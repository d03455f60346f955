package store

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyStore implements IdempotencyStore with an in-memory map.
// Used by tests and the memory storage driver.
type MemoryIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string]memoryIdempotencyEntry
}

type memoryIdempotencyEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{data: make(map[string]memoryIdempotencyEntry)}
}

// Get retrieves a cached response.
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.data[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

// Set stores a response with TTL.
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = memoryIdempotencyEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes an idempotency key.
func (s *MemoryIdempotencyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ping reports the store as reachable.
func (s *MemoryIdempotencyStore) Ping(ctx context.Context) error { return nil }

// Close releases the store.
func (s *MemoryIdempotencyStore) Close() error { return nil }
