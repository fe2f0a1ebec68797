package memory

import (
	"context"
	"sync"
	"time"

	"solana-backtest-lab/internal/storage"
)

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// KVStore is an in-memory implementation of storage.KVStore.
// Expired entries are dropped lazily on access.
type KVStore struct {
	mu    sync.RWMutex
	data  map[string]kvEntry
	clock func() time.Time
}

// NewKVStore creates a new in-memory key-value store.
func NewKVStore() *KVStore {
	return &KVStore{
		data:  make(map[string]kvEntry),
		clock: time.Now,
	}
}

// WithClock sets the time source used for expiry.
func (s *KVStore) WithClock(clock func() time.Time) *KVStore {
	s.clock = clock
	return s
}

// Get returns a copy of the value for key.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok || s.expired(e) {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Put stores a copy of value.
func (s *KVStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" || ttl < 0 {
		return storage.ErrInvalidInput
	}
	e := kvEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = e
	return nil
}

// Exists reports whether an unexpired value is stored under key.
func (s *KVStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	return ok && !s.expired(e), nil
}

// Delete removes key.
func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *KVStore) expired(e kvEntry) bool {
	return !e.expiresAt.IsZero() && !s.clock().Before(e.expiresAt)
}

var _ storage.KVStore = (*KVStore)(nil)
