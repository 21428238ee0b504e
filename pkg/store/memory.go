package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// ErrRejected is returned when a bounded backend refuses a write under pressure.
var ErrRejected = errors.New("store: write rejected")

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// MaxCost is the memory budget in body bytes (default 64 MiB)
	MaxCost int64

	// NumCounters sizes the admission filter (default 100k)
	NumCounters int64

	// BufferItems is the ristretto Get buffer size (default 64)
	BufferItems int64
}

// MemoryStore is an in-process store backed by ristretto.
// A side index of live keys serves pattern listing.
type MemoryStore struct {
	c *ristretto.Cache

	mu   sync.Mutex
	keys map[string]time.Time // expiry, zero means none
}

var _ cache.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-process store.
func NewMemoryStore(cfg MemoryConfig) (*MemoryStore, error) {
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryStore{c: c, keys: make(map[string]time.Time)}, nil
}

// Get returns a copy of the stored entry.
func (s *MemoryStore) Get(_ context.Context, key string) (*cache.Entry, error) {
	v, ok := s.c.Get(key)
	if !ok {
		s.forget(key)
		return nil, cache.ErrCacheMiss
	}
	entry, ok := v.(*cache.Entry)
	if !ok || entry == nil {
		// self-heal: drop unexpected entry shape
		selfHealed.WithLabelValues("memory").Inc()
		s.c.Del(key)
		s.forget(key)
		return nil, cache.ErrInvalidEntry
	}
	return entry.Clone(), nil
}

// SetWithTTL stores a copy of entry. A ttl of zero never expires.
func (s *MemoryStore) SetWithTTL(_ context.Context, key string, entry *cache.Entry, ttl time.Duration) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	cp := entry.Clone()
	cost := int64(len(cp.Body) + len(key))

	if !s.c.SetWithTTL(key, cp, cost, ttl) {
		storeErrors.WithLabelValues("memory", "set").Inc()
		return ErrRejected
	}
	s.c.Wait()

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.keys[key] = exp
	s.mu.Unlock()
	return nil
}

// Delete removes keys and returns how many were live.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	deleted := 0
	for _, k := range keys {
		if _, ok := s.c.Get(k); ok {
			deleted++
		}
		s.c.Del(k)
		s.forget(k)
	}
	s.c.Wait()
	return deleted, nil
}

// ListByPattern returns live keys matching pattern, sorted.
func (s *MemoryStore) ListByPattern(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, exp := range s.keys {
		if !exp.IsZero() && !now.Before(exp) {
			delete(s.keys, k)
			continue
		}
		if Match(pattern, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close stops ristretto's background goroutines.
func (s *MemoryStore) Close() error {
	s.c.Close()
	return nil
}

func (s *MemoryStore) forget(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}
