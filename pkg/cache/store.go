package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the key-value contract the cache layer is built on.
// Implementations must be safe for concurrent use. Writes are full
// overwrites; concurrent writers to the same key race last-write-wins.
type Store interface {
	// Get returns the entry stored under key.
	// Returns ErrCacheMiss if the key doesn't exist and ErrInvalidEntry
	// (wrapped) if the stored bytes cannot be decoded.
	Get(ctx context.Context, key string) (*Entry, error)

	// SetWithTTL stores entry under key. The store removes it after ttl.
	SetWithTTL(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// ListByPattern returns the keys matching a glob pattern (see store.Match).
	ListByPattern(ctx context.Context, pattern string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
