package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// LevelDBConfig configures a LevelDBStore.
type LevelDBConfig struct {
	// Path is the database directory; empty keeps the database in memory
	Path string

	// Serializer defaults to JSON
	Serializer Serializer
}

// LevelDBStore persists entries on local disk.
// Values are an 8-byte big-endian unix-nano expiry followed by the serialized entry.
type LevelDBStore struct {
	db         *leveldb.DB
	serializer Serializer
}

var _ cache.Store = (*LevelDBStore)(nil)

// NewLevelDBStore opens the database at cfg.Path.
func NewLevelDBStore(cfg LevelDBConfig) (*LevelDBStore, error) {
	if cfg.Serializer == nil {
		cfg.Serializer = JSON{}
	}

	var (
		db  *leveldb.DB
		err error
	)
	if cfg.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(cfg.Path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBStore{db: db, serializer: cfg.Serializer}, nil
}

// Get retrieves a live entry by key. Expired values are removed on read.
func (s *LevelDBStore) Get(_ context.Context, key string) (*cache.Entry, error) {
	raw, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, cache.ErrCacheMiss
		}
		storeErrors.WithLabelValues("leveldb", "get").Inc()
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	if len(raw) < 8 {
		selfHealed.WithLabelValues("leveldb").Inc()
		_ = s.db.Delete([]byte(key), nil)
		return nil, fmt.Errorf("%w: short value", cache.ErrInvalidEntry)
	}
	if expired(int64(binary.BigEndian.Uint64(raw[:8])), time.Now()) {
		_ = s.db.Delete([]byte(key), nil)
		return nil, cache.ErrCacheMiss
	}

	entry, err := s.serializer.Unmarshal(raw[8:])
	if err != nil {
		selfHealed.WithLabelValues("leveldb").Inc()
		_ = s.db.Delete([]byte(key), nil)
		return nil, err
	}
	return entry, nil
}

// SetWithTTL stores entry under key. A ttl of zero never expires.
func (s *LevelDBStore) SetWithTTL(_ context.Context, key string, entry *cache.Entry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	data, err := s.serializer.Marshal(entry)
	if err != nil {
		storeErrors.WithLabelValues("leveldb", "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	value := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(value[:8], uint64(expiryOf(ttl, time.Now())))
	copy(value[8:], data)

	if err := s.db.Put([]byte(key), value, nil); err != nil {
		storeErrors.WithLabelValues("leveldb", "set").Inc()
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete removes keys in one batch and returns how many live keys existed.
func (s *LevelDBStore) Delete(_ context.Context, keys ...string) (int, error) {
	now := time.Now()
	batch := new(leveldb.Batch)
	deleted := 0
	for _, k := range keys {
		raw, err := s.db.Get([]byte(k), nil)
		switch {
		case errors.Is(err, leveldb.ErrNotFound):
			continue
		case err != nil:
			storeErrors.WithLabelValues("leveldb", "delete").Inc()
			return 0, fmt.Errorf("leveldb get: %w", err)
		}
		if len(raw) >= 8 && !expired(int64(binary.BigEndian.Uint64(raw[:8])), now) {
			deleted++
		}
		batch.Delete([]byte(k))
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		storeErrors.WithLabelValues("leveldb", "delete").Inc()
		return 0, fmt.Errorf("leveldb write: %w", err)
	}
	return deleted, nil
}

// ListByPattern iterates the keys sharing the pattern's literal prefix.
func (s *LevelDBStore) ListByPattern(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(LiteralPrefix(pattern))), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		v := iter.Value()
		if len(v) >= 8 && expired(int64(binary.BigEndian.Uint64(v[:8])), now) {
			continue
		}
		if k := string(iter.Key()); Match(pattern, k) {
			keys = append(keys, k)
		}
	}
	if err := iter.Error(); err != nil {
		storeErrors.WithLabelValues("leveldb", "list").Inc()
		return nil, fmt.Errorf("leveldb iterate: %w", err)
	}
	return keys, nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
