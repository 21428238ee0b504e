package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// ErrNilClient is returned when a backend is constructed without a client.
var ErrNilClient = errors.New("store: nil client")

const (
	// IndexKeyPrefix namespaces the tag index sets kept by RedisStore.
	IndexKeyPrefix = "respcache:index:"

	defaultScanCount = 500
	deleteBatchSize  = 500
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the Redis connection (single node, sentinel or ring)
	Client redis.UniversalClient

	// Serializer defaults to JSON
	Serializer Serializer

	// TagIndex maintains one set per key namespace so pattern listing does
	// not scan the whole keyspace.
	TagIndex bool

	// ScanCount is the COUNT hint for SCAN/SSCAN (default 500)
	ScanCount int64

	// CloseClient closes Client on Close; set only if the store owns it
	CloseClient bool
}

// RedisStore stores entries in Redis with per-key expiry.
type RedisStore struct {
	rdb         redis.UniversalClient
	serializer  Serializer
	tagIndex    bool
	scanCount   int64
	closeClient bool
}

var _ cache.Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Serializer == nil {
		cfg.Serializer = JSON{}
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = defaultScanCount
	}
	return &RedisStore{
		rdb:         cfg.Client,
		serializer:  cfg.Serializer,
		tagIndex:    cfg.TagIndex,
		scanCount:   cfg.ScanCount,
		closeClient: cfg.CloseClient,
	}, nil
}

// Get retrieves a cache entry by key.
// Corrupt payloads are deleted and reported as ErrInvalidEntry.
func (s *RedisStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, cache.ErrCacheMiss
		}
		storeErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := s.serializer.Unmarshal(data)
	if err != nil {
		selfHealed.WithLabelValues("redis").Inc()
		_ = s.rdb.Del(ctx, key).Err()
		return nil, err
	}
	return entry, nil
}

// SetWithTTL stores entry under key; Redis removes it after ttl.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, entry *cache.Entry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	data, err := s.serializer.Marshal(entry)
	if err != nil {
		storeErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if !s.tagIndex {
		if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
			storeErrors.WithLabelValues("redis", "set").Inc()
			return fmt.Errorf("redis set: %w", err)
		}
		return nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, data, ttl)
		p.SAdd(ctx, indexKey(key), key)
		return nil
	})
	if err != nil {
		storeErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes keys and returns how many existed.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		var del *redis.IntCmd
		_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			del = p.Del(ctx, batch...)
			if s.tagIndex {
				for tag, members := range groupByIndex(batch) {
					p.SRem(ctx, tag, members...)
				}
			}
			return nil
		})
		if err != nil {
			storeErrors.WithLabelValues("redis", "delete").Inc()
			return deleted, fmt.Errorf("redis del: %w", err)
		}
		deleted += int(del.Val())
	}
	return deleted, nil
}

// ListByPattern returns keys matching pattern.
// With the tag index enabled, patterns whose literal prefix names a
// namespace are resolved with SSCAN over that namespace's set.
func (s *RedisStore) ListByPattern(ctx context.Context, pattern string) ([]string, error) {
	tag, indexed := s.indexFor(pattern)
	var iter *redis.ScanIterator
	if indexed {
		iter = s.rdb.SScan(ctx, tag, 0, pattern, s.scanCount).Iterator()
	} else {
		iter = s.rdb.Scan(ctx, 0, pattern, s.scanCount).Iterator()
	}

	seen := make(map[string]struct{})
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.HasPrefix(k, IndexKeyPrefix) {
			continue
		}
		seen[k] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		storeErrors.WithLabelValues("redis", "list").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	if indexed {
		var err error
		if keys, err = s.pruneExpired(ctx, tag, keys); err != nil {
			storeErrors.WithLabelValues("redis", "list").Inc()
			return nil, err
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// pruneExpired drops index members whose key has expired and removes them
// from the index set.
func (s *RedisStore) pruneExpired(ctx context.Context, tag string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return keys, nil
	}
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.Exists(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis exists: %w", err)
	}

	live := keys[:0]
	var gone []interface{}
	for i, k := range keys {
		if cmds[i].Val() > 0 {
			live = append(live, k)
		} else {
			gone = append(gone, k)
		}
	}
	if len(gone) > 0 {
		_ = s.rdb.SRem(ctx, tag, gone...).Err()
	}
	return live, nil
}

func (s *RedisStore) indexFor(pattern string) (string, bool) {
	if !s.tagIndex {
		return "", false
	}
	literal := LiteralPrefix(pattern)
	ns, _, found := strings.Cut(literal, cache.KeySeparator)
	if !found {
		return "", false
	}
	return IndexKeyPrefix + ns, true
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis client when the store owns it.
func (s *RedisStore) Close() error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// indexKey names the tag set a key belongs to: its first key segment.
func indexKey(key string) string {
	ns, _, _ := strings.Cut(key, cache.KeySeparator)
	return IndexKeyPrefix + ns
}

func groupByIndex(keys []string) map[string][]interface{} {
	out := make(map[string][]interface{})
	for _, k := range keys {
		tag := indexKey(k)
		out[tag] = append(out[tag], k)
	}
	return out
}
