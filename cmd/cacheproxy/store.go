package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/store"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// openStore creates the backend selected by cfg.Store.
func openStore(ctx context.Context, cfg Config) (cache.Store, error) {
	serializer, err := store.SerializerFor(cfg.StoreFormat)
	if err != nil {
		return nil, err
	}

	switch cfg.Store {
	case "redis":
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return store.NewRedisStore(store.RedisConfig{
			Client:      client,
			Serializer:  serializer,
			TagIndex:    true,
			CloseClient: true,
		})
	case "sqlite":
		return store.NewSQLiteStore(store.SQLiteConfig{
			Path:            cfg.SQLitePath,
			Serializer:      serializer,
			CleanupInterval: time.Minute,
		})
	case "leveldb":
		return store.NewLevelDBStore(store.LevelDBConfig{
			Path:       cfg.LevelDBPath,
			Serializer: serializer,
		})
	case "memory":
		return store.NewMemoryStore(store.MemoryConfig{})
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
}

// redisOptions accepts a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		return redis.ParseURL(raw)
	}
	return &redis.Options{Addr: raw}, nil
}
