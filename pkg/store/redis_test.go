package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// setupTestRedis connects to a local Redis on DB 15 and skips when none is running.
// The testcontainers variant lives in redis_integration_test.go.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestRedisStore(t *testing.T) {
	for _, tagIndex := range []bool{false, true} {
		name := "scan"
		if tagIndex {
			name = "tag index"
		}
		t.Run(name, func(t *testing.T) {
			runStoreSuite(t, func(t *testing.T) cache.Store {
				s, err := NewRedisStore(RedisConfig{Client: setupTestRedis(t), TagIndex: tagIndex})
				require.NoError(t, err)
				return s
			})
		})
	}
}

func TestRedisStore_TagIndexMaintained(t *testing.T) {
	client := setupTestRedis(t)
	s, err := NewRedisStore(RedisConfig{Client: client, TagIndex: true, Serializer: Msgpack{}})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "product_detail:42:GET:/products/42", newTestEntry("a"), time.Minute))
	require.NoError(t, s.SetWithTTL(ctx, "product_detail:43:GET:/products/43", newTestEntry("b"), time.Minute))

	members, err := client.SMembers(ctx, IndexKeyPrefix+"product_detail").Result()
	require.NoError(t, err)
	assert.Len(t, members, 2)

	n, err := s.Delete(ctx, "product_detail:42:GET:/products/42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	members, err = client.SMembers(ctx, IndexKeyPrefix+"product_detail").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"product_detail:43:GET:/products/43"}, members)

	// index sets never show up as cache keys
	keys, err := s.ListByPattern(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"product_detail:43:GET:/products/43"}, keys)
}

func TestRedisStore_CorruptPayloadSelfHeals(t *testing.T) {
	client := setupTestRedis(t)
	s, err := NewRedisStore(RedisConfig{Client: client})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "bad", "{not json", time.Minute).Err())

	_, err = s.Get(ctx, "bad")
	assert.ErrorIs(t, err, cache.ErrInvalidEntry)

	exists, err := client.Exists(ctx, "bad").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisStore_CloseOwnership(t *testing.T) {
	client := setupTestRedis(t)

	s, err := NewRedisStore(RedisConfig{Client: client})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Ping(context.Background()), "borrowed client must stay open")

	owned := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	s, err = NewRedisStore(RedisConfig{Client: owned, CloseClient: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
