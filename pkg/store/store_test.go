package store

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/respcache/pkg/cache"
)

func newTestEntry(body string) *cache.Entry {
	return &cache.Entry{
		Body:       []byte(body),
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		ETag:       cache.ETag([]byte(body)),
	}
}

// runStoreSuite exercises the cache.Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) cache.Store) {
	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := newTestEntry(`{"id":42}`)

		require.NoError(t, s.SetWithTTL(ctx, "api:GET:/products/42", want, time.Minute))

		got, err := s.Get(ctx, "api:GET:/products/42")
		require.NoError(t, err)
		assert.Equal(t, want.Body, got.Body)
		assert.Equal(t, want.StatusCode, got.StatusCode)
		assert.Equal(t, want.ETag, got.ETag)
		assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	})

	t.Run("overwrite replaces entry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetWithTTL(ctx, "k", newTestEntry("v1"), time.Minute))
		require.NoError(t, s.SetWithTTL(ctx, "k", newTestEntry("v2"), time.Minute))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(got.Body))
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetWithTTL(ctx, "short", newTestEntry("x"), 50*time.Millisecond))
		assert.Eventually(t, func() bool {
			_, err := s.Get(ctx, "short")
			return errors.Is(err, cache.ErrCacheMiss)
		}, 3*time.Second, 20*time.Millisecond)

		keys, err := s.ListByPattern(ctx, "short")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("delete counts existing keys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetWithTTL(ctx, "a:1", newTestEntry("1"), time.Minute))
		require.NoError(t, s.SetWithTTL(ctx, "a:2", newTestEntry("2"), time.Minute))

		n, err := s.Delete(ctx, "a:1", "a:2", "a:missing")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.Get(ctx, "a:1")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)

		n, err = s.Delete(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("list by pattern", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{
			"product_list:GET:/products",
			"product_list:GET:/products:q=abc",
			"product_detail:42:GET:/products/42",
			"product_detail:43:GET:/products/43",
			"category:GET:/categories",
		} {
			require.NoError(t, s.SetWithTTL(ctx, k, newTestEntry(k), time.Minute))
		}

		tests := []struct {
			pattern string
			want    []string
		}{
			{"product_list*", []string{"product_list:GET:/products", "product_list:GET:/products:q=abc"}},
			{"product_detail:42*", []string{"product_detail:42:GET:/products/42"}},
			{"*:GET:/categories", []string{"category:GET:/categories"}},
			{"product_detail:4?:*", []string{"product_detail:42:GET:/products/42", "product_detail:43:GET:/products/43"}},
			{"nothing*", nil},
		}
		for _, tt := range tests {
			got, err := s.ListByPattern(ctx, tt.pattern)
			require.NoError(t, err, tt.pattern)
			assert.ElementsMatch(t, tt.want, got, "ListByPattern(%q)", tt.pattern)
		}
	})

	t.Run("nil entry rejected", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.SetWithTTL(context.Background(), "k", nil, time.Minute))
	})
}
