package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/respcache/pkg/cache"
)

func newTestMemoryStore(t *testing.T) cache.Store {
	t.Helper()
	s, err := NewMemoryStore(MemoryConfig{MaxCost: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, newTestMemoryStore)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := newTestMemoryStore(t)
	ctx := context.Background()

	entry := newTestEntry("original")
	require.NoError(t, s.SetWithTTL(ctx, "k", entry, time.Minute))
	entry.Body[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got.Body))

	got.Header.Set("Content-Type", "text/plain")
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "application/json", again.Header.Get("Content-Type"))
}

func TestMemoryStore_Defaults(t *testing.T) {
	s, err := NewMemoryStore(MemoryConfig{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetWithTTL(context.Background(), "k", newTestEntry("v"), 0))
	_, err = s.Get(context.Background(), "k")
	assert.NoError(t, err)
}
