package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/respcache/pkg/cache"
)

func newTestSQLiteStore(t *testing.T) cache.Store {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newTestSQLiteStore)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, "k", newTestEntry("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got.Body))
	assert.NoError(t, s.Ping(ctx))
}

func TestSQLiteStore_PurgeExpired(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, "gone", newTestEntry("x"), time.Millisecond))
	require.NoError(t, s.SetWithTTL(ctx, "kept", newTestEntry("y"), time.Hour))
	require.NoError(t, s.SetWithTTL(ctx, "forever", newTestEntry("z"), 0))
	time.Sleep(10 * time.Millisecond)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := s.ListByPattern(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"forever", "kept"}, keys)
}

func TestSQLiteStore_Janitor(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:            filepath.Join(t.TempDir(), "cache.db"),
		CleanupInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, "gone", newTestEntry("x"), time.Millisecond))

	assert.Eventually(t, func() bool {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count)
		return err == nil && count == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSQLiteStore_CorruptRowSelfHeals(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.db.Exec(`INSERT INTO cache_entries (key, expires_at, value) VALUES (?, 0, ?)`, "bad", []byte("{not json"))
	require.NoError(t, err)

	_, err = s.Get(ctx, "bad")
	assert.ErrorIs(t, err, cache.ErrInvalidEntry)

	_, err = s.Get(ctx, "bad")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestSQLiteStore_EscapedPattern(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, "a*b", newTestEntry("1"), time.Minute))
	require.NoError(t, s.SetWithTTL(ctx, "axb", newTestEntry("2"), time.Minute))

	keys, err := s.ListByPattern(ctx, `a\*b`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a*b"}, keys)
}

func TestSQLiteStore_MultiBytePattern(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, "p:é", newTestEntry("1"), time.Minute))
	require.NoError(t, s.SetWithTTL(ctx, "p:x", newTestEntry("2"), time.Minute))

	// ? matches one byte, as in Redis; é is two
	keys, err := s.ListByPattern(ctx, "p:??")
	require.NoError(t, err)
	assert.Equal(t, []string{"p:é"}, keys)

	keys, err = s.ListByPattern(ctx, "p:[^x]*")
	require.NoError(t, err)
	assert.Equal(t, []string{"p:é"}, keys)
}
