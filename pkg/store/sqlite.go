package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file; empty opens a shared in-memory database
	Path string

	// Serializer defaults to JSON
	Serializer Serializer

	// CleanupInterval purges expired rows periodically; zero disables
	CleanupInterval time.Duration
}

// SQLiteStore persists entries in a single SQLite table.
// Expired rows are invisible to reads and removed by PurgeExpired.
type SQLiteStore struct {
	db         *sql.DB
	serializer Serializer
	stop       chan struct{}
	done       chan struct{}
}

var _ cache.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates if needed) the cache table.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if cfg.Serializer == nil {
		cfg.Serializer = JSON{}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: sqlite serialises writers, and :memory: is per-connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL,
			value BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS cache_entries_expires_idx ON cache_entries (expires_at)`,
	}
	if cfg.Path != "" {
		stmts = append(stmts, `PRAGMA journal_mode=WAL`)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	s := &SQLiteStore{db: db, serializer: cfg.Serializer}
	if cfg.CleanupInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.janitor(cfg.CleanupInterval)
	}
	return s, nil
}

// Get retrieves a live entry by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	var expiresAt int64
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at, value FROM cache_entries WHERE key = ?`, key).Scan(&expiresAt, &value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrCacheMiss
		}
		storeErrors.WithLabelValues("sqlite", "get").Inc()
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if expired(expiresAt, time.Now()) {
		return nil, cache.ErrCacheMiss
	}

	entry, err := s.serializer.Unmarshal(value)
	if err != nil {
		selfHealed.WithLabelValues("sqlite").Inc()
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, err
	}
	return entry, nil
}

// SetWithTTL upserts entry under key. A ttl of zero never expires.
func (s *SQLiteStore) SetWithTTL(ctx context.Context, key string, entry *cache.Entry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	data, err := s.serializer.Marshal(entry)
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, expires_at, value) VALUES (?, ?, ?)`,
		key, expiryOf(ttl, time.Now()), data)
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "set").Inc()
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Delete removes keys and returns how many live rows were removed.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "delete").Inc()
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM cache_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`)
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "delete").Inc()
		return 0, fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	deleted := 0
	for _, k := range keys {
		res, err := stmt.ExecContext(ctx, k, now)
		if err != nil {
			storeErrors.WithLabelValues("sqlite", "delete").Inc()
			return 0, fmt.Errorf("sqlite delete: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		storeErrors.WithLabelValues("sqlite", "delete").Inc()
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	return deleted, nil
}

// ListByPattern returns live keys matching pattern.
// SQLite's GLOB narrows the scan; Match applies the exact semantics.
// GLOB has no escapes, and its ? and [...] consume a whole UTF-8
// character where Match consumes a byte, so such patterns skip it.
func (s *SQLiteStore) ListByPattern(ctx context.Context, pattern string) ([]string, error) {
	query := `SELECT key FROM cache_entries WHERE (expires_at = 0 OR expires_at > ?)`
	args := []any{time.Now().UnixNano()}
	if !strings.ContainsAny(pattern, `\?[`) {
		query += ` AND key GLOB ?`
		args = append(args, pattern)
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		storeErrors.WithLabelValues("sqlite", "list").Inc()
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			storeErrors.WithLabelValues("sqlite", "list").Inc()
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		if Match(pattern, k) {
			keys = append(keys, k)
		}
	}
	if err := rows.Err(); err != nil {
		storeErrors.WithLabelValues("sqlite", "list").Inc()
		return nil, fmt.Errorf("sqlite rows: %w", err)
	}
	return keys, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at != 0 AND expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the janitor and closes the database.
func (s *SQLiteStore) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return s.db.Close()
}

func (s *SQLiteStore) janitor(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_, _ = s.PurgeExpired(context.Background())
		}
	}
}

// expiryOf converts a ttl into a unix-nano deadline; 0 means no expiry.
func expiryOf(ttl time.Duration, now time.Time) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

func expired(expiresAt int64, now time.Time) bool {
	return expiresAt != 0 && expiresAt <= now.UnixNano()
}
