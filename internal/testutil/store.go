package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/store"
)

// ErrStoreDown is returned by a RecordingStore with failures enabled.
var ErrStoreDown = errors.New("store unavailable")

// Call is one recorded store operation.
type Call struct {
	Op   string // get, set, delete, list
	Key  string // key, first deleted key or pattern
	TTL  time.Duration
	Keys []string
}

type item struct {
	entry   *cache.Entry
	expires time.Time
}

// RecordingStore is an in-memory cache.Store that records every call.
// Failures can be injected per operation.
type RecordingStore struct {
	mu    sync.Mutex
	items map[string]item
	calls []Call
	fail  map[string]error
	panic map[string]bool
	now   func() time.Time
}

var _ cache.Store = (*RecordingStore)(nil)

// NewRecordingStore creates an empty store using the wall clock.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{
		items: make(map[string]item),
		fail:  make(map[string]error),
		panic: make(map[string]bool),
		now:   time.Now,
	}
}

// SetClock replaces the clock used for expiry.
func (s *RecordingStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Fail makes op return err; a nil err clears the failure.
func (s *RecordingStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Panic makes op panic.
func (s *RecordingStore) Panic(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panic[op] = true
}

// Put stores entry directly without recording a call.
func (s *RecordingStore) Put(key string, entry *cache.Entry, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = s.item(entry, ttl)
}

// Calls returns the recorded calls.
func (s *RecordingStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many calls of op were recorded.
func (s *RecordingStore) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Keys returns the live keys, sorted.
func (s *RecordingStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, it := range s.items {
		if s.live(it) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Entry returns the live entry stored under key, or nil.
func (s *RecordingStore) Entry(key string) *cache.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[key]; ok && s.live(it) {
		return it.entry.Clone()
	}
	return nil
}

func (s *RecordingStore) Get(_ context.Context, key string) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "get", Key: key}); err != nil {
		return nil, err
	}
	it, ok := s.items[key]
	if !ok || !s.live(it) {
		return nil, cache.ErrCacheMiss
	}
	return it.entry.Clone(), nil
}

func (s *RecordingStore) SetWithTTL(_ context.Context, key string, entry *cache.Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "set", Key: key, TTL: ttl}); err != nil {
		return err
	}
	s.items[key] = s.item(entry, ttl)
	return nil
}

func (s *RecordingStore) Delete(_ context.Context, keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := Call{Op: "delete", Keys: append([]string(nil), keys...)}
	if len(keys) > 0 {
		call.Key = keys[0]
	}
	if err := s.record(call); err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if it, ok := s.items[k]; ok {
			if s.live(it) {
				n++
			}
			delete(s.items, k)
		}
	}
	return n, nil
}

func (s *RecordingStore) ListByPattern(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: "list", Key: pattern}); err != nil {
		return nil, err
	}
	var keys []string
	for k, it := range s.items {
		if s.live(it) && store.Match(pattern, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RecordingStore) Close() error { return nil }

func (s *RecordingStore) record(c Call) error {
	s.calls = append(s.calls, c)
	if s.panic[c.Op] {
		panic("store " + c.Op + " exploded")
	}
	return s.fail[c.Op]
}

func (s *RecordingStore) item(entry *cache.Entry, ttl time.Duration) item {
	it := item{entry: entry.Clone()}
	if ttl > 0 {
		it.expires = s.now().Add(ttl)
	}
	return it
}

func (s *RecordingStore) live(it item) bool {
	return it.expires.IsZero() || s.now().Before(it.expires)
}
