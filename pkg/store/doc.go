// Package store provides cache.Store backends.
//
// Backends:
//   - RedisStore: shared cache with native expiry and an optional tag index
//   - MemoryStore: in-process cache backed by ristretto
//   - SQLiteStore: single-file persistent cache
//   - LevelDBStore: embedded on-disk cache
//
// Every backend reports misses as cache.ErrCacheMiss and deletes payloads it
// cannot decode, returning cache.ErrInvalidEntry for that read. Entries are
// encoded with a Serializer (JSON, msgpack or CBOR).
//
// Pattern listing uses Redis glob syntax (see Match) on every backend, so an
// invalidation pattern selects the same keys wherever entries live.
package store
