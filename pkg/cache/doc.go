// Package cache provides the building blocks of the HTTP response cache.
//
// The package is free of any storage or transport dependency and contains:
//
// - Deterministic cache key derivation (KeyBuilder)
// - The stored response unit (Entry) and the Store contract backends implement
// - Body encoding with optional gzip/zstd compression and ETag computation (Codec)
// - The freshness classification FRESH / STALE / ABSENT (Classify)
//
// # Keys
//
//	b := cache.KeyBuilder{
//		Prefix: "products",
//		VaryBy: []string{"Accept", "User-Agent"},
//	}
//	key := b.Build(req)
//	// products:GET:/products:q=<hash>:h=<hash>
//
// Query parameters are canonicalised before hashing, so ?a=1&b=2 and ?b=2&a=1
// share a key. An identity stored with WithIdentity appends user:<id>.
//
// # Encoding
//
//	codec := cache.NewCodec(true, cache.DefaultWindow())
//	stored, compressed, etag := codec.Encode(body)
//	body, err := codec.Decode(stored, compressed)
//
// Compression is kept only when the body is at least CompressionMinBytes long
// and shrinks to CompressionMinRatio of its size or less. A compressor failure
// stores the raw body instead.
//
// # Freshness
//
//	switch cache.Classify(entry, time.Now(), window) {
//	case cache.Fresh:
//		// serve
//	case cache.Stale:
//		// serve and refresh in the background
//	case cache.Absent:
//		// call the origin
//	}
//
// Entries are stored for Window.StorageTTL() = TTL + StaleWindow so that the
// stale state is observable.
package cache
