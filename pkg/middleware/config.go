package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// Config holds the configuration of one mounted cache.
type Config struct {
	// Prefix namespaces every key built by this instance
	Prefix string

	// PrefixFunc overrides Prefix per request, e.g. to tag entries by resource id
	PrefixFunc func(r *http.Request) string

	// Freshness
	TTL                  time.Duration // How long an entry is served as fresh
	StaleWhileRevalidate time.Duration // How long past TTL an entry may be served stale

	// Bypass rules, checked in order before any store access
	SkipMethods []string                  // Non-cacheable methods
	SkipPaths   []string                  // Excluded path prefixes
	Condition   func(r *http.Request) bool // Caller predicate; false bypasses the cache

	// VaryBy lists request headers that participate in the key
	VaryBy []string

	// Identity returns the user id for personalised keys.
	// Defaults to the id stored with cache.WithIdentity.
	Identity func(r *http.Request) string

	// Storage
	Compress            bool             // Compress stored bodies
	Compressor          cache.Compressor // Defaults to gzip
	MaxBodyBytes        int64            // Larger responses are not stored
	CompressionMinBytes int              // Smallest body considered for compression
	CompressionMinRatio float64          // Largest compressed/original ratio kept

	// Revalidation worker pool for stale hits
	Revalidation RevalidatorConfig

	// Revalidate receives rebuilt requests for background refreshes; set it
	// to the root router when keys or handlers read per-request router state
	// (e.g. chi URL params). Defaults to this cache's own handler chain.
	Revalidate http.Handler

	// Logger defaults to the global logger with component=cache-middleware
	Logger *zerolog.Logger

	// Clock defaults to time.Now
	Clock func() time.Time
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:                  cache.DefaultTTL,
		StaleWhileRevalidate: cache.DefaultStaleWindow,
		SkipMethods: []string{
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		SkipPaths: []string{
			"/auth",
			"/admin",
			"/account",
			"/cart",
			"/orders",
			"/payment",
		},
		VaryBy:              []string{"Accept", "User-Agent"},
		Compress:            true,
		MaxBodyBytes:        cache.DefaultMaxBodyBytes,
		CompressionMinBytes: cache.DefaultCompressionMinBytes,
		CompressionMinRatio: cache.DefaultCompressionMinRatio,
		Revalidation:        DefaultRevalidatorConfig(),
	}
}

// window converts the configuration into a freshness policy.
// A non-positive TTL falls back to cache.DefaultTTL.
func (c Config) window() cache.Window {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return cache.Window{
		TTL:                 ttl,
		StaleWindow:         c.StaleWhileRevalidate,
		MaxBodyBytes:        c.MaxBodyBytes,
		CompressionMinBytes: c.CompressionMinBytes,
		CompressionMinRatio: c.CompressionMinRatio,
	}.Normalize()
}
