// Package metrics exposes the Prometheus metrics of the response cache.
// Collectors are defined with promauto in the packages that update them
// (cache, store, middleware, invalidation); this package serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all respcache collectors use.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source scraped by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/middleware):
//   - respcache_requests_total{status} (Counter): hit, stale, miss, bypass, not_modified
//   - respcache_writes_total{result} (Counter): stored, skipped_status, skipped_size, skipped_policy, error
//   - respcache_middleware_store_errors_total{operation} (Counter): store failures absorbed (fail open)
//   - respcache_revalidations_total{result} (Counter): ok, error, dropped, skipped
//
// Codec Metrics (pkg/cache):
//   - respcache_compression_ratio (Histogram): compressed/original size of compressed bodies
//
// Store Metrics (pkg/store):
//   - respcache_store_errors_total{backend, operation} (Counter): backend failures
//   - respcache_store_self_healed_total{backend} (Counter): corrupt entries deleted on read
//
// Invalidation Metrics (pkg/invalidation):
//   - respcache_invalidated_keys_total (Counter): keys removed
//   - respcache_invalidation_errors_total{stage} (Counter): failed patterns by stage (list, delete, panic)
//
// Origin Metrics (pkg/origin):
//   - respcache_origin_retries_total{error_class} (Counter): retry attempts (server, unavailable, network)
//   - respcache_origin_retry_backoff_seconds{error_class} (Histogram): backoff before each retry
//   - respcache_origin_retry_exhausted_total{error_class} (Counter): requests that ran out of attempts
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate (fresh + stale)
//   sum(rate(respcache_requests_total{status=~"hit|stale|not_modified"}[5m])) /
//   sum(rate(respcache_requests_total{status!="bypass"}[5m]))
//
//   # Store Degradation
//   rate(respcache_middleware_store_errors_total[5m]) > 0
//
//   # Revalidation Drops
//   rate(respcache_revalidations_total{result="dropped"}[5m])
//
//   # P90 Compression Ratio
//   histogram_quantile(0.9, rate(respcache_compression_ratio_bucket[5m]))
