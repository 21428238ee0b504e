// Package invalidation removes cached responses by key pattern.
//
// Patterns use Redis glob syntax; '*' spans key separators, so
// "product_detail:42*" removes every variant cached for product 42.
package invalidation

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// Prometheus metrics for invalidation.
var (
	invalidatedKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "respcache_invalidated_keys_total",
		Help: "Total number of cache keys removed by invalidation",
	})

	invalidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_invalidation_errors_total",
		Help: "Total number of failed invalidation patterns by stage",
	}, []string{"stage"}) // list, delete
)

// Engine deletes store keys matching glob patterns.
type Engine struct {
	store  cache.Store
	logger zerolog.Logger
}

// New creates an invalidation engine. A nil logger uses the global logger
// with component=invalidation.
func New(store cache.Store, logger *zerolog.Logger) *Engine {
	l := log.With().Str("component", "invalidation").Logger()
	if logger != nil {
		l = *logger
	}
	return &Engine{store: store, logger: l}
}

// Invalidate deletes every key matching any of patterns and returns how
// many were removed. A failing pattern is logged and skipped; the others
// still run.
func (e *Engine) Invalidate(ctx context.Context, patterns ...string) int {
	total := 0
	for _, pattern := range patterns {
		n, err := e.invalidate(ctx, pattern)
		if err != nil {
			e.logger.Warn().Err(err).Str("pattern", pattern).Msg("Invalidation pattern failed")
			continue
		}
		total += n
	}
	invalidatedKeys.Add(float64(total))
	e.logger.Debug().Strs("patterns", patterns).Int("deleted", total).Msg("Cache invalidated")
	return total
}

func (e *Engine) invalidate(ctx context.Context, pattern string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			invalidationErrors.WithLabelValues("panic").Inc()
			n, err = 0, &panicError{value: r}
		}
	}()

	keys, err := e.store.ListByPattern(ctx, pattern)
	if err != nil {
		invalidationErrors.WithLabelValues("list").Inc()
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err = e.store.Delete(ctx, keys...)
	if err != nil {
		invalidationErrors.WithLabelValues("delete").Inc()
		return 0, err
	}
	return n, nil
}

// PatternFunc derives the patterns to invalidate from a completed request.
type PatternFunc func(r *http.Request) []string

// Static returns a PatternFunc that always yields patterns.
func Static(patterns ...string) PatternFunc {
	return func(*http.Request) []string { return patterns }
}

// Middleware runs the engine after next completes with a 2xx status.
// Invalidation finishes before the handler returns, so a client that
// receives the mutation response observes the invalidated cache.
func Middleware(engine *Engine, patterns PatternFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			if !cache.IsSuccess(sw.Status()) {
				return
			}
			p := patterns(r)
			if len(p) == 0 {
				return
			}
			n := engine.Invalidate(context.WithoutCancel(r.Context()), p...)
			hlog.FromRequest(r).Debug().Int("deleted", n).Strs("patterns", p).Msg("Post-mutation invalidation")
		})
	}
}
