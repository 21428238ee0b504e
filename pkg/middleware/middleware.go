// Package middleware provides the HTTP response cache.
//
// A Middleware wraps an origin handler: cacheable GET-style requests are
// answered from the store when a fresh or stale entry exists, otherwise the
// origin runs and its successful response is stored on the way out.
// Cache failures never reach the client; the worst case is an uncached response.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// Response headers set by the cache.
const (
	HeaderCache    = "X-Cache"
	HeaderCacheAge = "X-Cache-Age"
)

// X-Cache values.
const (
	StatusHit   = "HIT"
	StatusStale = "STALE"
	StatusMiss  = "MISS"
)

// Prometheus metrics for cache middleware operations.
var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_requests_total",
		Help: "Total cacheable requests by outcome",
	}, []string{"status"}) // hit, stale, miss, bypass, not_modified

	writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_writes_total",
		Help: "Total cache write decisions by result",
	}, []string{"result"}) // stored, skipped_status, skipped_size, skipped_policy, error

	storeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_middleware_store_errors_total",
		Help: "Store failures absorbed by the middleware by operation",
	}, []string{"operation"})

	revalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_revalidations_total",
		Help: "Total background revalidations by result",
	}, []string{"result"}) // ok, error, mismatch, dropped, skipped
)

// Middleware caches origin responses in a cache.Store.
type Middleware struct {
	store       cache.Store
	keys        cache.KeyBuilder
	codec       *cache.Codec
	window      cache.Window
	skipMethods map[string]struct{}
	skipPaths   []string
	condition   func(r *http.Request) bool
	vary        string
	via         http.Handler
	revalidator *Revalidator
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a cache middleware over store.
func New(store cache.Store, cfg Config) (*Middleware, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	logger := log.With().Str("component", "cache-middleware").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	window := cfg.window()
	codec := cache.NewCodec(cfg.Compress, window)
	if cfg.Compressor != nil {
		codec.Compressor = cfg.Compressor
	}
	codecLogger := logger.With().Str("component", "codec").Logger()
	codec.Logger = &codecLogger

	skipMethods := make(map[string]struct{}, len(cfg.SkipMethods))
	for _, method := range cfg.SkipMethods {
		skipMethods[strings.ToUpper(method)] = struct{}{}
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Middleware{
		store: store,
		keys: cache.KeyBuilder{
			Prefix:     cfg.Prefix,
			PrefixFunc: cfg.PrefixFunc,
			VaryBy:     cfg.VaryBy,
			Identity:   cfg.Identity,
		},
		codec:       codec,
		window:      window,
		skipMethods: skipMethods,
		skipPaths:   append([]string(nil), cfg.SkipPaths...),
		condition:   cfg.Condition,
		vary:        strings.Join(cfg.VaryBy, ", "),
		via:         cfg.Revalidate,
		revalidator: NewRevalidator(cfg.Revalidation, logger),
		logger:      logger,
		now:         now,
	}, nil
}

// Handler wraps next with the cache.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := m.requestLogger(r)

		if rv := revalidationFrom(r.Context()); rv != nil {
			if rv.owner == m {
				m.refresh(w, r, next, rv, logger)
			} else {
				next.ServeHTTP(w, r)
			}
			return
		}

		if reason := m.bypass(r); reason != "" {
			requests.WithLabelValues("bypass").Inc()
			logger.Debug().Str("reason", reason).Str("path", r.URL.Path).Msg("Cache bypass")
			next.ServeHTTP(w, r)
			return
		}

		key := m.keys.Build(r)
		entry := m.lookup(r.Context(), key, logger)
		now := m.now()

		switch cache.Classify(entry, now, m.window) {
		case cache.Fresh:
			if m.replay(w, r, entry, now, StatusHit, logger) {
				return
			}
		case cache.Stale:
			if m.replay(w, r, entry, now, StatusStale, logger) {
				if cache.ShouldTriggerRevalidation(entry, now, m.window) {
					m.revalidate(key, r, next, logger)
				}
				return
			}
		}

		m.fetch(w, r, next, key, logger)
	})
}

// Close stops the revalidation pool. It does not close the store.
func (m *Middleware) Close() {
	m.revalidator.Close()
}

// bypass returns why r must not touch the cache, or "" if it may.
func (m *Middleware) bypass(r *http.Request) string {
	if _, skip := m.skipMethods[r.Method]; skip {
		return "method"
	}
	for _, prefix := range m.skipPaths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return "path"
		}
	}
	if m.condition != nil && !m.condition(r) {
		return "condition"
	}
	return ""
}

// lookup returns the stored entry for key, or nil when there is none usable.
func (m *Middleware) lookup(ctx context.Context, key string, logger *zerolog.Logger) *cache.Entry {
	var entry *cache.Entry
	err := guard(func() error {
		var err error
		entry, err = m.store.Get(ctx, key)
		return err
	})

	switch {
	case err == nil:
		return entry
	case errors.Is(err, cache.ErrCacheMiss):
		return nil
	case errors.Is(err, cache.ErrInvalidEntry):
		logger.Debug().Err(err).Str("key", key).Msg("Discarding malformed cache entry")
		return nil
	default:
		storeFailures.WithLabelValues("get").Inc()
		logger.Warn().Err(err).Str("key", key).Msg("Cache get failed, falling back to origin")
		return nil
	}
}

// replay writes entry to the client. It returns false, having written
// nothing, if the entry cannot be decoded.
func (m *Middleware) replay(w http.ResponseWriter, r *http.Request, entry *cache.Entry, now time.Time, status string, logger *zerolog.Logger) bool {
	body := entry.Body
	encoding := ""
	if entry.Compressed {
		if cache.AcceptsEncoding(r, entry.Encoding) {
			encoding = entry.Encoding
		} else {
			decoded, err := cache.DecodeEntry(entry)
			if err != nil {
				logger.Warn().Err(err).Msg("Stored body could not be decoded, refetching")
				return false
			}
			body = decoded
		}
	}

	h := w.Header()
	for name, values := range entry.Header {
		h[name] = append([]string(nil), values...)
	}

	age := entry.Age(now)
	h.Set(HeaderCache, status)
	h.Set(HeaderCacheAge, strconv.FormatInt(int64(age/time.Second), 10))
	if entry.ETag != "" {
		h.Set("ETag", entry.ETag)
	}
	if status == StatusHit {
		h.Set("Cache-Control", fmt.Sprintf("max-age=%d, public", int64(m.window.Remaining(age)/time.Second)))
	}
	if m.vary != "" {
		h.Add("Vary", m.vary)
	}
	if entry.Compressed {
		h.Add("Vary", "Accept-Encoding")
	}

	if cache.ETagMatches(r.Header.Get("If-None-Match"), entry.ETag) {
		requests.WithLabelValues("not_modified").Inc()
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	if encoding != "" {
		h.Set("Content-Encoding", encoding)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(entry.StatusCode)
	if r.Method != http.MethodHead {
		if _, err := w.Write(body); err != nil {
			logger.Debug().Err(err).Msg("Client went away during cache replay")
		}
	}

	requests.WithLabelValues(strings.ToLower(status)).Inc()
	return true
}

// fetch runs the origin and stores its response.
func (m *Middleware) fetch(w http.ResponseWriter, r *http.Request, next http.Handler, key string, logger *zerolog.Logger) {
	requests.WithLabelValues("miss").Inc()
	w.Header().Set(HeaderCache, StatusMiss)
	if m.vary != "" {
		w.Header().Add("Vary", m.vary)
	}

	cw := newCaptureWriter(w, m.window.MaxBodyBytes)
	next.ServeHTTP(cw, r)

	// the client may already be gone; the write still completes
	m.save(context.WithoutCancel(r.Context()), key, cw, logger)
}

// revalidation marks a background refresh dispatched for one key.
type revalidation struct {
	owner  *Middleware
	key    string
	result string
}

type revalidationKey struct{}

func revalidationFrom(ctx context.Context) *revalidation {
	rv, _ := ctx.Value(revalidationKey{}).(*revalidation)
	return rv
}

// revalidate schedules a background refresh of key.
//
// The task rebuilds the request from its method, URL and headers on a fresh
// context and dispatches it through Config.Revalidate, or through this cache
// when unset. Nothing from the triggering request's context survives except
// the identity, so router state recycled after the response cannot leak into
// the task.
func (m *Middleware) revalidate(key string, r *http.Request, next http.Handler, logger *zerolog.Logger) {
	target := m.via
	if target == nil {
		target = m.Handler(next)
	}

	method, host, remote := r.Method, r.Host, r.RemoteAddr
	u := *r.URL
	header := r.Header.Clone()
	header.Del("If-None-Match")
	header.Del("If-Modified-Since")
	identity := cache.IdentityFromContext(r.Context())

	m.revalidator.Enqueue(key, func(ctx context.Context) {
		rv := &revalidation{owner: m, key: key}
		ctx = context.WithValue(ctx, revalidationKey{}, rv)
		if identity != "" {
			ctx = cache.WithIdentity(ctx, identity)
		}

		req, err := http.NewRequestWithContext(ctx, method, "/", nil)
		if err != nil {
			revalidations.WithLabelValues("error").Inc()
			logger.Warn().Err(err).Str("key", key).Msg("Revalidation request could not be built")
			return
		}
		req.URL = &u
		req.Header = header
		req.Host = host
		req.RemoteAddr = remote

		target.ServeHTTP(newCaptureWriter(nil, 0), req)

		switch rv.result {
		case "stored":
			revalidations.WithLabelValues("ok").Inc()
		case "mismatch":
			revalidations.WithLabelValues("mismatch").Inc()
		case "":
			revalidations.WithLabelValues("error").Inc()
			logger.Debug().Str("key", key).Msg("Revalidation request did not reach the cache")
		default:
			revalidations.WithLabelValues("error").Inc()
			logger.Debug().Str("key", key).Str("result", rv.result).Msg("Revalidation did not refresh entry")
		}
	})
}

// refresh runs the origin for a revalidation request and overwrites the
// entry. A request that no longer builds the key it was scheduled for is
// not run.
func (m *Middleware) refresh(w http.ResponseWriter, r *http.Request, next http.Handler, rv *revalidation, logger *zerolog.Logger) {
	if key := m.keys.Build(r); key != rv.key {
		rv.result = "mismatch"
		logger.Warn().Str("key", rv.key).Str("rebuilt", key).Msg("Revalidation request maps to a different key, discarding")
		return
	}

	cw := newCaptureWriter(w, m.window.MaxBodyBytes)
	next.ServeHTTP(cw, r)
	rv.result = m.save(r.Context(), rv.key, cw, logger)
}

// save stores a captured response if policy allows and returns the write result.
func (m *Middleware) save(ctx context.Context, key string, cw *captureWriter, logger *zerolog.Logger) string {
	status := cw.StatusCode()
	result := func() string {
		if !cache.IsSuccess(status) {
			return "skipped_status"
		}
		if cw.Overflowed() {
			logger.Debug().Str("key", key).Int64("max_bytes", m.window.MaxBodyBytes).Msg("Response too large to cache")
			return "skipped_size"
		}
		if ok, reason := cache.StorableResponse(cw.Header()); !ok {
			logger.Debug().Str("key", key).Str("reason", reason).Msg("Origin response not storable")
			return "skipped_policy"
		}

		var entry *cache.Entry
		err := guard(func() error {
			entry = m.buildEntry(cw.Body(), status, cw.Header())
			return m.store.SetWithTTL(ctx, key, entry, m.window.StorageTTL())
		})
		if err != nil {
			storeFailures.WithLabelValues("set").Inc()
			logger.Warn().Err(err).Str("key", key).Msg("Cache set failed")
			return "error"
		}

		logger.Debug().
			Str("key", key).
			Int("size", len(entry.Body)).
			Bool("compressed", entry.Compressed).
			Dur("ttl", m.window.StorageTTL()).
			Msg("Response cached")
		return "stored"
	}()

	writes.WithLabelValues(result).Inc()
	return result
}

func (m *Middleware) buildEntry(body []byte, status int, header http.Header) *cache.Entry {
	stored, compressed, etag := m.codec.Encode(append([]byte(nil), body...))
	entry := &cache.Entry{
		Body:       stored,
		StatusCode: status,
		Header:     cache.FilterHeaders(header),
		CreatedAt:  m.now(),
		ETag:       etag,
		Compressed: compressed,
	}
	if compressed {
		entry.Encoding = m.codec.Encoding()
	}
	return entry
}

func (m *Middleware) requestLogger(r *http.Request) *zerolog.Logger {
	if l := hlog.FromRequest(r); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &m.logger
}

// guard turns panics from store and codec calls into errors.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()
	return fn()
}
