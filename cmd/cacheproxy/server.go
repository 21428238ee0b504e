package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/invalidation"
	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/metrics"
	"github.com/Sternrassler/respcache/pkg/middleware"
	"github.com/Sternrassler/respcache/pkg/origin"
)

// route is a cached path prefix with its own middleware instance.
type route struct {
	prefix  string
	cache   *middleware.Middleware
	handler http.Handler
}

// rule is a compiled invalidation rule.
type rule struct {
	methods map[string]struct{}
	prefix  string
	handler http.Handler
}

type server struct {
	store  cache.Store
	engine *invalidation.Engine
	routes []route // longest prefix first
	rules  []rule
	logger zerolog.Logger
}

func newServer(originURL *url.URL, st cache.Store, fc FileConfig, logger zerolog.Logger) (*server, error) {
	retry, err := fc.Origin.retryConfig()
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	proxy := newReverseProxy(originURL, retry, logger)

	invLogger := logger.With().Str("component", "invalidation").Logger()
	s := &server{
		store:  st,
		engine: invalidation.New(st, &invLogger),
		logger: logger,
	}

	routes := fc.Routes
	if !hasRootRoute(routes) {
		routes = append(routes, RouteConfig{Prefix: "/"})
	}
	for _, rc := range routes {
		cfg, err := rc.middlewareConfig()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("route %s: %w", rc.Prefix, err)
		}
		mwLogger := logger.With().Str("component", "cache-middleware").Str("route", rc.Prefix).Logger()
		cfg.Logger = &mwLogger

		mw, err := middleware.New(st, cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.routes = append(s.routes, route{prefix: rc.Prefix, cache: mw, handler: mw.Handler(proxy)})
	}
	sort.SliceStable(s.routes, func(i, j int) bool {
		return len(s.routes[i].prefix) > len(s.routes[j].prefix)
	})

	for _, ir := range fc.Invalidate {
		methods := make(map[string]struct{}, len(ir.Methods))
		for _, m := range ir.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		s.rules = append(s.rules, rule{
			methods: methods,
			prefix:  ir.PathPrefix,
			handler: invalidation.Middleware(s.engine, expandPatterns(ir.Patterns))(proxy),
		})
	}
	return s, nil
}

// Handler returns the HTTP entry point of the proxy.
func (s *server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.RequestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/_cache/invalidate", s.handleInvalidate)
	r.Handle("/*", http.HandlerFunc(s.dispatch))
	return r
}

// Close stops the revalidation pools. The store is closed by the caller.
func (s *server) Close() {
	for _, rt := range s.routes {
		rt.cache.Close()
	}
}

func (s *server) dispatch(w http.ResponseWriter, r *http.Request) {
	for _, rl := range s.rules {
		if _, ok := rl.methods[r.Method]; ok && strings.HasPrefix(r.URL.Path, rl.prefix) {
			rl.handler.ServeHTTP(w, r)
			return
		}
	}
	for _, rt := range s.routes {
		if strings.HasPrefix(r.URL.Path, rt.prefix) {
			rt.handler.ServeHTTP(w, r)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Store not ready")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "READY")
}

type invalidateRequest struct {
	Patterns []string `json:"patterns"`
}

type invalidateResponse struct {
	Deleted int `json:"deleted"`
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Patterns) == 0 {
		http.Error(w, "patterns required", http.StatusBadRequest)
		return
	}

	n := s.engine.Invalidate(r.Context(), req.Patterns...)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(invalidateResponse{Deleted: n})
}

// newReverseProxy forwards to target through a retrying transport.
// Outbound requests drop Accept-Encoding so the origin answers with
// identity bodies the cache can store.
func newReverseProxy(target *url.URL, retry origin.RetryConfig, logger zerolog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
		req.Header.Del("Accept-Encoding")
	}
	originLogger := logger.With().Str("component", "origin").Logger()
	proxy.Transport = origin.NewTransport(http.DefaultTransport, retry, &originLogger)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Origin request failed")
		http.Error(w, "origin unavailable", http.StatusBadGateway)
	}
	return proxy
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`)

// expandPatterns returns a PatternFunc substituting {last} with the
// last segment of the request path, glob metacharacters escaped.
func expandPatterns(patterns []string) invalidation.PatternFunc {
	return func(r *http.Request) []string {
		last := globEscaper.Replace(path.Base(path.Clean("/" + r.URL.Path)))
		out := make([]string, len(patterns))
		for i, p := range patterns {
			out[i] = strings.ReplaceAll(p, "{last}", last)
		}
		return out
	}
}

func hasRootRoute(routes []RouteConfig) bool {
	for _, r := range routes {
		if r.Prefix == "/" {
			return true
		}
	}
	return false
}
