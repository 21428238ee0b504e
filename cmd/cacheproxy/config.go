package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/respcache/pkg/middleware"
	"github.com/Sternrassler/respcache/pkg/origin"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port        string
	OriginURL   string
	Store       string // redis, sqlite, leveldb, memory
	RedisURL    string
	SQLitePath  string
	LevelDBPath string
	StoreFormat string // json, msgpack, cbor
	LogLevel    string
	LogPretty   bool
	CacheConfig string // optional YAML route file
}

func loadConfig() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		OriginURL:   getEnv("ORIGIN_URL", ""),
		Store:       strings.ToLower(getEnv("STORE", "redis")),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),
		SQLitePath:  getEnv("SQLITE_PATH", "cache.db"),
		LevelDBPath: getEnv("LEVELDB_PATH", "cache.ldb"),
		StoreFormat: getEnv("STORE_FORMAT", "json"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CacheConfig: getEnv("CACHE_CONFIG", ""),
	}

	pretty, err := strconv.ParseBool(getEnv("LOG_PRETTY", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("LOG_PRETTY: %w", err)
	}
	cfg.LogPretty = pretty

	if cfg.OriginURL == "" {
		return Config{}, fmt.Errorf("ORIGIN_URL is required")
	}
	return cfg, nil
}

// FileConfig is the optional YAML file describing cached routes and
// invalidation rules.
//
//	routes:
//	  - prefix: /products
//	    keyPrefix: products
//	    ttl: 5m
//	    staleWhileRevalidate: 1m
//	origin:
//	  retries: 3
//	  retryBackoff: 100ms
//	invalidate:
//	  - methods: [PUT, PATCH, DELETE]
//	    pathPrefix: /products/
//	    patterns: ["product_detail:{last}*", "products:*"]
type FileConfig struct {
	Origin     OriginConfig     `yaml:"origin"`
	Routes     []RouteConfig    `yaml:"routes"`
	Invalidate []InvalidateRule `yaml:"invalidate"`
}

// OriginConfig tunes retries of idempotent origin requests.
type OriginConfig struct {
	Retries         int    `yaml:"retries"` // attempts including the first; 1 disables retries
	RetryBackoff    string `yaml:"retryBackoff"`
	MaxRetryBackoff string `yaml:"maxRetryBackoff"`
}

// RouteConfig overrides cache defaults for a path prefix.
type RouteConfig struct {
	Prefix               string   `yaml:"prefix"`
	KeyPrefix            string   `yaml:"keyPrefix"`
	TTL                  string   `yaml:"ttl"`
	StaleWhileRevalidate string   `yaml:"staleWhileRevalidate"`
	MaxBodyBytes         int64    `yaml:"maxBodyBytes"`
	Compress             *bool    `yaml:"compress"`
	VaryBy               []string `yaml:"varyBy"`
	SkipPaths            []string `yaml:"skipPaths"`
}

// InvalidateRule deletes patterns after a successful matching request.
// "{last}" in a pattern is replaced by the last path segment.
type InvalidateRule struct {
	Methods    []string `yaml:"methods"`
	PathPrefix string   `yaml:"pathPrefix"`
	Patterns   []string `yaml:"patterns"`
}

func loadFileConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	var fc FileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if _, err := fc.Origin.retryConfig(); err != nil {
		return FileConfig{}, fmt.Errorf("origin: %w", err)
	}
	for i, r := range fc.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return FileConfig{}, fmt.Errorf("routes[%d].prefix: must start with /", i)
		}
		if _, err := r.middlewareConfig(); err != nil {
			return FileConfig{}, fmt.Errorf("routes[%d]: %w", i, err)
		}
	}
	for i, r := range fc.Invalidate {
		if len(r.Patterns) == 0 {
			return FileConfig{}, fmt.Errorf("invalidate[%d].patterns: required", i)
		}
		if len(r.Methods) == 0 {
			fc.Invalidate[i].Methods = []string{"POST", "PUT", "PATCH", "DELETE"}
		}
	}
	return fc, nil
}

// retryConfig applies the overrides to origin.DefaultRetryConfig.
func (o OriginConfig) retryConfig() (origin.RetryConfig, error) {
	cfg := origin.DefaultRetryConfig()
	if o.Retries > 0 {
		cfg.MaxAttempts = o.Retries
	}
	if o.RetryBackoff != "" {
		d, err := time.ParseDuration(o.RetryBackoff)
		if err != nil {
			return cfg, fmt.Errorf("retryBackoff: %w", err)
		}
		cfg.InitialBackoff = d
	}
	if o.MaxRetryBackoff != "" {
		d, err := time.ParseDuration(o.MaxRetryBackoff)
		if err != nil {
			return cfg, fmt.Errorf("maxRetryBackoff: %w", err)
		}
		cfg.MaxBackoff = d
	}
	return cfg, nil
}

// middlewareConfig applies the route overrides to middleware.DefaultConfig.
func (r RouteConfig) middlewareConfig() (middleware.Config, error) {
	cfg := middleware.DefaultConfig()
	cfg.Prefix = r.KeyPrefix

	if r.TTL != "" {
		d, err := time.ParseDuration(r.TTL)
		if err != nil {
			return cfg, fmt.Errorf("ttl: %w", err)
		}
		cfg.TTL = d
	}
	if r.StaleWhileRevalidate != "" {
		d, err := time.ParseDuration(r.StaleWhileRevalidate)
		if err != nil {
			return cfg, fmt.Errorf("staleWhileRevalidate: %w", err)
		}
		cfg.StaleWhileRevalidate = d
	}
	if r.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = r.MaxBodyBytes
	}
	if r.Compress != nil {
		cfg.Compress = *r.Compress
	}
	if r.VaryBy != nil {
		cfg.VaryBy = r.VaryBy
	}
	if r.SkipPaths != nil {
		cfg.SkipPaths = r.SkipPaths
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
