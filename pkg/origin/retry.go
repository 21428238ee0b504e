// Package origin provides the HTTP transport used to reach the origin
// behind the cache.
package origin

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for origin retries.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_origin_retries_total",
		Help: "Total number of origin retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "respcache_origin_retry_backoff_seconds",
		Help:    "Backoff duration before origin retries by error class",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "respcache_origin_retry_exhausted_total",
		Help: "Total number of times origin retries were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for origin retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first request.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// Transport retries idempotent origin requests with exponential backoff.
//
// Only GET and HEAD requests are retried. When attempts run out on a 5xx
// response, the last response is returned so the caller can relay it.
// Network failures that exhaust all attempts return an *Error.
type Transport struct {
	base   http.RoundTripper
	config RetryConfig
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTransport wraps base (http.DefaultTransport if nil).
func NewTransport(base http.RoundTripper, config RetryConfig, logger *zerolog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	l := log.With().Str("component", "origin").Logger()
	if logger != nil {
		l = *logger
	}
	return &Transport{
		base:   base,
		config: config.withDefaults(),
		logger: l,
		sleep:  sleepContext,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	backoff := t.config.InitialBackoff
	var class ErrorClass

	for attempt := 1; ; attempt++ {
		resp, err := t.base.RoundTrip(req)
		class = Classify(resp, err)
		if class == ErrorClassNone {
			if attempt > 1 {
				t.logger.Info().
					Str("path", req.URL.Path).
					Int("attempt", attempt).
					Msg("Origin request succeeded after retry")
			}
			return resp, nil
		}

		if attempt >= t.config.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			t.logger.Warn().
				Str("error_class", string(class)).
				Str("path", req.URL.Path).
				Int("max_attempts", t.config.MaxAttempts).
				Msg("Origin retry attempts exhausted")
			if err != nil {
				return nil, &Error{Class: class, Attempts: attempt, Err: err}
			}
			return resp, nil
		}

		if resp != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		t.logger.Debug().
			Str("error_class", string(class)).
			Str("path", req.URL.Path).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying origin request after backoff")

		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}

		backoff = time.Duration(float64(backoff) * t.config.BackoffMultiplier)
		if backoff > t.config.MaxBackoff {
			backoff = t.config.MaxBackoff
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
