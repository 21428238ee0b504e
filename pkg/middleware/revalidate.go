package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RevalidatorConfig sizes the background revalidation pool.
type RevalidatorConfig struct {
	Workers   int           // Concurrent revalidations (default 4)
	QueueSize int           // Pending tasks before new ones are dropped (default 64)
	Timeout   time.Duration // Per-task deadline (default 30s)
}

// DefaultRevalidatorConfig returns the default pool configuration.
func DefaultRevalidatorConfig() RevalidatorConfig {
	return RevalidatorConfig{
		Workers:   4,
		QueueSize: 64,
		Timeout:   30 * time.Second,
	}
}

// Revalidator runs fire-and-forget refresh tasks on a bounded worker pool.
// At most one task per key is pending or running at a time. When the queue
// is full new tasks are dropped; the entry is simply refreshed by a later hit.
type Revalidator struct {
	q       chan func()
	wg      sync.WaitGroup
	timeout time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// NewRevalidator starts the worker pool.
func NewRevalidator(cfg RevalidatorConfig, logger zerolog.Logger) *Revalidator {
	def := DefaultRevalidatorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	v := &Revalidator{
		q:        make(chan func(), cfg.QueueSize),
		timeout:  cfg.Timeout,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
	v.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer v.wg.Done()
			for f := range v.q {
				f()
			}
		}()
	}
	return v
}

// Enqueue schedules task for key without blocking.
// The task gets a fresh context bounded by the pool timeout; it carries no
// values from the request that triggered it.
// Returns false if the task was deduplicated, dropped or the pool is closed.
func (v *Revalidator) Enqueue(key string, task func(ctx context.Context)) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}
	if _, busy := v.inflight[key]; busy {
		revalidations.WithLabelValues("skipped").Inc()
		return false
	}

	f := func() {
		defer v.done(key)
		defer func() {
			if r := recover(); r != nil {
				revalidations.WithLabelValues("error").Inc()
				v.logger.Error().Interface("panic", r).Str("key", key).Msg("Revalidation panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
		defer cancel()
		task(ctx)
	}

	select {
	case v.q <- f:
		v.inflight[key] = struct{}{}
		return true
	default:
		revalidations.WithLabelValues("dropped").Inc()
		v.logger.Debug().Str("key", key).Msg("Revalidation queue full, dropping task")
		return false
	}
}

func (v *Revalidator) done(key string) {
	v.mu.Lock()
	delete(v.inflight, key)
	v.mu.Unlock()
}

// Close stops accepting tasks and waits for queued ones to finish.
func (v *Revalidator) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	close(v.q)
	v.wg.Wait()
}
