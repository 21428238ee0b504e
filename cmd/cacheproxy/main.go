// Command cacheproxy is a caching reverse proxy in front of an HTTP origin.
package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/respcache/pkg/logging"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	}).With().Str("component", "cacheproxy").Logger()

	originURL, err := url.Parse(cfg.OriginURL)
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		logger.Fatal().Str("origin", cfg.OriginURL).Msg("ORIGIN_URL must be an absolute URL")
	}

	fc, err := loadFileConfig(cfg.CacheConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load cache config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("Failed to open cache store")
	}
	defer st.Close()
	logger.Info().Str("store", cfg.Store).Str("format", cfg.StoreFormat).Msg("Cache store ready")

	srv, err := newServer(originURL, st, fc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build server")
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("origin", originURL.String()).Msg("Starting cache proxy")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
