package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/access"
	"github.com/chathub-io/chathub/internal/api"
	"github.com/chathub-io/chathub/internal/bus"
	"github.com/chathub-io/chathub/internal/config"
	"github.com/chathub-io/chathub/internal/hub"
	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/presence"
	"github.com/chathub-io/chathub/internal/ratelimit"
	"github.com/chathub-io/chathub/internal/receipts"
	"github.com/chathub-io/chathub/internal/server"
	"github.com/chathub-io/chathub/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	collector := metrics.NewCollector()

	// Event bus
	redisClient := redisClientOrNil(redisStore)
	eventBus, err := bus.New(cfg.BusBackend, redisClient, collector, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bus setup failed")
	}
	defer eventBus.Close()

	// Presence manager
	var typing presence.Manager = presence.Disabled{}
	if cfg.TypingEnabled {
		if redisStore != nil {
			typing = presence.NewRedis(redisClient, cfg.TypingTimeout, logger)
		} else {
			typing = presence.NewMemory(cfg.TypingTimeout, logger)
		}
	}
	defer typing.Close()

	// Receipts manager
	var acks receipts.Manager = receipts.Disabled{}
	if cfg.ReceiptsEnabled {
		if redisStore != nil {
			acks = receipts.NewRedis(redisClient)
		} else {
			acks = receipts.NewMemory()
		}
	}
	defer acks.Close()

	// Access control against the external membership data
	var membership access.MembershipProvider
	if redisStore != nil {
		membership = access.NewRedisMembership(redisClient)
	} else {
		logger.Warn().Msg("no membership store configured, chat rooms deny all non-admins")
		membership = access.StaticMembership{}
	}
	authorizer := access.NewAuthorizer(membership, logger)

	// Assemble the hub and the connection server
	h := hub.New(cfg, eventBus, typing, acks, authorizer, collector, logger)
	verifier := server.NewStaticVerifier(cfg.AuthTokens)
	srv := server.New(h, verifier, ratelimit.New(nil), logger)
	defer srv.Close()

	router := api.NewRouter(cfg, logger, srv, collector, redisStore)

	// Create server
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own write deadlines
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("bus", cfg.BusBackend).
			Msg("starting chathub server")

		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func redisClientOrNil(s *store.RedisStore) *redis.Client {
	if s == nil {
		return nil
	}
	return s.Client()
}
