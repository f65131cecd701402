package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/api/middleware"
	"github.com/chathub-io/chathub/internal/config"
	"github.com/chathub-io/chathub/internal/handlers"
	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/ratelimit"
	"github.com/chathub-io/chathub/internal/server"
	"github.com/chathub-io/chathub/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil
// for single-instance deployments.
func NewRouter(cfg *config.Config, logger zerolog.Logger, srv *server.Server, collector *metrics.Collector, redisStore *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - clients connect from anywhere; the hub authenticates every
	// connection itself.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(collector, redisStore)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", collector.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Transport endpoints carry the cross-process connection-attempt
	// limit; everything past the handshake is throttled per command
	// class inside the connection server.
	r.Group(func(r chi.Router) {
		limiter := middleware.NewConnectLimiter(
			ratelimit.NewConnectLimiter(redisClientOrNil(redisStore)),
			collector,
			cfg.RateLimitWhitelist,
			logger,
		)
		r.Use(limiter.Middleware)

		r.Get("/ws", srv.HandleWS)
		r.Get("/events", srv.HandleSSE)
	})

	return r
}

func redisClientOrNil(s *store.RedisStore) *redis.Client {
	if s == nil {
		return nil
	}
	return s.Client()
}
