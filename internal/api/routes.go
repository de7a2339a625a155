// Package api provides the HTTP API for the unlockd server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mosaicworks/unlockd/internal/api/handlers"
	"github.com/mosaicworks/unlockd/internal/api/middleware"
	"github.com/mosaicworks/unlockd/internal/config"
	"github.com/mosaicworks/unlockd/internal/db"
	"github.com/mosaicworks/unlockd/internal/metrics"
	"github.com/mosaicworks/unlockd/internal/payments"
	"github.com/mosaicworks/unlockd/internal/token"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// Environment selects dev/staging/production behavior (CORS, error redaction).
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// RedisURL enables the shared Redis rate-limit store when set.
	RedisURL string
	// Payment holds the chain and pricing settings echoed in challenges.
	Payment config.PaymentConfig
	// Networks maps network names to explorer URLs.
	Networks config.NetworkCatalog
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		Networks:          config.DefaultNetworkCatalog(),
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	database *db.DB,
	chainHealth handlers.ChainHealthChecker,
	issuer *payments.ChallengeIssuer,
	service *payments.Service,
	tokens *token.Issuer,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))

	// Rate limiting
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health check endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(database, chainHealth, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	r.Engine.GET("/metrics", gin.WrapH(m.Handler()))

	// Version endpoint (no auth required)
	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, cfg.Payment.Network, logger)
	versionHandler.RegisterPublicRoutes(r.Engine)

	// API v1 routes. Payment endpoints carry their own proof; there is no
	// session layer in front of them.
	apiV1 := r.Engine.Group("/api/v1")

	challengesHandler := handlers.NewChallengesHandler(issuer, cfg.Payment, m, logger)
	challengesHandler.RegisterRoutes(apiV1)

	verifyHandler := handlers.NewVerifyHandler(service, cfg.Networks, cfg.Payment.Network, cfg.Environment, logger)
	verifyHandler.RegisterRoutes(apiV1)

	resourcesHandler := handlers.NewResourcesHandler(database, tokens, issuer, cfg.Payment, logger)
	resourcesHandler.RegisterRoutes(apiV1)

	entitlementsHandler := handlers.NewEntitlementsHandler(database, tokens, logger)
	entitlementsHandler.RegisterRoutes(apiV1)

	return r, nil
}
