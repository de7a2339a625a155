// Package main is the entrypoint for the unlockd server.
package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mosaicworks/unlockd/internal/api"
	"github.com/mosaicworks/unlockd/internal/chain"
	"github.com/mosaicworks/unlockd/internal/config"
	"github.com/mosaicworks/unlockd/internal/db"
	"github.com/mosaicworks/unlockd/internal/licensing"
	"github.com/mosaicworks/unlockd/internal/maintenance"
	"github.com/mosaicworks/unlockd/internal/metrics"
	"github.com/mosaicworks/unlockd/internal/payments"
	"github.com/mosaicworks/unlockd/internal/token"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting unlockd server")

	// Load configuration
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
		return 1
	}

	// Connect to database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(databaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Initialize the access token issuer
	if cfg.SigningKeyHex == "" {
		logger.Fatal().Msg("TOKEN_SIGNING_KEY environment variable is required")
		return 1
	}
	seed, err := hex.DecodeString(cfg.SigningKeyHex)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to decode TOKEN_SIGNING_KEY (expected hex-encoded Ed25519 seed)")
		return 1
	}
	tokens, err := token.NewIssuer(seed)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize token issuer")
		return 1
	}

	// Connect to the chain RPC endpoint
	if cfg.Payment.RPCURL == "" {
		logger.Fatal().Msg("RPC_URL environment variable is required")
		return 1
	}
	chainClient, err := chain.Dial(ctx, cfg.Payment.RPCURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to chain RPC")
		return 1
	}
	defer chainClient.Close()

	verifier := chain.NewTransferVerifier(chainClient, logger)

	// License minting is optional; without a licensing service commercial
	// unlocks still settle, they just carry no external license ID.
	var minter licensing.Minter = licensing.NoopMinter{}
	if cfg.LicensingURL != "" {
		minter = licensing.NewHTTPMinter(cfg.LicensingURL, logger)
		logger.Info().Str("url", cfg.LicensingURL).Msg("License minting enabled")
	} else {
		logger.Info().Msg("No licensing service configured - license minting disabled")
	}

	m := metrics.New()
	issuer := payments.NewChallengeIssuer(database, cfg.Payment, logger)
	service := payments.NewService(database, verifier, minter, tokens, cfg.Payment, m, logger)

	// Parse CORS / rate-limit settings
	var allowedOrigins []string
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				allowedOrigins = append(allowedOrigins, trimmed)
			}
		}
	}

	rateLimitRequests := int64(100)
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitRequests = n
		}
	}
	rateLimitPeriod := os.Getenv("RATE_LIMIT_PERIOD")
	if rateLimitPeriod == "" {
		rateLimitPeriod = "1m"
	}

	// Network catalog: NETWORKS_CONFIG points at a YAML file overriding the
	// built-in chains; unset (or a missing file) keeps the defaults.
	networks, err := config.LoadNetworkCatalog(os.Getenv("NETWORKS_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load network catalog")
		return 1
	}
	if _, ok := networks.Lookup(cfg.Payment.Network); !ok {
		logger.Warn().Str("network", cfg.Payment.Network).Msg("Configured network missing from catalog; explorer links will be bare hashes")
	}

	routerCfg := api.Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: rateLimitRequests,
		RateLimitPeriod:   rateLimitPeriod,
		RedisURL:          cfg.RedisURL,
		Payment:           cfg.Payment,
		Networks:          networks,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	}

	router, err := api.NewRouter(routerCfg, database, chainClient, issuer, service, tokens, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	// Start HTTP server
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		listenAddr = ":" + port
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info().Str("addr", listenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start challenge cleanup scheduler
	cleanup := maintenance.NewCleanupScheduler(database, os.Getenv("CLEANUP_SCHEDULE"), logger)
	if err := cleanup.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start challenge cleanup scheduler")
	}
	defer cleanup.Stop()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
