package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/dispenser/service/config"
	"github.com/brojonat/dispenser/service/db"
	"github.com/brojonat/dispenser/service/discord"
	"github.com/brojonat/dispenser/service/funder"
	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/nats"
	"github.com/brojonat/dispenser/service/server"
	"github.com/brojonat/dispenser/service/validator"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"claim_program", cfg.ClaimProgramID.String(),
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)

	// Funder keys are the only secrets the funding endpoint needs
	keys, err := funder.LoadKeys(cfg.FunderKeys)
	if err != nil {
		logger.Error("failed to load funder keys", "error", err)
		os.Exit(1)
	}
	funders := funder.NewRegistry(keys, logger)

	policy := cfg.Policy()
	v := validator.New(policy, m, logger)
	logger.Info("transaction policy loaded",
		"whitelisted_programs", policy.Whitelist.Len(),
		"max_compute_unit_price", policy.MaxComputeUnitPrice,
		"max_signatures", policy.MaxSignatures,
	)

	// NATS publisher (optional)
	var publisher nats.Publisher = nats.NopPublisher{}
	if cfg.NATSURL != "" {
		p, err := nats.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		publisher = p
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, funding events will not be published")
	}

	if cfg.MintAddress.IsZero() {
		logger.Warn("MINT_ADDRESS not set, funded account creation is not pinned to a mint")
	}

	httpServer := server.New(cfg.ServerAddr, v, funders, publisher, m, logger).
		WithRateLimit(cfg.FundRateLimit, cfg.FundRateBurst)

	// Discord identity signing (optional)
	if cfg.DiscordSignerKey != "" {
		guard, err := funder.LoadKey(cfg.DiscordSignerKey)
		if err != nil {
			logger.Error("failed to load discord signer key", "error", err)
			os.Exit(1)
		}
		exchanger := discord.NewCachingExchanger(discord.NewClient(cfg.DiscordAPIURL, nil, logger), 4096, cfg.DiscordCacheTTL)
		httpServer.WithDiscord(exchanger, discord.NewSigner(guard))
	}

	// Proof store (optional)
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		store := db.NewStore(dbPool)
		if err := store.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		httpServer.WithProofStore(store)
		logger.Info("connected to database")
	}

	logger.Info("server initialized, all dependencies ready",
		"funders", len(cfg.FunderKeys),
		"discord", cfg.DiscordSignerKey != "",
		"proof_store", cfg.DatabaseURL != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
