package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"forge/internal/config"
	"forge/internal/logger"
	"forge/internal/repository"
	"forge/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// The sweeper is a standalone retention daemon for deployments without Cloud
// Scheduler. It removes expired rate-limit window state and stale webhook
// idempotency ledger entries on a fixed interval.
func main() {
	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DBConnectionString)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	logger.Info().Msg("Database connection established")

	rlSvc := service.NewRateLimitService(repository.NewRateLimitRepo(pool), logger)
	eventRepo := repository.NewWebhookEventRepo(pool)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	interval := time.Duration(cfg.SweepIntervalSec) * time.Second
	logger.Info().Dur("interval", interval).Msg("Sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutdown signal received, exiting...")
			return
		case <-ticker.C:
			deleted, err := rlSvc.Cleanup(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("sweep failed")
				continue
			}
			pruned, err := eventRepo.DeleteProcessedBefore(ctx, time.Now().Add(-service.WebhookLedgerRetention))
			if err != nil {
				logger.Error().Err(err).Msg("webhook ledger prune failed")
				continue
			}
			logger.Info().Int64("deleted", deleted).Int64("pruned", pruned).Msg("sweep completed")
		}
	}
}
