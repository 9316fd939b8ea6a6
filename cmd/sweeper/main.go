package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/therafiali/internal-app-sub002/internal/claim"
	"github.com/therafiali/internal-app-sub002/internal/config"
	"github.com/therafiali/internal-app-sub002/internal/feed"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

// Standalone claim sweeper for deployments that run the API with the
// in-process sweeper disabled, or want expiry to survive API restarts.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var publisher feed.Publisher = feed.Nop{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		publisher = feed.NewRedis(redisClient, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := claim.NewSweeper(store.NewPostgres(pool), publisher, logger, cfg.ClaimLease, cfg.SweepInterval)

	logger.Info("claim sweeper running", "lease", cfg.ClaimLease.String(), "interval", cfg.SweepInterval.String())
	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sweeper error", "error", err)
		os.Exit(1)
	}
}
