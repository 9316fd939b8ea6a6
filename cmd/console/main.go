package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/therafiali/internal-app-sub002/internal/api"
	"github.com/therafiali/internal-app-sub002/internal/claim"
	"github.com/therafiali/internal-app-sub002/internal/config"
	"github.com/therafiali/internal-app-sub002/internal/feed"
	"github.com/therafiali/internal-app-sub002/internal/security"
	"github.com/therafiali/internal-app-sub002/internal/settlement"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	allowlist, err := security.ParseCIDRAllowlist(cfg.APIAllowlist)
	if err != nil {
		logger.Error("invalid API_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgres(pool)

	var publisher feed.Publisher = feed.Nop{}
	var claimThrottle *security.Throttle
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()

		publisher = feed.NewRedis(redisClient, logger)
		if cfg.RateLimitCapacity > 0 {
			claimThrottle = &security.Throttle{
				Redis:  redisClient,
				Prefix: "console_claims",
				Burst:  cfg.RateLimitCapacity,
				Refill: cfg.RateLimitRefill,
			}
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		kf := feed.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kf.Close()
		publisher = feed.Fanout{publisher, kf}
	}

	coordinator := claim.NewCoordinator(st, publisher, logger)
	engine := settlement.NewEngine(st, st, st, publisher, logger)

	router, err := api.NewRouter(api.Dependencies{
		Logger:        logger,
		Claims:        coordinator,
		Settlement:    engine,
		Store:         st,
		ClaimThrottle: claimThrottle,
		IPAllowlist:   allowlist,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := claim.NewSweeper(st, publisher, logger, cfg.ClaimLease, cfg.SweepInterval)
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("claim sweeper stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("console api listening", "addr", cfg.APIAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
