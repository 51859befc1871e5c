package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/bassline-events/mailroom-backend/api/routes"
	"github.com/bassline-events/mailroom-backend/internal/captcha"
	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/internal/ratelimit"
	"github.com/bassline-events/mailroom-backend/internal/verification"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/db"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
	"github.com/bassline-events/mailroom-backend/pkg/migrate"
	"github.com/bassline-events/mailroom-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	queueRepo := mailqueue.NewRepository(dbClient.DB())
	kicker := mailqueue.NewRedisKicker(redisClient, logg)
	queueService, err := mailqueue.NewService(queueRepo, cfg.Queue, logg, kicker)
	if err != nil {
		logg.Error(context.Background(), "failed to create mail queue service", err)
		os.Exit(1)
	}

	statsService, err := mailqueue.NewStatsService(queueRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create stats service", err)
		os.Exit(1)
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, ratelimit.NewRedisStore(redisClient))
	if err != nil {
		logg.Error(context.Background(), "failed to create rate limiter", err)
		os.Exit(1)
	}

	verificationService, err := verification.NewService(
		verification.NewRepository(dbClient.DB()),
		limiter,
		queueService,
		cfg.Verification,
		cfg.SMTP,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create verification service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			Captcha:      captcha.NewVerifier(cfg.Captcha, logg),
			Verification: verificationService,
			Queue:        queueService,
			Stats:        statsService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
