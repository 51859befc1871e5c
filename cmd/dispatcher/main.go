package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/db"
	"github.com/bassline-events/mailroom-backend/pkg/instance"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
	"github.com/bassline-events/mailroom-backend/pkg/mailer"
	"github.com/bassline-events/mailroom-backend/pkg/metrics"
	"github.com/bassline-events/mailroom-backend/pkg/migrate"
	"github.com/bassline-events/mailroom-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "dispatcher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "dispatcher"

	logg = logger.New(logger.Options{
		ServiceName: "dispatcher",
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

	sender, err := mailer.NewSMTPSender(cfg.SMTP)
	if err != nil {
		logg.Error(context.Background(), "failed to build smtp sender", err)
		os.Exit(1)
	}

	repo := mailqueue.NewRepository(dbClient.DB())
	queue, err := mailqueue.NewService(repo, cfg.Queue, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create queue service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	kicks, closeKicks, err := subscribeKicks(ctx, redisClient, logg)
	if err != nil {
		logg.Error(ctx, "failed to subscribe to dispatch kicks", err)
		os.Exit(1)
	}
	defer closeKicks()

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		Queue:    queue,
		Reaper:   repo,
		Sender:   sender,
		Metrics:  metrics.NewDispatcherMetrics(prometheus.DefaultRegisterer),
		WorkerID: instance.GetID(),
		Kicks:    kicks,
	})
	if err != nil {
		logg.Error(ctx, "failed to create dispatcher", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"workerId":    instance.GetID(),
	})
	logg.Info(ctx, "starting dispatcher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "dispatcher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "dispatcher shutting down gracefully")
}

// subscribeKicks bridges the redis kick channel onto a local channel the
// dispatch loop selects on.
func subscribeKicks(ctx context.Context, client *redis.Client, logg *logger.Logger) (<-chan struct{}, func(), error) {
	pubsub, err := client.Subscribe(ctx, client.ChannelKey(mailqueue.KickChannel))
	if err != nil {
		return nil, nil, err
	}

	kicks := make(chan struct{}, 1)
	go func() {
		defer close(kicks)
		for range pubsub.Channel() {
			select {
			case kicks <- struct{}{}:
			default:
			}
		}
	}()

	closeFn := func() {
		if err := pubsub.Close(); err != nil {
			logg.Warn(context.Background(), "error closing kick subscription")
		}
	}
	return kicks, closeFn, nil
}
