package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sbt-vault/engine/pkg/config"
	"github.com/sbt-vault/engine/pkg/database"
	"github.com/sbt-vault/engine/pkg/logger"

	"github.com/sbt-vault/engine/internal/queue/tasks"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/services"
	"github.com/sbt-vault/engine/internal/storage"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, logger.Options{File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required for the worker")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, database.OptionsFrom(cfg))
	if err != nil {
		logger.L().Fatal("failed to open database", zap.Error(err))
	}

	store, err := storage.NewLocalStore(cfg.StorageRoot, cfg.StoragePublicURL, cfg.Buckets())
	if err != nil {
		logger.L().Fatal("failed to open object store", zap.Error(err))
	}

	// Fan-out rows reach API subscribers through the shared Redis channel.
	events := realtime.NewRedisBroker(rdb, realtime.NewHub())
	// The worker is the consumer, so it never enqueues.
	notifications := services.NewNotificationService(db, store, cfg.AnnouncementBucket, nil, events)

	mux := asynq.NewServeMux()
	tasks.NewBroadcastTaskHandler(notifications).Register(mux)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	srv.Shutdown()
}
