package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sbt-vault/engine/internal/api"
	"github.com/sbt-vault/engine/internal/api/handlers"
	mw "github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/security"
	"github.com/sbt-vault/engine/internal/services"
	"github.com/sbt-vault/engine/internal/storage"
	"github.com/sbt-vault/engine/pkg/config"
	"github.com/sbt-vault/engine/pkg/database"
	"github.com/sbt-vault/engine/pkg/logger"
)

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func main() {
	cfg := config.MustLoad()

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, logger.Options{File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting vault api",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, database.OptionsFrom(cfg))
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get sql handle", zap.Error(err))
	}
	log.Info("database connected")

	store, err := storage.NewLocalStore(cfg.StorageRoot, cfg.StoragePublicURL, cfg.Buckets())
	if err != nil {
		log.Fatal("failed to open object store", zap.Error(err))
	}

	health := map[string]handlers.Pinger{"database": sqlDB}

	// Without Redis, change events stay in-process and broadcasts run inline.
	hub := realtime.NewHub()
	hub.AllowOrigins(cfg.CORSOrigins...)
	var events realtime.Publisher = hub
	var queue services.TaskEnqueuer
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: 0})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer rdb.Close()
		health["redis"] = redisPinger{rdb: rdb}

		broker := realtime.NewRedisBroker(rdb, hub)
		events = broker
		go func() {
			if err := broker.Run(ctx); err != nil {
				log.Error("realtime broker stopped", zap.Error(err))
			}
		}()

		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: 0})
		defer client.Close()
		queue = client
	}

	gateOpts := security.Options{
		ReputationURL: cfg.ReputationURL,
		ReputationKey: cfg.ReputationKey,
		EchoURL:       cfg.EchoURL,
		FailClosed:    cfg.SecurityFailClosed,
		Timeout:       cfg.SecurityTimeout,
	}
	if cfg.GeoIPDBPath != "" {
		geo, err := security.OpenGeoIP(cfg.GeoIPDBPath)
		if err != nil {
			log.Warn("geoip disabled", zap.Error(err))
		} else {
			defer geo.Close()
			gateOpts.GeoIP = geo
		}
	}
	if cfg.ReputationKey == "" {
		log.Warn("REPUTATION_KEY not set; reputation lookups will likely fail",
			zap.Bool("fail_closed", cfg.SecurityFailClosed))
	}

	prometheus.MustRegister(security.Collectors()...)
	prometheus.MustRegister(realtime.Collectors()...)
	prometheus.MustRegister(mw.MetricsCollectors()...)

	limiter := mw.NewIPLimiter(0.2, 5)
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Sweep()
			}
		}
	}()

	router := api.NewRouter(api.Dependencies{
		Auth:           services.NewAuthService(db, []byte(cfg.JWTSecret), cfg.TokenTTL, events),
		Identity:       services.NewIdentityService(db, store, cfg.AvatarBucket, events),
		Mint:           services.NewMintService(db, store, cfg.ProofBuckets, events),
		Inventory:      services.NewInventoryService(db, events),
		Notifications:  services.NewNotificationService(db, store, cfg.AnnouncementBucket, queue, events),
		Analytics:      services.NewAnalyticsService(db, cfg.ArtifactPrice),
		Gate:           security.NewGate(gateOpts),
		Hub:            hub,
		Storage:        store.Handler(),
		Health:         health,
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SignupLimiter:  limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
