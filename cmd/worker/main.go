package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/storefront-engine/internal/app"
	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/config"
	"github.com/noah-isme/storefront-engine/internal/jobs"
	"github.com/noah-isme/storefront-engine/internal/obs"
)

const serviceName = "storefront-worker"

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireWorker()
	}
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(serviceName, cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := app.OpenPostgres(ctx, cfg.DatabaseURL, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	carts := &cart.Service{
		Repo:         cart.NewPGRepository(pool),
		TTL:          cfg.CartTTL,
		SyncTokenTTL: cfg.SyncTokenTTL,
		Logger:       logger,
	}
	handlers := jobs.Handlers{Carts: carts, Logger: logger}
	asynqLogger := jobs.Logger{L: logger}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{jobs.Queue: 1},
		Logger:          asynqLogger,
		ShutdownTimeout: 10 * time.Second,
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger, Location: time.UTC})
	if err := jobs.Register(scheduler, jobs.Schedules(cfg.CartPurgeCron, cfg.TokenGCCron)); err != nil {
		logger.Fatal().Err(err).Msg("register schedules")
	}

	if err := srv.Start(handlers.Mux()); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().Str("purge_cron", cfg.CartPurgeCron).Str("token_gc_cron", cfg.TokenGCCron).Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("worker shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
