// Package app opens the infrastructure shared by the storefront binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/config"
	"github.com/noah-isme/storefront-engine/internal/db"
	"github.com/noah-isme/storefront-engine/internal/obs"
	"github.com/noah-isme/storefront-engine/internal/resilience"
)

// Dependencies holds the long-lived clients of one process.
type Dependencies struct {
	DB    *pgxpool.Pool
	Redis *redis.Client

	shutdownTracer func(context.Context) error
}

// Open connects Postgres and Redis, applies migrations when configured and installs the
// tracer provider. name identifies the process in traces and pg_stat_activity.
func Open(ctx context.Context, cfg *config.Config, name string, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{shutdownTracer: func(context.Context) error { return nil }}

	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   name,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			deps.shutdownTracer = shutdown
		}
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}

	pool, err := OpenPostgres(ctx, cfg.DatabaseURL, name)
	if err != nil {
		return nil, err
	}
	deps.DB = pool

	rdb, err := OpenRedis(ctx, cfg.RedisURL, cfg.Obs.MetricsEnabled, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	deps.Redis = rdb
	return deps, nil
}

// OpenPostgres builds a traced pgx pool and pings it.
func OpenPostgres(ctx context.Context, url, name string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = name

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis builds an instrumented Redis client and pings it.
func OpenRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// OutboundClient builds the resilient client used for calls to target.
func OutboundClient(cfg config.OutboundConfig, target string, attempts int, logger zerolog.Logger) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client: resilience.NewInstrumentedClient(cfg.Timeout),
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       target,
			MinRequests:  cfg.CircuitMinRequests,
			FailureRatio: cfg.CircuitFailureRatio,
			OpenFor:      cfg.CircuitOpenFor,
			Logger:       &logger,
		}),
		Target:      target,
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: attempts,
		Jitter:      cfg.RetryJitter,
		Timeout:     cfg.Timeout,
	}
}

// Close releases every client and flushes pending spans.
func (d *Dependencies) Close(ctx context.Context, logger zerolog.Logger) {
	if d == nil {
		return
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if err := d.shutdownTracer(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown tracer")
	}
}
