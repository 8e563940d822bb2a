package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"routelimit/internal/infra/adapter/persistence/postgres"
	"routelimit/internal/infra/adapter/persistence/redis"
	"routelimit/internal/infra/db"
	"routelimit/internal/resilience/circuitbreaker"
	"routelimit/pkg/config"
	"routelimit/pkg/ratelimit"
)

// backend is the counter store selected by RATELIMIT_DRIVER.
type backend struct {
	// store is nil for the memory driver; ratelimit.New then builds the
	// in-memory store with the limiter's clock and metrics.
	store ratelimit.CounterStore

	// db is set for the postgres driver.
	db *sql.DB

	closers []func() error
}

func (b *backend) Close() error {
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openBackend connects the configured store. Remote stores are wrapped in
// a circuit breaker so an outage fails requests fast instead of piling
// them up on timeouts.
func openBackend(ctx context.Context, driver string, gw *config.GatewayConfig, logger *slog.Logger) (*backend, error) {
	switch driver {
	case ratelimit.DriverMemory:
		logger.Info("rate limiting: in-memory counter store")
		return &backend{}, nil

	case ratelimit.DriverRedis:
		client, err := redis.Open(ctx, redis.Config{
			Addr:     gw.RedisAddr,
			Password: gw.RedisPassword,
			DB:       gw.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		store := redis.NewCounterStore(client, redis.WithPrefix(gw.RedisPrefix))
		logger.Info("rate limiting: redis counter store",
			slog.String("addr", gw.RedisAddr),
			slog.String("prefix", gw.RedisPrefix))
		return &backend{
			store:   circuitbreaker.NewStoreBreaker(store, circuitbreaker.StoreConfig("redis")),
			closers: []func() error{client.Close},
		}, nil

	case ratelimit.DriverPostgres:
		database, err := db.Open(ctx, gw.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if err := prometheus.Register(collectors.NewDBStatsCollector(database, "routelimit")); err != nil {
			logger.Warn("database pool metrics not registered", slog.Any("error", err))
		}
		logger.Info("rate limiting: postgres counter store")
		return &backend{
			store:   circuitbreaker.NewStoreBreaker(postgres.NewCounterStore(database, nil), circuitbreaker.StoreConfig("postgres")),
			db:      database,
			closers: []func() error{database.Close},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", ratelimit.ErrConfiguration, driver)
	}
}
