// Command gateway is a reverse proxy that admits or rejects requests with
// the routelimit rate limiter before forwarding them to UPSTREAM_URL.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	hhttp "routelimit/internal/handler/http"
	"routelimit/internal/infra/worker"
	"routelimit/internal/observability/logging"
	"routelimit/internal/observability/tracing"
	"routelimit/pkg/config"
	"routelimit/pkg/ratelimit"
)

func main() {
	// A missing .env is fine; the environment may be set by the runtime.
	envErr := godotenv.Load()

	logger := logging.NewLogger()
	slog.SetDefault(logger)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("failed to load .env file", slog.Any("error", envErr))
	}

	if err := run(logger); err != nil {
		logger.Error("gateway failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := config.LoadGatewayConfig()
	if err != nil {
		return err
	}
	settings, err := config.LoadRateLimitConfig()
	if err != nil {
		return err
	}

	tp := tracing.Setup(tracing.Config{ServiceName: gw.ServiceName, SampleRatio: gw.TraceSampleRatio})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gw.ShutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	keys, err := buildKeys(settings, gw.JWTSecret, logger)
	if err != nil {
		return err
	}
	overrides, err := buildOverrides(settings, logger)
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, settings.Driver, gw, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("failed to close counter store", slog.Any("error", err))
		}
	}()

	limiterMetrics := ratelimit.NewPrometheusMetrics()
	limiter, err := ratelimit.New(&settings.RateLimitConfig, ratelimit.Options{
		Store:     be.store,
		Keys:      keys,
		Overrides: overrides,
		Metrics:   limiterMetrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if settings.AutoClear {
		if _, err := ratelimit.AutoClear(ctx, limiter.Store(), &settings.RateLimitConfig, logger); err != nil {
			return err
		}
	}

	if !limiter.Enabled() {
		logger.Warn("rate limiting is DISABLED - requests are proxied without limits")
	}
	logger.Info("rate limiting initialized",
		slog.String("limiter", limiter.String()),
		slog.String("driver", settings.Driver),
		slog.String("default_route", settings.Default.Route),
		slog.Int("default_limit", settings.Default.Rule.Limit),
		slog.Int("default_period", settings.Default.Rule.Period),
		slog.Int("rules", len(settings.Rules)),
		slog.Any("key_fallback", settings.Keys.Fallback))

	sweeperMetrics := worker.NewSweeperMetrics(prometheus.DefaultRegisterer)
	sweepCfg := worker.LoadConfigFromEnv(settings.SweepSchedule, logger, sweeperMetrics)
	sweeper, ok, err := worker.NewSweeper(limiter.Store(), sweepCfg, logger, sweeperMetrics, limiterMetrics)
	if err != nil {
		return err
	}
	if ok {
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), gw.ShutdownTimeout)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
	}

	handler := newHandler(serverDeps{
		Limiter:         limiter,
		Upstream:        gw.UpstreamURL,
		UpstreamTimeout: gw.UpstreamTimeout,
		Headers:         settings.Headers,
		Health: &hhttp.HealthHandler{
			Limiter: limiter,
			DB:      be.db,
			Version: config.GetEnvString("VERSION", "dev"),
		},
		Gatherers: []prometheus.Gatherer{limiterMetrics.Registry()},
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              gw.Addr,
		Handler:           handler,
		ReadHeaderTimeout: gw.ReadHeaderTimeout, // Prevent Slowloris attacks
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting",
			slog.String("addr", gw.Addr),
			slog.String("upstream", gw.UpstreamURL.Redacted()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gw.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", slog.Any("error", err))
	}
	logger.Info("gateway stopped")
	return nil
}
