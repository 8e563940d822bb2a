package worker

import (
	"fmt"
	"log/slog"
	"time"

	"routelimit/internal/pkg/config"
)

// SweeperConfig controls the expired entry sweeper.
//
// Configuration sources:
//   - Schedule comes from the rate limit configuration (RATELIMIT_SWEEP_SCHEDULE)
//   - Timezone and Timeout come from the environment (LoadConfigFromEnv)
type SweeperConfig struct {
	// Schedule is the cron expression for sweeps.
	// Example: "*/5 * * * *" (every five minutes), "@every 30s"
	Schedule string

	// Timezone is the IANA timezone name for cron scheduling.
	// Default: "UTC"
	Timezone string

	// Timeout bounds a single sweep.
	// Range: 1s-10m
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultConfig returns the sweeper defaults.
func DefaultConfig() SweeperConfig {
	return SweeperConfig{
		Schedule: "*/5 * * * *",
		Timezone: "UTC",
		Timeout:  30 * time.Second,
	}
}

// Validate checks every field and reports all failures together.
func (c *SweeperConfig) Validate() error {
	var errs []error

	if err := config.ValidateCronSchedule(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateDuration(c.Timeout, time.Second, 10*time.Minute); err != nil {
		errs = append(errs, fmt.Errorf("timeout: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv builds the sweeper configuration for schedule.
//
// Timezone and timeout are read fail-open: invalid values fall back to the
// defaults with a warning and a fallback metric, and never stop startup.
//
// Environment variables:
//   - SWEEP_TIMEZONE: IANA timezone name (default: "UTC")
//   - SWEEP_TIMEOUT: Duration string, e.g., "45s" (default: 30s)
func LoadConfigFromEnv(schedule string, logger *slog.Logger, metrics *SweeperMetrics) *SweeperConfig {
	cfg := DefaultConfig()
	if schedule != "" {
		cfg.Schedule = schedule
	}
	fallbackApplied := false

	tz := config.LoadEnvWithFallback("SWEEP_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = tz.Value
	if tz.FallbackApplied {
		fallbackApplied = true
		metrics.RecordFallback("timezone")
		logger.Warn("Configuration fallback applied",
			slog.String("field", "Timezone"),
			slog.String("warning", tz.Warning))
	}

	timeout := config.LoadEnvDuration("SWEEP_TIMEOUT", cfg.Timeout, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Second, 10*time.Minute)
	})
	cfg.Timeout = timeout.Value
	if timeout.FallbackApplied {
		fallbackApplied = true
		metrics.RecordFallback("timeout")
		logger.Warn("Configuration fallback applied",
			slog.String("field", "Timeout"),
			slog.String("warning", timeout.Warning))
	}

	metrics.SetFallbackActive(fallbackApplied)
	metrics.RecordLoadTimestamp()
	return &cfg
}
