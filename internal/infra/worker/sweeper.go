// Package worker runs background maintenance for counter stores.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"routelimit/pkg/ratelimit"
)

// keyCounter is implemented by stores that know how many keys they hold.
type keyCounter interface {
	KeyCount() int
}

// Sweeper removes expired counter entries on a cron schedule.
//
// Only stores that cannot expire entries themselves implement
// ratelimit.Sweeper; NewSweeper reports ok=false for the others.
type Sweeper struct {
	store   ratelimit.Sweeper
	keys    keyCounter
	cfg     *SweeperConfig
	logger  *slog.Logger
	metrics *SweeperMetrics
	limiter ratelimit.RateLimitMetrics
	clock   ratelimit.Clock
	cron    *cron.Cron
}

// NewSweeper builds a sweeper for store, or returns ok=false when the
// store expires entries on its own. limiterMetrics receives the active key
// count after each sweep when the store can report it; it may be nil.
func NewSweeper(store ratelimit.CounterStore, cfg *SweeperConfig, logger *slog.Logger, metrics *SweeperMetrics, limiterMetrics ratelimit.RateLimitMetrics) (*Sweeper, bool, error) {
	sw, ok := ratelimit.Capability[ratelimit.Sweeper](store)
	if !ok {
		return nil, false, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewSweeperMetrics(nil)
	}
	if limiterMetrics == nil {
		limiterMetrics = ratelimit.NewNoOpMetrics()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, false, fmt.Errorf("timezone: %w", err)
	}

	s := &Sweeper{
		store:   sw,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		limiter: limiterMetrics,
		clock:   &ratelimit.SystemClock{},
		cron:    cron.New(cron.WithLocation(loc)),
	}
	s.keys, _ = ratelimit.Capability[keyCounter](store)

	if _, err := s.cron.AddFunc(cfg.Schedule, func() {
		_, _ = s.RunOnce(context.Background())
	}); err != nil {
		return nil, false, fmt.Errorf("add cron job: %w", err)
	}
	return s, true, nil
}

// Start starts the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started",
		slog.String("schedule", s.cfg.Schedule),
		slog.String("timezone", s.cfg.Timezone))
}

// Stop stops scheduling and waits for a running sweep, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out", slog.Any("error", ctx.Err()))
	}
}

// RunOnce performs a single sweep bounded by the configured timeout.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	removed, err := s.store.Sweep(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("sweep failed", slog.Any("error", err))
		s.metrics.RecordRun("failure", time.Since(start).Seconds())
		return 0, err
	}

	s.metrics.RecordRun("success", time.Since(start).Seconds())
	s.metrics.RecordSuccess(removed)
	if s.keys != nil {
		s.limiter.SetActiveKeys(s.keys.KeyCount())
	}

	s.logger.Debug("sweep completed",
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)))
	return removed, nil
}
