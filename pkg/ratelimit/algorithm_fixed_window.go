package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// FixedWindowAlgorithm evaluates requests against fixed counting windows.
//
// For a rule {Limit: L, Period: P} the first L requests of a window are
// admitted and the rest denied until the window, which starts at the first
// request and lasts P seconds, has ended.
type FixedWindowAlgorithm struct {
	clock Clock
}

// NewFixedWindowAlgorithm creates the algorithm. A nil clock uses the
// system time.
func NewFixedWindowAlgorithm(clock Clock) *FixedWindowAlgorithm {
	if clock == nil {
		clock = &SystemClock{}
	}
	return &FixedWindowAlgorithm{clock: clock}
}

// Evaluate counts one request for key against rule.
//
// The read-evaluate-write runs inside store.Update, so concurrent calls for
// the same key cannot both observe the same count. A denied request never
// changes the stored entry. Store failures are returned as *StorageError.
func (a *FixedWindowAlgorithm) Evaluate(ctx context.Context, store AtomicCounterStore, key string, rule RateLimitRule) (*Decision, error) {
	decision := &Decision{Rule: &rule}

	err := store.Update(ctx, key, func(current *CounterEntry) (*CounterEntry, time.Duration, error) {
		now := a.clock.Now()
		decision.Limited = false
		decision.Entry = nil

		if current != nil && current.Contains(now) {
			attempted := *current
			attempted.Count++
			decision.Entry = &attempted
			if attempted.Count > rule.Limit {
				decision.Limited = true
				return nil, 0, nil
			}
			ttl := attempted.TTL(now)
			if ttl <= 0 {
				ttl = time.Millisecond
			}
			return &attempted, ttl, nil
		}

		if current != nil && !current.Expired(now) {
			// Window starts in the future: the clock moved backwards.
			slog.Warn("counter window starts after now, opening a new window",
				slog.String("key", key),
				slog.Int64("window_start", current.WindowStart),
				slog.Int64("now", now.UnixMilli()))
		}

		if rule.AlwaysDenies() {
			decision.Limited = true
			decision.Entry = &CounterEntry{}
			return nil, 0, nil
		}

		fresh := newWindow(now, rule.Period)
		decision.Entry = &fresh
		return &fresh, rule.Window(), nil
	})
	if err != nil {
		return nil, storageErr("update", key, err)
	}
	return decision, nil
}
