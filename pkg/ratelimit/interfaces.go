// Package ratelimit provides the admission-control core of routelimit.
//
// A request flows once through route rule resolution, key derivation,
// rule overrides and a fixed-window counter evaluation, producing a Decision
// that a thin transport adapter turns into a response. Storage backends,
// key functions, overrides and metrics are pluggable.
package ratelimit

import (
	"context"
	"time"
)

// Storage namespaces. Counter entries live under DataNamespace, bookkeeping
// such as the configuration hash lives under MetaNamespace.
const (
	DataNamespace = "data"
	MetaNamespace = "meta"
)

// CounterStore is the key-value abstraction the limiter persists windows in.
//
// Implementations must provide at least read-your-writes consistency per key.
// All methods must be safe for concurrent use.
type CounterStore interface {
	// GetItem returns the entry stored under key, or nil if there is none
	// (or it has expired).
	GetItem(ctx context.Context, key string) (*CounterEntry, error)

	// SetItem stores entry under key. A positive ttl lets the backend expire
	// the entry on its own; zero means no expiry.
	SetItem(ctx context.Context, key string, entry CounterEntry, ttl time.Duration) error

	// Clear removes every key under the given namespace prefix.
	Clear(ctx context.Context, namespace string) error
}

// UpdateFunc computes the next entry from the current one.
//
// current is nil when no entry exists. Returning a nil next leaves storage
// untouched. ttl is passed through to the backend when next is written.
type UpdateFunc func(current *CounterEntry) (next *CounterEntry, ttl time.Duration, err error)

// AtomicCounterStore extends CounterStore with an atomic read-evaluate-write.
//
// Update MUST guarantee that no other Update for the same key interleaves
// between the read and the write, either by holding a per-key lock or by
// retrying when the stored value changed underneath.
type AtomicCounterStore interface {
	CounterStore
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// MetaStore stores small string values next to the counters.
// It is required by AutoClear.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (value string, ok bool, err error)
	SetMeta(ctx context.Context, key, value string) error
}

// Sweeper is implemented by stores that cannot expire entries on their own.
type Sweeper interface {
	// Sweep deletes entries whose window ended before now and reports how
	// many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RateLimitMetrics records limiter activity.
type RateLimitMetrics interface {
	// RecordDecision records one evaluated request. outcome is one of
	// "allowed", "denied", "exempt" or "no_key".
	RecordDecision(route, outcome string)

	// RecordCheckDuration records how long a Check call took.
	RecordCheckDuration(route string, duration time.Duration)

	// RecordStoreError records a failed storage operation.
	RecordStoreError(op string)

	// SetActiveKeys reports the number of keys held by the store.
	SetActiveKeys(count int)

	// RecordEviction records keys evicted from a bounded store.
	RecordEviction(count int)
}

// Clock provides an abstraction for time operations to enable testing.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock implementation that uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}
