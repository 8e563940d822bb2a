package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// Decision is the admission verdict for one request.
//
// A nil Rule means no rule applied and the request is exempt, which is
// different from a rule that applied and did not limit.
type Decision struct {
	// Limited is true when the request must be rejected.
	Limited bool

	// Rule is the rule that was applied, after overrides.
	Rule *RateLimitRule

	// Entry is the counter state after evaluation. For a denied request
	// it reflects the attempted count, which is not persisted.
	Entry *CounterEntry

	// Key is the resolved identity, empty when none was derived.
	Key string

	// Route is the pattern that matched the request path.
	Route string

	// Metadata is the merged key metadata.
	Metadata map[string]any

	// NoKey is true when key derivation failed and the no-key policy
	// decided the outcome.
	NoKey bool
}

// Exempt reports whether no rule applied.
func (d *Decision) Exempt() bool {
	return d.Rule == nil
}

// Outcome returns a short label for metrics and logs.
func (d *Decision) Outcome() string {
	switch {
	case d.Limited:
		return "denied"
	case d.NoKey:
		return "no_key"
	case d.Exempt():
		return "exempt"
	default:
		return "allowed"
	}
}

// Remaining returns how many more requests the current window admits.
func (d *Decision) Remaining() int {
	if d.Rule == nil || d.Entry == nil {
		return 0
	}
	remaining := d.Rule.Limit - d.Entry.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAt returns when the current window ends.
func (d *Decision) ResetAt() time.Time {
	if d.Entry == nil || d.Entry.IsZero() {
		return time.Time{}
	}
	return d.Entry.EndTime()
}

// RetryAfter returns how long the client should wait, windowEnd - now,
// clamped at zero.
func (d *Decision) RetryAfter(now time.Time) time.Duration {
	if d.Entry == nil {
		return 0
	}
	return d.Entry.TTL(now)
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, the
// unit of the Retry-After header.
func (d *Decision) RetryAfterSeconds(now time.Time) int64 {
	return int64(math.Ceil(d.RetryAfter(now).Seconds()))
}

// String returns a human-readable representation of the decision.
func (d *Decision) String() string {
	if d.Rule == nil {
		return fmt.Sprintf("Decision{Limited: %t, Exempt: true, Key: %q}", d.Limited, d.Key)
	}
	count := 0
	if d.Entry != nil {
		count = d.Entry.Count
	}
	return fmt.Sprintf("Decision{Limited: %t, Key: %q, Route: %q, Count: %d/%d, Period: %ds}",
		d.Limited, d.Key, d.Route, count, d.Rule.Limit, d.Rule.Period)
}
