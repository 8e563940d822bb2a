package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitRule limits a key to Limit requests per Period seconds.
//
// A Limit of zero always denies.
type RateLimitRule struct {
	Limit  int `json:"limit" yaml:"limit"`
	Period int `json:"period" yaml:"period"`
}

// Validate checks the rule invariants.
func (r RateLimitRule) Validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative, got %d", ErrInvalidRule, r.Limit)
	}
	if r.Limit > 0 && r.Period <= 0 {
		return fmt.Errorf("%w: period must be positive when limit is %d, got %d", ErrInvalidRule, r.Limit, r.Period)
	}
	if r.Period < 0 {
		return fmt.Errorf("%w: period must be non-negative, got %d", ErrInvalidRule, r.Period)
	}
	return nil
}

// Window returns the period as a duration.
func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.Period) * time.Second
}

// AlwaysDenies reports whether the rule rejects every request.
func (r RateLimitRule) AlwaysDenies() bool {
	return r.Limit == 0
}

func (r RateLimitRule) String() string {
	return fmt.Sprintf("%d/%ds", r.Limit, r.Period)
}
