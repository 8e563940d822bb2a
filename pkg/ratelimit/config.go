package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Storage drivers understood by the gateway wiring.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultRoutePattern  = "/api/**"
	DefaultLimit         = 300
	DefaultPeriod        = 60
	DefaultMaxKeys       = 10000
	DefaultSweepSchedule = "*/5 * * * *"
)

// DefaultRoute is the catch-all rule used when no explicit route matches.
type DefaultRoute struct {
	Route    string        `json:"route" yaml:"route"`
	Rule     RateLimitRule `json:"rule" yaml:",inline"`
	Disabled bool          `json:"disabled" yaml:"disabled"`
}

// RateLimitConfig is the configuration consumed by the limiter.
//
// It is a plain struct; loading it from the environment or a rules file
// is done by pkg/config.
type RateLimitConfig struct {
	// Enabled turns limiting on. A disabled limiter exempts every request.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Default is the global route and rule.
	Default DefaultRoute `json:"default" yaml:"default"`

	// Rules maps route patterns to explicit rules.
	Rules map[string]RateLimitRule `json:"rules" yaml:"rules"`

	// NoKeyPolicy applies when key derivation fails. Default: warn.
	NoKeyPolicy NoKeyPolicy `json:"noKeyPolicy" yaml:"noKeyPolicy"`

	// Driver selects the counter store: memory, redis or postgres.
	Driver string `json:"driver" yaml:"driver"`

	// MaxKeys bounds the in-memory store.
	MaxKeys int `json:"maxKeys" yaml:"maxKeys"`

	// Headers adds X-RateLimit-* headers to responses.
	Headers bool `json:"headers" yaml:"headers"`

	// AutoClear wipes stored counters when the configuration changes.
	AutoClear bool `json:"autoClear" yaml:"autoClear"`

	// SweepSchedule is the cron schedule for removing expired entries from
	// stores that cannot expire them on their own.
	SweepSchedule string `json:"sweepSchedule" yaml:"sweepSchedule"`
}

// Validate checks if the RateLimitConfig is valid.
func (c *RateLimitConfig) Validate() error {
	if !c.Default.Disabled {
		if _, err := parsePattern(c.Default.Route); err != nil {
			return fmt.Errorf("default route: %w", err)
		}
		if err := c.Default.Rule.Validate(); err != nil {
			return fmt.Errorf("default route %q: %w", c.Default.Route, err)
		}
	}

	for pattern, rule := range c.Rules {
		if _, err := parsePattern(pattern); err != nil {
			return err
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("route %q: %w", pattern, err)
		}
	}

	if !c.NoKeyPolicy.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, c.NoKeyPolicy)
	}

	switch c.Driver {
	case DriverMemory, DriverRedis, DriverPostgres:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrConfiguration, c.Driver)
	}

	if c.MaxKeys < 0 {
		return fmt.Errorf("%w: MaxKeys must be non-negative, got %d", ErrConfiguration, c.MaxKeys)
	}

	return nil
}

// ApplyDefaults fills zero values with safe defaults.
func (c *RateLimitConfig) ApplyDefaults() {
	if c.Default.Route == "" {
		c.Default.Route = DefaultRoutePattern
	}
	if c.Default.Rule == (RateLimitRule{}) {
		c.Default.Rule = RateLimitRule{Limit: DefaultLimit, Period: DefaultPeriod}
	}
	if c.Rules == nil {
		c.Rules = make(map[string]RateLimitRule)
	}
	if c.NoKeyPolicy == "" {
		c.NoKeyPolicy = NoKeyWarn
	}
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.MaxKeys == 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
}

// Hash returns a stable fingerprint of the configuration. AutoClear
// compares it with the stored one to detect configuration changes.
func (c *RateLimitConfig) Hash() (string, error) {
	// encoding/json sorts map keys, so equal configs marshal identically.
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to hash config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DefaultConfig returns an enabled RateLimitConfig with default values.
func DefaultConfig() *RateLimitConfig {
	config := &RateLimitConfig{Enabled: true, Headers: true}
	config.ApplyDefaults()
	return config
}
