package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	schedule "routelimit/internal/pkg/config"
	"routelimit/pkg/ratelimit"
)

// RateLimitSettings is the limiter configuration plus the key and tier
// wiring the gateway builds around it.
//
// The YAML form is the rules file:
//
//	enabled: true
//	noKeyPolicy: block
//	default:
//	  route: /api/**
//	  limit: 300
//	  period: 60
//	rules:
//	  /api/login: {limit: 5, period: 60}
//	keys:
//	  fallback: [jwt, ip]
//	  routes:
//	    /api/partners/**: ["header:X-Partner-ID"]
//	tiers:
//	  gold: {limit: 3000, period: 60}
type RateLimitSettings struct {
	ratelimit.RateLimitConfig `yaml:",inline"`

	// Keys names the key functions of the fallback and per-route chains.
	Keys KeySettings `yaml:"keys"`

	// Tiers maps a tier claim value to the rule that replaces the matched one.
	Tiers map[string]ratelimit.RateLimitRule `yaml:"tiers"`
}

// KeySettings names key functions by their short names: ip, trusted-ip,
// path, jwt and header:<Name>.
type KeySettings struct {
	Fallback []string            `yaml:"fallback"`
	Routes   map[string][]string `yaml:"routes"`
}

// LoadRateLimitConfig loads rate limiting settings.
//
// When RATELIMIT_RULES_FILE is set the file is read first; environment
// variables then override individual values:
//   - RATELIMIT_ENABLED: enable limiting (default: true)
//   - RATELIMIT_ROUTE: default route pattern (default: /api/**)
//   - RATELIMIT_LIMIT: default limit (default: 300)
//   - RATELIMIT_PERIOD: default period in seconds (default: 60)
//   - RATELIMIT_DEFAULT_DISABLED: turn off the default route (default: false)
//   - RATELIMIT_NO_KEY_POLICY: block, allow or warn (default: warn)
//   - RATELIMIT_DRIVER: memory, redis or postgres (default: memory)
//   - RATELIMIT_MAX_KEYS: in-memory key bound (default: 10000)
//   - RATELIMIT_HEADERS: emit X-RateLimit-* headers (default: true)
//   - RATELIMIT_AUTO_CLEAR: clear counters on configuration change (default: false)
//   - RATELIMIT_SWEEP_SCHEDULE: cron schedule of expired entry sweeps (default: */5 * * * *)
//
// Unlike malformed individual variables, which fall back to defaults with a
// warning, an invalid resulting configuration is returned as an error
// wrapping ratelimit.ErrConfiguration and must stop startup.
func LoadRateLimitConfig() (*RateLimitSettings, error) {
	settings := defaultSettings()
	if path := GetEnvString("RATELIMIT_RULES_FILE", ""); path != "" {
		loaded, err := LoadRulesFile(path)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	cfg := &settings.RateLimitConfig
	cfg.Enabled = GetEnvBool("RATELIMIT_ENABLED", cfg.Enabled)
	cfg.Default.Route = GetEnvString("RATELIMIT_ROUTE", cfg.Default.Route)
	cfg.Default.Rule.Limit = GetEnvInt("RATELIMIT_LIMIT", cfg.Default.Rule.Limit)
	cfg.Default.Rule.Period = GetEnvInt("RATELIMIT_PERIOD", cfg.Default.Rule.Period)
	cfg.Default.Disabled = GetEnvBool("RATELIMIT_DEFAULT_DISABLED", cfg.Default.Disabled)
	cfg.Driver = strings.ToLower(GetEnvString("RATELIMIT_DRIVER", cfg.Driver))
	cfg.MaxKeys = GetEnvInt("RATELIMIT_MAX_KEYS", cfg.MaxKeys)
	cfg.Headers = GetEnvBool("RATELIMIT_HEADERS", cfg.Headers)
	cfg.AutoClear = GetEnvBool("RATELIMIT_AUTO_CLEAR", cfg.AutoClear)
	cfg.SweepSchedule = GetEnvString("RATELIMIT_SWEEP_SCHEDULE", cfg.SweepSchedule)

	policy, err := ratelimit.ParseNoKeyPolicy(GetEnvString("RATELIMIT_NO_KEY_POLICY", string(cfg.NoKeyPolicy)))
	if err != nil {
		return nil, fmt.Errorf("RATELIMIT_NO_KEY_POLICY: %w", err)
	}
	cfg.NoKeyPolicy = policy

	if err := settings.finish(); err != nil {
		return nil, err
	}
	return settings, nil
}

// LoadRulesFile reads settings from a YAML rules file. Values missing from
// the file keep their defaults.
// The path parameter is expected to come from a trusted source (environment or command line).
func LoadRulesFile(path string) (*RateLimitSettings, error) {
	// #nosec G304 -- path is provided by the operator, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	settings := defaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rules file %s: %v", ratelimit.ErrConfiguration, path, err)
	}
	if err := settings.finish(); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return settings, nil
}

// defaultSettings seeds every value a file or variable may override, so a
// partial override (only limit, only period, limit 0) keeps its meaning.
func defaultSettings() *RateLimitSettings {
	return &RateLimitSettings{RateLimitConfig: *ratelimit.DefaultConfig()}
}

// finish applies defaults and validates the result.
func (s *RateLimitSettings) finish() error {
	// The default rule was seeded by defaultSettings; {0, 0} here is an
	// explicit always-deny rule, not a missing one.
	rule := s.Default.Rule
	s.ApplyDefaults()
	s.Default.Rule = rule
	if len(s.Keys.Fallback) == 0 {
		s.Keys.Fallback = []string{"ip"}
	}
	if err := s.Validate(); err != nil {
		return err
	}
	for pattern, chain := range s.Keys.Routes {
		if len(chain) == 0 {
			return fmt.Errorf("key chain for %q: %w", pattern, ratelimit.ErrEmptyKeyChain)
		}
	}
	for tier, rule := range s.Tiers {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("tier %q: %w", tier, err)
		}
	}
	if err := schedule.ValidateCronSchedule(s.SweepSchedule); err != nil {
		return fmt.Errorf("%w: %v", ratelimit.ErrConfiguration, err)
	}
	return nil
}

// ValidateTrustedProxies validates a list of CIDR ranges for trusted proxies.
//
// Example:
//
//	cidrs := []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}
//	if err := ValidateTrustedProxies(cidrs); err != nil {
//	    return fmt.Errorf("invalid trusted proxies: %w", err)
//	}
func ValidateTrustedProxies(cidrs []string) error {
	for _, cidr := range cidrs {
		if cidr == "" {
			return fmt.Errorf("CIDR cannot be empty")
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
	}
	return nil
}
