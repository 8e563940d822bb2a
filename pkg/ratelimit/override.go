package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// RuleOverride adjusts the matched rule for a single request, for example
// to grant an authenticated identity a higher limit.
//
// Implementations must be deterministic within a request and must not touch
// counters; they only return the rule to apply.
type RuleOverride interface {
	Override(r *http.Request, key ResolvedKey, rule RateLimitRule) RateLimitRule
}

// RuleOverrideFunc adapts a plain function to RuleOverride.
type RuleOverrideFunc func(r *http.Request, key ResolvedKey, rule RateLimitRule) RateLimitRule

// Override calls f.
func (f RuleOverrideFunc) Override(r *http.Request, key ResolvedKey, rule RateLimitRule) RateLimitRule {
	return f(r, key, rule)
}

// OverrideRegistry maps route patterns to rule overrides.
type OverrideRegistry struct {
	mu     sync.RWMutex
	routes *RouteTrie[RuleOverride]
	logger *slog.Logger
}

// NewOverrideRegistry creates an empty registry. A nil logger uses
// slog.Default().
func NewOverrideRegistry(logger *slog.Logger) *OverrideRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverrideRegistry{
		routes: NewRouteTrie[RuleOverride](),
		logger: logger,
	}
}

// Register binds an override to a route pattern.
func (o *OverrideRegistry) Register(pattern string, override RuleOverride) error {
	if override == nil {
		return fmt.Errorf("%w: nil rule override for %q", ErrConfiguration, pattern)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.routes.Insert(pattern, override)
}

// Resolve returns the rule to apply. The rule is returned unchanged when
// no override is registered for the path or when key derivation failed.
// An override returning an invalid rule is ignored.
func (o *OverrideRegistry) Resolve(r *http.Request, key ResolvedKey, keyOK bool, rule RateLimitRule) RateLimitRule {
	if !keyOK {
		return rule
	}

	o.mu.RLock()
	override, pattern, ok := o.routes.Lookup(r.URL.Path)
	o.mu.RUnlock()
	if !ok {
		return rule
	}

	adjusted := override.Override(r, key, rule)
	if err := adjusted.Validate(); err != nil {
		o.logger.Error("rule override returned an invalid rule, keeping original",
			slog.String("route", pattern),
			slog.String("key", key.Key),
			slog.String("error", err.Error()))
		return rule
	}
	return adjusted
}

// TierOverride picks a rule from tiers using the string stored under
// metadataKey in the key metadata, such as the tier claim extracted by a
// JWT key function. Unknown or missing tiers keep the matched rule.
func TierOverride(metadataKey string, tiers map[string]RateLimitRule) RuleOverride {
	return RuleOverrideFunc(func(_ *http.Request, key ResolvedKey, rule RateLimitRule) RateLimitRule {
		tier, ok := key.Metadata[metadataKey].(string)
		if !ok {
			return rule
		}
		if tierRule, ok := tiers[tier]; ok {
			return tierRule
		}
		return rule
	})
}
