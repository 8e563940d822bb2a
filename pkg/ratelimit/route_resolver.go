package ratelimit

import "fmt"

// RouteRuleResolver finds the rule that applies to a request path.
//
// Explicit per-route rules take precedence over the default route. A path
// matching neither is exempt from limiting.
type RouteRuleResolver struct {
	rules    *RouteTrie[RateLimitRule]
	fallback *RouteTrie[RateLimitRule]
}

// NewRouteRuleResolver builds the matching structures once. Every rule is
// validated; a malformed rule or pattern is a configuration fault.
func NewRouteRuleResolver(rules map[string]RateLimitRule, def DefaultRoute) (*RouteRuleResolver, error) {
	r := &RouteRuleResolver{
		rules:    NewRouteTrie[RateLimitRule](),
		fallback: NewRouteTrie[RateLimitRule](),
	}

	for pattern, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", pattern, err)
		}
		if err := r.rules.Insert(pattern, rule); err != nil {
			return nil, err
		}
	}

	if !def.Disabled {
		if err := def.Rule.Validate(); err != nil {
			return nil, fmt.Errorf("default route %q: %w", def.Route, err)
		}
		if err := r.fallback.Insert(def.Route, def.Rule); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Resolve returns the rule for path and the pattern that matched it.
// A nil rule means no limiting applies.
func (r *RouteRuleResolver) Resolve(path string) (*RateLimitRule, string) {
	if rule, pattern, ok := r.rules.Lookup(path); ok {
		return &rule, pattern
	}
	if rule, pattern, ok := r.fallback.Lookup(path); ok {
		return &rule, pattern
	}
	return nil, ""
}
