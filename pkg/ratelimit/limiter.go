package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "routelimit/pkg/ratelimit"

// Options holds the collaborators of a RateLimiter. Zero values get
// defaults: an in-memory store, a KeyByIP fallback chain, no overrides,
// the system clock, no-op metrics and slog.Default().
type Options struct {
	Store     CounterStore
	Keys      *KeyChainRegistry
	Overrides *OverrideRegistry
	Clock     Clock
	Metrics   RateLimitMetrics
	Logger    *slog.Logger
}

// RateLimiter composes rule resolution, key derivation, rule overrides and
// the fixed-window counter into one admission decision per request.
type RateLimiter struct {
	enabled   bool
	policy    NoKeyPolicy
	rules     *RouteRuleResolver
	keys      *KeyResolver
	overrides *OverrideRegistry
	algorithm *FixedWindowAlgorithm
	store     AtomicCounterStore
	metrics   RateLimitMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New builds a RateLimiter from cfg. Configuration faults (malformed rules
// or patterns, unknown policy) are returned here, never per request.
func New(cfg *RateLimitConfig, opts Options) (*RateLimiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules, err := NewRouteRuleResolver(cfg.Rules, cfg.Default)
	if err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = &SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewNoOpMetrics()
	}
	if opts.Store == nil {
		opts.Store = NewInMemoryCounterStore(InMemoryStoreConfig{
			MaxKeys: cfg.MaxKeys,
			Clock:   opts.Clock,
			Metrics: opts.Metrics,
		})
	}
	if opts.Keys == nil {
		opts.Keys = NewKeyChainRegistry()
	}
	if opts.Overrides == nil {
		opts.Overrides = NewOverrideRegistry(opts.Logger)
	}

	return &RateLimiter{
		enabled:   cfg.Enabled,
		policy:    cfg.NoKeyPolicy,
		rules:     rules,
		keys:      NewKeyResolver(opts.Keys, opts.Logger),
		overrides: opts.Overrides,
		algorithm: NewFixedWindowAlgorithm(opts.Clock),
		store:     NewLockingStore(opts.Store),
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Check decides whether r is admitted.
//
// The returned error is either a configuration fault (an empty key chain),
// a context error, or a *StorageError. A rejected request is not an error:
// it is a Decision with Limited set.
func (l *RateLimiter) Check(ctx context.Context, r *http.Request) (*Decision, error) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ratelimit.Check",
		trace.WithAttributes(attribute.String("http.path", r.URL.Path)))
	defer span.End()

	decision, err := l.check(ctx, r.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsStorageError(err) {
			l.metrics.RecordStoreError("update")
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("ratelimit.route", decision.Route),
		attribute.String("ratelimit.outcome", decision.Outcome()),
		attribute.Bool("ratelimit.limited", decision.Limited),
	)
	l.metrics.RecordDecision(decision.Route, decision.Outcome())
	l.metrics.RecordCheckDuration(decision.Route, time.Since(start))
	return decision, nil
}

func (l *RateLimiter) check(ctx context.Context, r *http.Request) (*Decision, error) {
	if !l.enabled {
		return &Decision{}, nil
	}

	rule, route := l.rules.Resolve(r.URL.Path)
	if rule == nil {
		return &Decision{}, nil
	}

	key, ok, err := l.keys.Resolve(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return l.noKey(r, rule, route), nil
	}

	applied := l.overrides.Resolve(r, key, true, *rule)

	decision, err := l.algorithm.Evaluate(ctx, l.store, key.StorageKey(), applied)
	if err != nil {
		return nil, err
	}
	decision.Key = key.Key
	decision.Route = route
	decision.Metadata = key.Metadata

	if decision.Limited {
		l.logger.Debug("rate limit exceeded",
			slog.String("key", key.Key),
			slog.String("route", route),
			slog.Int("count", decision.Entry.Count),
			slog.Int("limit", applied.Limit))
	}
	return decision, nil
}

// noKey applies the no-key policy.
func (l *RateLimiter) noKey(r *http.Request, rule *RateLimitRule, route string) *Decision {
	switch l.policy {
	case NoKeyBlock:
		return &Decision{Limited: true, Rule: rule, Entry: &CounterEntry{}, Route: route, NoKey: true}
	case NoKeyWarn:
		l.logger.Warn("no key function produced a key, allowing request",
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.String("method", r.Method))
	}
	return &Decision{Route: route, NoKey: true}
}

// Reset removes every stored counter.
func (l *RateLimiter) Reset(ctx context.Context) error {
	if err := l.store.Clear(ctx, DataNamespace); err != nil {
		return storageErr("clear", DataNamespace, err)
	}
	return nil
}

// Store returns the counter store the limiter evaluates against.
func (l *RateLimiter) Store() AtomicCounterStore {
	return l.store
}

// MatchRoute returns the route pattern that applies to path. ok is false
// when no rule applies. The pattern set is fixed at startup, which makes it
// a bounded metrics label.
func (l *RateLimiter) MatchRoute(path string) (route string, ok bool) {
	rule, route := l.rules.Resolve(path)
	return route, rule != nil
}

// Enabled reports whether limiting is active.
func (l *RateLimiter) Enabled() bool {
	return l.enabled
}

func (l *RateLimiter) String() string {
	return fmt.Sprintf("RateLimiter{Enabled: %t, NoKeyPolicy: %s}", l.enabled, l.policy)
}
