package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// KeyChainRegistry holds the global fallback chain and per-route override
// chains. Override chains share the route trie used for rules.
type KeyChainRegistry struct {
	mu       sync.RWMutex
	fallback []KeyDeriver
	routes   *RouteTrie[[]KeyDeriver]
}

// NewKeyChainRegistry creates a registry. Without arguments the fallback
// chain is KeyByIP alone.
func NewKeyChainRegistry(fallback ...KeyDeriver) *KeyChainRegistry {
	if len(fallback) == 0 {
		fallback = []KeyDeriver{KeyByIP()}
	}
	return &KeyChainRegistry{
		fallback: fallback,
		routes:   NewRouteTrie[[]KeyDeriver](),
	}
}

// SetFallback replaces the global fallback chain.
func (k *KeyChainRegistry) SetFallback(derivers ...KeyDeriver) error {
	if len(derivers) == 0 {
		return fmt.Errorf("fallback chain: %w", ErrEmptyKeyChain)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.fallback = derivers
	return nil
}

// Register binds an override chain to a route pattern.
func (k *KeyChainRegistry) Register(pattern string, derivers ...KeyDeriver) error {
	if len(derivers) == 0 {
		return fmt.Errorf("route %q: %w", pattern, ErrEmptyKeyChain)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.routes.Insert(pattern, derivers)
}

// ChainFor returns the chain that applies to path.
func (k *KeyChainRegistry) ChainFor(path string) []KeyDeriver {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if chain, _, ok := k.routes.Lookup(path); ok {
		return chain
	}
	return k.fallback
}

// KeyResolver derives the identity of a request from a KeyChainRegistry.
type KeyResolver struct {
	registry *KeyChainRegistry
	logger   *slog.Logger
}

// NewKeyResolver creates a resolver. A nil logger uses slog.Default().
func NewKeyResolver(registry *KeyChainRegistry, logger *slog.Logger) *KeyResolver {
	if registry == nil {
		registry = NewKeyChainRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyResolver{registry: registry, logger: logger}
}

// Resolve runs every key function of the selected chain concurrently and
// returns the first success in declaration order. ok is false when none
// succeeded. An empty chain is a configuration fault.
func (k *KeyResolver) Resolve(r *http.Request) (key ResolvedKey, ok bool, err error) {
	chain := k.registry.ChainFor(r.URL.Path)
	if len(chain) == 0 {
		return ResolvedKey{}, false, fmt.Errorf("path %q: %w", r.URL.Path, ErrEmptyKeyChain)
	}

	r = r.WithContext(context.WithValue(r.Context(), loggerCtxKey{}, k.logger))
	outcomes := deriveAll(r, chain, k.logger)
	if err := r.Context().Err(); err != nil {
		return ResolvedKey{}, false, err
	}

	for _, out := range outcomes {
		if out.Success {
			return ResolvedKey{Key: out.namespaced(), Metadata: out.Metadata}, true, nil
		}
	}

	for _, out := range outcomes {
		k.logger.Debug("key function did not apply",
			slog.String("source", out.Source),
			slog.String("reason", out.Reason),
			slog.String("path", r.URL.Path))
	}
	return ResolvedKey{}, false, nil
}

type loggerCtxKey struct{}

// resolverLogger returns the logger of the KeyResolver evaluating r, or
// slog.Default() outside of one.
func resolverLogger(r *http.Request) *slog.Logger {
	if logger, ok := r.Context().Value(loggerCtxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Combine returns a key function that runs all derivers concurrently and
// merges every success into one composite key. It fails only if none of
// them succeeded. It logs through the logger of the resolving KeyResolver.
func Combine(derivers ...KeyDeriver) KeyDeriver {
	return KeyFunc(func(r *http.Request) KeyOutcome {
		if len(derivers) == 0 {
			return KeyFailure("combine", "no key functions to combine")
		}

		logger := resolverLogger(r)
		outcomes := deriveAll(r, derivers, logger)
		parts := make([]string, 0, len(outcomes))
		successes := make([]KeyOutcome, 0, len(outcomes))
		for _, out := range outcomes {
			if out.Success {
				parts = append(parts, out.namespaced())
				successes = append(successes, out)
			}
		}
		if len(successes) == 0 {
			return KeyFailure("combine", "no key function succeeded")
		}

		return KeyOutcome{
			Success:   true,
			Source:    "combine",
			RawKey:    strings.Join(parts, keySeparator),
			Metadata:  mergeMetadata(successes, logger),
			composite: true,
		}
	})
}

// deriveAll runs every deriver in its own goroutine and waits for all of
// them. Each goroutine writes only its own slot.
func deriveAll(r *http.Request, derivers []KeyDeriver, logger *slog.Logger) []KeyOutcome {
	outcomes := make([]KeyOutcome, len(derivers))
	var g errgroup.Group
	for i, d := range derivers {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("key function panicked",
						slog.Int("index", i),
						slog.Any("panic", rec))
					outcomes[i] = KeyFailure(fmt.Sprintf("chain[%d]", i), "panic")
				}
			}()
			outcomes[i] = d.DeriveKey(r)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// mergeMetadata merges metadata in declaration order. The first writer of
// a key wins; later duplicates are logged and dropped.
func mergeMetadata(outcomes []KeyOutcome, logger *slog.Logger) map[string]any {
	merged := make(map[string]any)
	owner := make(map[string]string)
	for _, out := range outcomes {
		for k, v := range out.Metadata {
			if first, dup := owner[k]; dup {
				logger.Warn("duplicate key metadata, keeping first value",
					slog.String("metadata_key", k),
					slog.String("kept_from", first),
					slog.String("dropped_from", out.Source))
				continue
			}
			owner[k] = out.Source
			merged[k] = v
		}
	}
	return merged
}
