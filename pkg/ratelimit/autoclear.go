package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
)

// configMetaKey holds the hash of the configuration the counters were
// recorded under.
const configMetaKey = MetaNamespace + keySeparator + "config"

// AutoClear removes all counters when the configuration changed since the
// store was last used, so stale windows recorded under old rules do not
// leak into new ones.
//
// The store (or a store it wraps) must implement MetaStore; otherwise
// ErrIncompatibleStore is returned and startup should fail.
func AutoClear(ctx context.Context, store CounterStore, cfg *RateLimitConfig, logger *slog.Logger) (cleared bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	meta, ok := Capability[MetaStore](store)
	if !ok {
		return false, fmt.Errorf("auto clear: %w", ErrIncompatibleStore)
	}

	hash, err := cfg.Hash()
	if err != nil {
		return false, err
	}

	stored, found, err := meta.GetMeta(ctx, configMetaKey)
	if err != nil {
		return false, storageErr("get", configMetaKey, err)
	}
	if found && stored == hash {
		return false, nil
	}

	if err := store.Clear(ctx, DataNamespace); err != nil {
		return false, storageErr("clear", DataNamespace, err)
	}
	if err := meta.SetMeta(ctx, configMetaKey, hash); err != nil {
		return false, storageErr("set", configMetaKey, err)
	}

	logger.Info("rate limit configuration changed, counters cleared",
		slog.String("config_hash", hash),
		slog.Bool("first_run", !found))
	return true, nil
}
