// Package redis provides a Redis-backed counter store for the rate limiter.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"routelimit/internal/resilience/retry"
	"routelimit/pkg/ratelimit"
)

const (
	// DefaultPrefix is prepended to every key the store writes.
	DefaultPrefix = "routelimit:"

	scanBatch = 500
)

var (
	_ ratelimit.AtomicCounterStore = (*CounterStore)(nil)
	_ ratelimit.MetaStore          = (*CounterStore)(nil)
	_ ratelimit.Pinger             = (*CounterStore)(nil)
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces the keys of this limiter. Default: DefaultPrefix
	Prefix string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// CounterStore keeps counter entries as JSON strings with a native expiry.
//
// Update uses WATCH/MULTI: the transaction aborts when another client wrote
// the key between the read and the write, and is retried within a bounded
// budget. Redis expires windows on its own, so the store is not a Sweeper.
type CounterStore struct {
	client redis.UniversalClient
	prefix string
	retry  retry.Config
}

// Option configures a CounterStore.
type Option func(*CounterStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *CounterStore) {
		s.prefix = prefix
	}
}

// WithRetry overrides the retry budget for conflicting transactions.
func WithRetry(cfg retry.Config) Option {
	return func(s *CounterStore) {
		s.retry = cfg
	}
}

// NewCounterStore creates a store on top of client. The client is owned by
// the caller.
func NewCounterStore(client redis.UniversalClient, opts ...Option) *CounterStore {
	s := &CounterStore{
		client: client,
		prefix: DefaultPrefix,
		retry:  retry.OptimisticTxConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CounterStore) key(key string) string {
	return s.prefix + key
}

// GetItem returns the entry under key, or nil.
func (s *CounterStore) GetItem(ctx context.Context, key string) (*ratelimit.CounterEntry, error) {
	entry, err := getEntry(ctx, s.client, s.key(key))
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	return entry, nil
}

// expiry pads ttl by one millisecond. A window's end is inclusive, so the key
// must still exist at now == WindowEnd, where Redis would already drop it.
func expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	return ttl + time.Millisecond
}

// SetItem writes entry with a millisecond expiry. A zero ttl keeps the key.
func (s *CounterStore) SetItem(ctx context.Context, key string, entry ratelimit.CounterEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("SetItem: marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, expiry(ttl)).Err(); err != nil {
		return fmt.Errorf("SetItem: %w", err)
	}
	return nil
}

// Update runs fn inside an optimistic transaction on key.
func (s *CounterStore) Update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	k := s.key(key)

	txf := func(tx *redis.Tx) error {
		current, err := getEntry(ctx, tx, k)
		if err != nil {
			return err
		}

		next, ttl, err := fn(current)
		if err != nil || next == nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, expiry(ttl))
			return nil
		})
		return err
	}

	err := retry.WithBackoff(ctx, s.retry, func() error {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.ErrConflict
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

// Clear deletes every key under namespace using SCAN, so large keyspaces
// are removed in batches without blocking the server.
func (s *CounterStore) Clear(ctx context.Context, namespace string) error {
	pattern := escapeGlob(s.prefix) + "*"
	if namespace != "" {
		pattern = escapeGlob(s.prefix+namespace+":") + "*"
	}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("Clear: scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("Clear: del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// GetMeta returns a meta value.
func (s *CounterStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GetMeta: %w", err)
	}
	return v, true, nil
}

// SetMeta stores a meta value without expiry.
func (s *CounterStore) SetMeta(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("SetMeta: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *CounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getEntry(ctx context.Context, c getter, key string) (*ratelimit.CounterEntry, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry ratelimit.CounterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry %q: %w", key, err)
	}
	return &entry, nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
