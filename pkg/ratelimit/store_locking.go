package ratelimit

import (
	"context"
	"hash/fnv"
	"time"
)

const lockShards = 256

// keyedMutex serializes work per key using a fixed set of shards picked by
// FNV-1a hash. Unrelated keys may share a shard; that only costs
// throughput, never correctness. Acquisition honors context cancellation.
type keyedMutex struct {
	shards [lockShards]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	m := &keyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

func (m *keyedMutex) lock(ctx context.Context, key string) (unlock func(), err error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	shard := m.shards[h.Sum32()%lockShards]

	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LockingStore turns a plain CounterStore into an AtomicCounterStore by
// holding a per-key lock across the read-evaluate-write sequence.
//
// The lock is in-process: it closes the race between concurrent requests
// handled by one process, which is all a single logical store needs.
type LockingStore struct {
	store CounterStore
	locks *keyedMutex
}

// NewLockingStore wraps store. Stores that are already atomic are returned
// unchanged.
func NewLockingStore(store CounterStore) AtomicCounterStore {
	if atomic, ok := store.(AtomicCounterStore); ok {
		return atomic
	}
	return &LockingStore{store: store, locks: newKeyedMutex()}
}

// GetItem delegates to the wrapped store.
func (s *LockingStore) GetItem(ctx context.Context, key string) (*CounterEntry, error) {
	return s.store.GetItem(ctx, key)
}

// SetItem delegates to the wrapped store.
func (s *LockingStore) SetItem(ctx context.Context, key string, entry CounterEntry, ttl time.Duration) error {
	return s.store.SetItem(ctx, key, entry, ttl)
}

// Clear delegates to the wrapped store.
func (s *LockingStore) Clear(ctx context.Context, namespace string) error {
	return s.store.Clear(ctx, namespace)
}

// Update runs fn under the lock for key.
func (s *LockingStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return storageErr("lock", key, err)
	}
	defer unlock()

	current, err := s.store.GetItem(ctx, key)
	if err != nil {
		return storageErr("get", key, err)
	}
	next, ttl, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	if err := s.store.SetItem(ctx, key, *next, ttl); err != nil {
		return storageErr("set", key, err)
	}
	return nil
}

// Unwrap returns the wrapped store.
func (s *LockingStore) Unwrap() CounterStore {
	return s.store
}

// Capability returns the first store in the Unwrap chain of store that
// implements T.
func Capability[T any](store CounterStore) (T, bool) {
	for store != nil {
		if c, ok := store.(T); ok {
			return c, true
		}
		u, ok := store.(interface{ Unwrap() CounterStore })
		if !ok {
			break
		}
		store = u.Unwrap()
	}
	var zero T
	return zero, false
}
