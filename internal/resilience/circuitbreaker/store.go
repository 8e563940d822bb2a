package circuitbreaker

import (
	"context"
	"time"

	"routelimit/pkg/ratelimit"
)

// StoreBreaker wraps a counter store with circuit breaker protection.
//
// While the circuit is open every call fails immediately with a
// *ratelimit.StorageError wrapping gobreaker.ErrOpenState, so the limiter
// fails closed without waiting on a backend known to be down.
type StoreBreaker struct {
	cb    *CircuitBreaker
	store ratelimit.AtomicCounterStore
	inner ratelimit.CounterStore
}

// NewStoreBreaker wraps store. Plain stores are upgraded with
// ratelimit.NewLockingStore first.
func NewStoreBreaker(store ratelimit.CounterStore, cfg Config) *StoreBreaker {
	return &StoreBreaker{
		cb:    New(cfg),
		store: ratelimit.NewLockingStore(store),
		inner: store,
	}
}

// GetItem reads through the breaker.
func (s *StoreBreaker) GetItem(ctx context.Context, key string) (*ratelimit.CounterEntry, error) {
	var entry *ratelimit.CounterEntry
	err := s.cb.Run(func() error {
		var err error
		entry, err = s.store.GetItem(ctx, key)
		return err
	})
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return entry, nil
}

// SetItem writes through the breaker.
func (s *StoreBreaker) SetItem(ctx context.Context, key string, entry ratelimit.CounterEntry, ttl time.Duration) error {
	return s.wrap("set", key, s.cb.Run(func() error {
		return s.store.SetItem(ctx, key, entry, ttl)
	}))
}

// Clear runs through the breaker.
func (s *StoreBreaker) Clear(ctx context.Context, namespace string) error {
	return s.wrap("clear", namespace, s.cb.Run(func() error {
		return s.store.Clear(ctx, namespace)
	}))
}

// Update runs the whole read-evaluate-write through the breaker as one call.
func (s *StoreBreaker) Update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	return s.wrap("update", key, s.cb.Run(func() error {
		return s.store.Update(ctx, key, fn)
	}))
}

// Ping checks the wrapped store if it supports it. It bypasses the
// breaker so health checks keep reporting while the circuit is open.
func (s *StoreBreaker) Ping(ctx context.Context) error {
	if p, ok := ratelimit.Capability[ratelimit.Pinger](s.inner); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Unwrap returns the wrapped store.
func (s *StoreBreaker) Unwrap() ratelimit.CounterStore {
	return s.inner
}

// State returns the breaker state name.
func (s *StoreBreaker) State() string {
	return s.cb.State().String()
}

func (s *StoreBreaker) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if IsOpenErr(err) {
		return &ratelimit.StorageError{Op: op, Key: key, Err: err}
	}
	return err
}
