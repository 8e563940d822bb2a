package circuitbreaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routelimit/pkg/ratelimit"
)

var errDown = errors.New("connection refused")

// flakyStore is a plain counter store whose backend can be switched off.
type flakyStore struct {
	*ratelimit.InMemoryCounterStore
	down  atomic.Bool
	calls atomic.Int32
	pings atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{InMemoryCounterStore: ratelimit.NewInMemoryCounterStore(ratelimit.InMemoryStoreConfig{})}
}

func (f *flakyStore) GetItem(ctx context.Context, key string) (*ratelimit.CounterEntry, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, errDown
	}
	return f.InMemoryCounterStore.GetItem(ctx, key)
}

func (f *flakyStore) Update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errDown
	}
	return f.InMemoryCounterStore.Update(ctx, key, fn)
}

func (f *flakyStore) Ping(context.Context) error {
	f.pings.Add(1)
	if f.down.Load() {
		return errDown
	}
	return nil
}

func testStoreConfig() Config {
	return Config{
		Name:             "test-store",
		MaxRequests:      1,
		Interval:         10 * time.Second,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 0.5,
		MinRequests:      3,
	}
}

func TestStoreBreaker_PassesThrough(t *testing.T) {
	ctx := context.Background()
	store := NewStoreBreaker(newFlakyStore(), testStoreConfig())

	require.NoError(t, store.SetItem(ctx, "data:ip:1", ratelimit.CounterEntry{Count: 2}, 0))
	got, err := store.GetItem(ctx, "data:ip:1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)

	algo := ratelimit.NewFixedWindowAlgorithm(nil)
	d, err := algo.Evaluate(ctx, store, "data:ip:2", ratelimit.RateLimitRule{Limit: 1, Period: 60})
	require.NoError(t, err)
	assert.False(t, d.Limited)

	require.NoError(t, store.Clear(ctx, ratelimit.DataNamespace))
	got, err = store.GetItem(ctx, "data:ip:1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreBreaker_FailsClosedWhenOpen(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyStore()
	backend.down.Store(true)
	store := NewStoreBreaker(backend, testStoreConfig())
	algo := ratelimit.NewFixedWindowAlgorithm(nil)
	rule := ratelimit.RateLimitRule{Limit: 10, Period: 60}

	for i := 0; i < 3; i++ {
		_, err := algo.Evaluate(ctx, store, "k", rule)
		require.Error(t, err)
		assert.ErrorIs(t, err, errDown)
	}
	require.Equal(t, gobreaker.StateOpen.String(), store.State())

	before := backend.calls.Load()
	d, err := algo.Evaluate(ctx, store, "k", rule)
	assert.Nil(t, d)
	assert.True(t, ratelimit.IsStorageError(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, backend.calls.Load(), "open circuit must not reach the backend")

	// Health checks still reach the backend.
	assert.ErrorIs(t, store.Ping(ctx), errDown)
	assert.Equal(t, int32(1), backend.pings.Load())

	// Recovery after the open timeout.
	backend.down.Store(false)
	time.Sleep(80 * time.Millisecond)
	d, err = algo.Evaluate(ctx, store, "k", rule)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.Equal(t, gobreaker.StateClosed.String(), store.State())
}

func TestStoreBreaker_ExposesWrappedCapabilities(t *testing.T) {
	backend := newFlakyStore()
	store := NewStoreBreaker(backend, testStoreConfig())

	meta, ok := ratelimit.Capability[ratelimit.MetaStore](store)
	require.True(t, ok)
	require.NoError(t, meta.SetMeta(context.Background(), "meta:config", "h"))

	_, ok = ratelimit.Capability[ratelimit.Sweeper](store)
	assert.True(t, ok)

	cleared, err := ratelimit.AutoClear(context.Background(), store, ratelimit.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestIsOpenErr(t *testing.T) {
	assert.True(t, IsOpenErr(gobreaker.ErrOpenState))
	assert.True(t, IsOpenErr(gobreaker.ErrTooManyRequests))
	assert.False(t, IsOpenErr(errDown))
	assert.False(t, IsOpenErr(nil))
}
