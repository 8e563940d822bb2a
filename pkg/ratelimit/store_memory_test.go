package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewInMemoryCounterStore(t *testing.T) {
	tests := []struct {
		name        string
		config      InMemoryStoreConfig
		wantMaxKeys int
	}{
		{
			name:        "with custom config",
			config:      InMemoryStoreConfig{MaxKeys: 5000, Clock: NewMockClock(time.Now())},
			wantMaxKeys: 5000,
		},
		{
			name:        "with zero max keys uses default",
			config:      InMemoryStoreConfig{},
			wantMaxKeys: DefaultMaxKeys,
		},
		{
			name:        "with negative max keys uses default",
			config:      InMemoryStoreConfig{MaxKeys: -1},
			wantMaxKeys: DefaultMaxKeys,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryCounterStore(tt.config)
			if store.maxKeys != tt.wantMaxKeys {
				t.Errorf("maxKeys = %v, want %v", store.maxKeys, tt.wantMaxKeys)
			}
			if store.clock == nil {
				t.Error("clock should not be nil")
			}
		})
	}
}

func TestInMemoryCounterStore_GetSetItem(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	clock := NewMockClock(now)
	store := NewInMemoryCounterStore(InMemoryStoreConfig{Clock: clock})

	got, err := store.GetItem(ctx, "data:ip:1")
	if err != nil || got != nil {
		t.Fatalf("GetItem() on empty store = %v, %v", got, err)
	}

	entry := newWindow(now, 10)
	if err := store.SetItem(ctx, "data:ip:1", entry, 10*time.Second); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}

	got, err = store.GetItem(ctx, "data:ip:1")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got == nil || *got != entry {
		t.Fatalf("GetItem() = %v, want %v", got, entry)
	}

	// Returned entries are copies.
	got.Count = 99
	again, _ := store.GetItem(ctx, "data:ip:1")
	if again.Count != 1 {
		t.Errorf("stored count mutated through returned entry: %d", again.Count)
	}

	clock.Advance(10 * time.Second)
	if got, _ := store.GetItem(ctx, "data:ip:1"); got == nil {
		t.Error("entry expired at its TTL boundary, want it still visible")
	}
	clock.Advance(time.Millisecond)
	if got, _ := store.GetItem(ctx, "data:ip:1"); got != nil {
		t.Errorf("GetItem() after TTL = %v, want nil", got)
	}
}

func TestInMemoryCounterStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryCounterStore(InMemoryStoreConfig{})

	_ = store.SetItem(ctx, "data:ip:1", CounterEntry{Count: 1}, 0)
	_ = store.SetItem(ctx, "data:ip:2", CounterEntry{Count: 1}, 0)
	_ = store.SetItem(ctx, "database:x", CounterEntry{Count: 1}, 0)
	_ = store.SetMeta(ctx, "meta:config", "abc")

	if err := store.Clear(ctx, DataNamespace); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if store.KeyCount() != 1 {
		t.Errorf("KeyCount() = %d, want 1 (only the non-data key)", store.KeyCount())
	}
	if v, ok, _ := store.GetMeta(ctx, "meta:config"); !ok || v != "abc" {
		t.Errorf("meta cleared by data Clear: %q %v", v, ok)
	}

	if err := store.Clear(ctx, MetaNamespace); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.GetMeta(ctx, "meta:config"); ok {
		t.Error("meta survived Clear(meta)")
	}
}

func TestInMemoryCounterStore_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	clock := NewMockClock(now)
	metrics := NewPrometheusMetrics()
	store := NewInMemoryCounterStore(InMemoryStoreConfig{Clock: clock, Metrics: metrics})

	_ = store.SetItem(ctx, "data:ip:1", newWindow(now.Add(-2*time.Hour), 60), 0)
	_ = store.SetItem(ctx, "data:ip:2", newWindow(now.Add(-30*time.Second), 60), time.Minute)
	_ = store.SetItem(ctx, "data:ip:3", newWindow(now, 60), time.Minute)

	removed, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if store.KeyCount() != 2 {
		t.Errorf("KeyCount() = %d, want 2", store.KeyCount())
	}
	if got := gaugeValue(t, metrics.activeKeys); got != 2 {
		t.Errorf("active keys gauge = %v, want 2", got)
	}
}

func TestInMemoryCounterStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	metrics := NewPrometheusMetrics()
	store := NewInMemoryCounterStore(InMemoryStoreConfig{MaxKeys: 10, Metrics: metrics})

	for i := 0; i < 10; i++ {
		if err := store.SetItem(ctx, fmt.Sprintf("user-%d", i), CounterEntry{Count: 1}, 0); err != nil {
			t.Fatalf("SetItem() error = %v", err)
		}
	}

	// Touch user-0 so user-1 becomes the least recently used.
	_ = store.SetItem(ctx, "user-0", CounterEntry{Count: 2}, 0)

	if err := store.SetItem(ctx, "user-new", CounterEntry{Count: 1}, 0); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}

	if store.KeyCount() != 10 {
		t.Errorf("KeyCount() = %v, want 10 after eviction", store.KeyCount())
	}
	if got, _ := store.GetItem(ctx, "user-1"); got != nil {
		t.Error("least recently used key survived eviction")
	}
	if got, _ := store.GetItem(ctx, "user-0"); got == nil {
		t.Error("recently used key was evicted")
	}
	if got, _ := store.GetItem(ctx, "user-new"); got == nil {
		t.Error("new key should exist after eviction")
	}
	if got := counterValue(t, metrics.evictionsTotal); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}
}

func TestInMemoryCounterStore_Update(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryCounterStore(InMemoryStoreConfig{})

	// A nil next leaves storage untouched.
	err := store.Update(ctx, "k", func(current *CounterEntry) (*CounterEntry, time.Duration, error) {
		if current != nil {
			t.Errorf("current = %v, want nil", current)
		}
		return nil, 0, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if store.KeyCount() != 0 {
		t.Fatalf("KeyCount() = %d, want 0", store.KeyCount())
	}

	errAbort := fmt.Errorf("abort")
	err = store.Update(ctx, "k", func(*CounterEntry) (*CounterEntry, time.Duration, error) {
		return &CounterEntry{Count: 1}, 0, errAbort
	})
	if err != errAbort {
		t.Errorf("Update() error = %v, want the callback error", err)
	}
	if store.KeyCount() != 0 {
		t.Error("entry written despite callback error")
	}
}

func TestInMemoryCounterStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryCounterStore(InMemoryStoreConfig{MaxKeys: 1000})

	var wg sync.WaitGroup
	numGoroutines := 10
	updatesPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				key := fmt.Sprintf("user-%d", id)
				for k := 0; k < updatesPerGoroutine; k++ {
					err := store.Update(ctx, key, func(current *CounterEntry) (*CounterEntry, time.Duration, error) {
						next := CounterEntry{Count: 1}
						if current != nil {
							next.Count = current.Count + 1
						}
						return &next, 0, nil
					})
					if err != nil {
						t.Errorf("Update() error = %v", err)
					}
				}
			}(i)
		}
	}
	wg.Wait()

	if store.KeyCount() != numGoroutines {
		t.Errorf("KeyCount() = %v, want %v", store.KeyCount(), numGoroutines)
	}
	for i := 0; i < numGoroutines; i++ {
		got, _ := store.GetItem(ctx, fmt.Sprintf("user-%d", i))
		if got.Count != 2*updatesPerGoroutine {
			t.Errorf("user-%d count = %d, want %d", i, got.Count, 2*updatesPerGoroutine)
		}
	}
}

func TestInMemoryCounterStore_Meta(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryCounterStore(InMemoryStoreConfig{})

	if _, ok, _ := store.GetMeta(ctx, "meta:config"); ok {
		t.Error("GetMeta() found a value in an empty store")
	}
	_ = store.SetMeta(ctx, "meta:config", "v1")
	if v, ok, err := store.GetMeta(ctx, "meta:config"); err != nil || !ok || v != "v1" {
		t.Errorf("GetMeta() = %q, %v, %v", v, ok, err)
	}
}

func TestInMemoryCounterStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewInMemoryCounterStore(InMemoryStoreConfig{})

	if _, err := store.GetItem(ctx, "k"); err == nil {
		t.Error("GetItem() with canceled context should fail")
	}
	if err := store.SetItem(ctx, "k", CounterEntry{}, 0); err == nil {
		t.Error("SetItem() with canceled context should fail")
	}
}
