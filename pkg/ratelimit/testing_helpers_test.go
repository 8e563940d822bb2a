package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockClock implements Clock interface for testing
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// mapStore is a plain, non-atomic CounterStore. Its reads and writes are
// individually safe but the pair is not, which is what LockingStore fixes.
type mapStore struct {
	mu      sync.Mutex
	items   map[string]CounterEntry
	gets    int
	sets    int
	readLag time.Duration
}

func newMapStore() *mapStore {
	return &mapStore{items: make(map[string]CounterEntry)}
}

func (s *mapStore) GetItem(ctx context.Context, key string) (*CounterEntry, error) {
	s.mu.Lock()
	s.gets++
	e, ok := s.items[key]
	s.mu.Unlock()
	if s.readLag > 0 {
		time.Sleep(s.readLag)
	}
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *mapStore) SetItem(ctx context.Context, key string, entry CounterEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.items[key] = entry
	return nil
}

func (s *mapStore) Clear(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.items {
		if strings.HasPrefix(k, namespace+":") {
			delete(s.items, k)
		}
	}
	return nil
}

func (s *mapStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

var errBackendDown = errors.New("backend down")

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) GetItem(ctx context.Context, key string) (*CounterEntry, error) {
	return nil, errBackendDown
}

func (failingStore) SetItem(ctx context.Context, key string, entry CounterEntry, ttl time.Duration) error {
	return errBackendDown
}

func (failingStore) Clear(ctx context.Context, namespace string) error {
	return errBackendDown
}

func newRequest(path string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func staticKey(source, raw string) KeyDeriver {
	return KeyFunc(func(*http.Request) KeyOutcome {
		return KeySuccess(source, raw, nil)
	})
}

func failingKey(source string) KeyDeriver {
	return KeyFunc(func(*http.Request) KeyOutcome {
		return KeyFailure(source, "not available")
	})
}
