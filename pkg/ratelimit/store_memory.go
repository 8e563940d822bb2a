package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryCounterStore is a thread-safe in-memory AtomicCounterStore.
//
// It includes memory management features such as:
//   - Maximum key limit with LRU (Least Recently Used) eviction
//   - Per-entry TTL, checked on read and removed by Sweep
//
// Update holds a per-key lock across the read-evaluate-write, so it is
// race-free for concurrent requests on the same key.
type InMemoryCounterStore struct {
	mu      sync.RWMutex
	items   map[string]*memoryItem
	meta    map[string]string
	maxKeys int
	clock   Clock
	metrics RateLimitMetrics
	locks   *keyedMutex

	lruList *lruList
}

type memoryItem struct {
	entry     CounterEntry
	expiresAt time.Time
}

// lruList maintains a doubly-linked list of keys ordered by last access time.
type lruList struct {
	head *lruNode
	tail *lruNode
	keys map[string]*lruNode
}

type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

// InMemoryStoreConfig holds configuration for InMemoryCounterStore.
type InMemoryStoreConfig struct {
	// MaxKeys is the maximum number of counters to keep.
	// Default: 10000
	MaxKeys int

	// Clock provides time operations for testing.
	// Default: SystemClock
	Clock Clock

	// Metrics receives eviction counts. Default: NoOpMetrics
	Metrics RateLimitMetrics
}

// NewInMemoryCounterStore creates a store with the given configuration.
func NewInMemoryCounterStore(config InMemoryStoreConfig) *InMemoryCounterStore {
	if config.MaxKeys <= 0 {
		config.MaxKeys = DefaultMaxKeys
	}
	if config.Clock == nil {
		config.Clock = &SystemClock{}
	}
	if config.Metrics == nil {
		config.Metrics = NewNoOpMetrics()
	}

	return &InMemoryCounterStore{
		items:   make(map[string]*memoryItem),
		meta:    make(map[string]string),
		maxKeys: config.MaxKeys,
		clock:   config.Clock,
		metrics: config.Metrics,
		locks:   newKeyedMutex(),
		lruList: &lruList{keys: make(map[string]*lruNode)},
	}
}

// GetItem returns the live entry for key, or nil.
func (s *InMemoryCounterStore) GetItem(ctx context.Context, key string) (*CounterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok || s.expired(item) {
		return nil, nil
	}
	entry := item.entry
	return &entry, nil
}

// SetItem stores entry under key, evicting the least recently used keys
// when the store is full.
func (s *InMemoryCounterStore) SetItem(ctx context.Context, key string, entry CounterEntry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; !exists && len(s.items) >= s.maxKeys {
		s.evictLRU()
	}

	item := &memoryItem{entry: entry}
	if ttl > 0 {
		item.expiresAt = s.clock.Now().Add(ttl)
	}
	s.items[key] = item
	s.lruList.touch(key)
	return nil
}

// Update runs fn under the per-key lock.
func (s *InMemoryCounterStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return storageErr("lock", key, err)
	}
	defer unlock()

	current, err := s.GetItem(ctx, key)
	if err != nil {
		return storageErr("get", key, err)
	}
	next, ttl, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	if err := s.SetItem(ctx, key, *next, ttl); err != nil {
		return storageErr("set", key, err)
	}
	return nil
}

// Clear removes every counter and meta value under namespace.
func (s *InMemoryCounterStore) Clear(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := namespace + keySeparator
	for key := range s.items {
		if namespace == "" || strings.HasPrefix(key, prefix) {
			delete(s.items, key)
			s.lruList.remove(key)
		}
	}
	for key := range s.meta {
		if namespace == "" || strings.HasPrefix(key, prefix) {
			delete(s.meta, key)
		}
	}
	return nil
}

// GetMeta returns a meta value.
func (s *InMemoryCounterStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[key]
	return v, ok, nil
}

// SetMeta stores a meta value.
func (s *InMemoryCounterStore) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

// Sweep removes entries whose TTL has passed or whose window ended before now.
func (s *InMemoryCounterStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, item := range s.items {
		if s.expiredAt(item, now) || item.entry.Expired(now) {
			delete(s.items, key)
			s.lruList.remove(key)
			removed++
		}
	}
	s.metrics.SetActiveKeys(len(s.items))
	return removed, nil
}

// KeyCount returns the number of stored counters.
func (s *InMemoryCounterStore) KeyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *InMemoryCounterStore) expired(item *memoryItem) bool {
	return s.expiredAt(item, s.clock.Now())
}

func (s *InMemoryCounterStore) expiredAt(item *memoryItem, now time.Time) bool {
	return !item.expiresAt.IsZero() && now.After(item.expiresAt)
}

// evictLRU evicts 10% of the keys, least recently used first, to avoid
// evicting on every insert once the store is full.
//
// This method must be called while holding the write lock.
func (s *InMemoryCounterStore) evictLRU() {
	evictCount := s.maxKeys / 10
	if evictCount < 1 {
		evictCount = 1
	}

	evicted := 0
	for evicted < evictCount && s.lruList.tail != nil {
		key := s.lruList.tail.key
		delete(s.items, key)
		s.lruList.remove(key)
		evicted++
	}
	s.metrics.RecordEviction(evicted)
}

// touch moves key to the front of the list, adding it if needed.
func (l *lruList) touch(key string) {
	if _, exists := l.keys[key]; exists {
		l.remove(key)
	}

	node := &lruNode{key: key, next: l.head}
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.keys[key] = node
}

func (l *lruList) remove(key string) {
	node, exists := l.keys[key]
	if !exists {
		return
	}

	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	delete(l.keys, key)
}
