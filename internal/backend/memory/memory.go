// Package memory implements an in-process LRU Backend: a
// container/list-backed eviction policy reporting the cache.CacheState
// enum the Backend Port speaks.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/relaycache/cacheproxy/internal/cache"
	"github.com/relaycache/cacheproxy/internal/cachekey"
)

// Stats tracks basic cache metrics.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Stores    uint64
	Evictions uint64
}

// Backend is a thread-safe LRU cache with a per-item TTL/stale window.
type Backend[V any] struct {
	mu         sync.Mutex
	lruList    *list.List
	items      map[cachekey.CacheKey]*list.Element
	maxEntries int
	stats      Stats

	// Clock overrides time.Now, used by freshness tests to control TTL
	// expiry deterministically.
	Clock func() time.Time
}

type entry[V any] struct {
	key cachekey.CacheKey
	val *cache.CachedValue[V]
}

// New creates an LRU backend holding at most maxEntries items. A
// non-positive maxEntries defaults to 1024.
func New[V any](maxEntries int) *Backend[V] {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Backend[V]{
		lruList:    list.New(),
		items:      make(map[cachekey.CacheKey]*list.Element),
		maxEntries: maxEntries,
	}
}

// Start is a no-op; the in-process backend has nothing to connect to.
func (b *Backend[V]) Start(_ context.Context) error { return nil }

// Get reports Actual/Stale/Miss per the entry's freshness at now. Expired
// entries are reported - and evicted - as Miss, per the Backend Port
// contract.
func (b *Backend[V]) Get(_ context.Context, key cachekey.CacheKey) (cache.CacheState[V], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	element, found := b.items[key]
	if !found {
		b.stats.Misses++
		return cache.MissState[V](), nil
	}
	b.lruList.MoveToFront(element)
	e := element.Value.(*entry[V])

	now := b.now()
	if e.val.Expired(now) {
		b.removeElement(element)
		b.stats.Entries = b.lruList.Len()
		b.stats.Misses++
		return cache.MissState[V](), nil
	}
	if e.val.Stale(now) {
		return cache.StaleState(e.val), nil
	}
	b.stats.Hits++
	return cache.ActualState(e.val), nil
}

// Set stores value under key, overwriting any prior entry and evicting the
// least-recently-used entry if this insert pushes the cache over capacity.
func (b *Backend[V]) Set(_ context.Context, key cachekey.CacheKey, value *cache.CachedValue[V], _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if element, found := b.items[key]; found {
		element.Value.(*entry[V]).val = value
		b.lruList.MoveToFront(element)
	} else {
		element := b.lruList.PushFront(&entry[V]{key: key, val: value})
		b.items[key] = element
		b.stats.Stores++
		if b.lruList.Len() > b.maxEntries {
			b.removeOldest()
		}
	}
	b.stats.Entries = b.lruList.Len()
	return nil
}

// Delete removes key, reporting whether anything was actually present.
func (b *Backend[V]) Delete(_ context.Context, key cachekey.CacheKey) (cache.DeleteStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	element, found := b.items[key]
	if !found {
		return cache.Missing, nil
	}
	b.removeElement(element)
	b.stats.Entries = b.lruList.Len()
	return cache.Deleted, nil
}

// Purge clears all entries, resetting the cache to empty.
func (b *Backend[V]) Purge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lruList = list.New()
	b.items = make(map[cachekey.CacheKey]*list.Element)
	b.stats.Entries = 0
}

// Stats returns a snapshot of the current counters.
func (b *Backend[V]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Backend[V]) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

func (b *Backend[V]) removeOldest() {
	if el := b.lruList.Back(); el != nil {
		b.removeElement(el)
	}
}

func (b *Backend[V]) removeElement(element *list.Element) {
	b.lruList.Remove(element)
	e := element.Value.(*entry[V])
	delete(b.items, e.key)
	b.stats.Evictions++
}
