package geostore

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beetlebugorg/geostore/internal/access"
)

// StoreCache keeps recently used stores open, read-only, with LRU eviction.
//
// Memory use is estimated from record counts, since an open store holds its
// spatial and identifier indexes in memory once queried. Every Get returns
// a release function; a store evicted while still in use is closed only
// when its last user releases it, so open cursors are never cut short.
//
// Example:
//
//	cache := geostore.NewStoreCache(256*1024*1024, geostore.DefaultOptions())
//	defer cache.Clear()
//
//	store, release, err := cache.Get("/data/charts/harbour.geo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer release()
type StoreCache struct {
	opts       Options
	maxMemory  int64
	usedMemory int64
	stores     map[string]*cacheEntry
	lru        *list.List // most recent at front
	hits       int
	misses     int
	mu         sync.Mutex
}

type cacheEntry struct {
	path         string
	store        *Store
	memorySize   int64
	element      *list.Element
	lastAccessed time.Time
	refs         int
	evicted      bool // no longer in the cache; close when refs drops to 0
}

// CacheStats holds cache counters.
type CacheStats struct {
	Stores     int   // Stores currently cached
	InUse      int   // Cached stores with unreleased users
	UsedMemory int64 // Estimated memory in bytes
	MaxMemory  int64
	Hits       int
	Misses     int
}

// NewStoreCache creates a cache with the given memory limit in bytes. Zero
// means unlimited. Stores are opened with opts, forced read-only.
func NewStoreCache(maxMemoryBytes int64, opts Options) *StoreCache {
	opts.ReadOnly = true
	opts.AutoRebuild = false
	return &StoreCache{
		opts:      opts,
		maxMemory: maxMemoryBytes,
		stores:    make(map[string]*cacheEntry),
		lru:       list.New(),
	}
}

// Get returns the store at base, opening it on a miss, and a function that
// releases it. The store must not be used after release, which may be
// called more than once. A store too large for the cache is not kept and is
// closed by release.
func (c *StoreCache) Get(base string) (*Store, func(), error) {
	key := access.PathsFor(base).Primary
	c.mu.Lock()
	if entry, ok := c.stores[key]; ok {
		entry.lastAccessed = time.Now()
		entry.refs++
		c.lru.MoveToFront(entry.element)
		c.hits++
		c.mu.Unlock()
		return entry.store, c.releaser(entry), nil
	}
	c.misses++
	c.mu.Unlock()

	s, err := Open(base, c.opts)
	if err != nil {
		return nil, nil, fmt.Errorf("load store: %w", err)
	}

	c.mu.Lock()
	// Another caller may have opened the same store meanwhile.
	if entry, ok := c.stores[key]; ok {
		entry.refs++
		c.lru.MoveToFront(entry.element)
		c.mu.Unlock()
		s.Close()
		return entry.store, c.releaser(entry), nil
	}
	size := estimateStoreMemory(s)
	entry := &cacheEntry{path: key, store: s, memorySize: size, lastAccessed: time.Now(), refs: 1}
	if c.maxMemory > 0 && size > c.maxMemory {
		c.mu.Unlock()
		entry.evicted = true
		return s, c.releaser(entry), nil
	}
	var idle []*Store
	if c.maxMemory > 0 {
		for c.usedMemory+size > c.maxMemory && c.lru.Len() > 0 {
			if old := c.detach(c.lru.Back().Value.(*cacheEntry)); old != nil {
				idle = append(idle, old)
			}
		}
	}
	entry.element = c.lru.PushFront(entry)
	c.stores[key] = entry
	c.usedMemory += size
	c.mu.Unlock()

	for _, old := range idle {
		old.Close()
	}
	return s, c.releaser(entry), nil
}

func (c *StoreCache) releaser(entry *cacheEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			entry.refs--
			closeNow := entry.evicted && entry.refs == 0
			c.mu.Unlock()
			if closeNow {
				entry.store.Close()
			}
		})
	}
}

// detach removes entry from the cache. It returns the store when nobody
// uses it, so the caller can close it outside the lock. Must be called with
// c.mu locked.
func (c *StoreCache) detach(entry *cacheEntry) *Store {
	c.lru.Remove(entry.element)
	delete(c.stores, entry.path)
	c.usedMemory -= entry.memorySize
	entry.evicted = true
	if entry.refs > 0 {
		return nil
	}
	return entry.store
}

// Remove forgets the store at base, if cached. It is closed now when
// unused, otherwise on its last release.
func (c *StoreCache) Remove(base string) error {
	key := access.PathsFor(base).Primary
	c.mu.Lock()
	var idle *Store
	if entry, ok := c.stores[key]; ok {
		idle = c.detach(entry)
	}
	c.mu.Unlock()
	if idle == nil {
		return nil
	}
	return idle.Close()
}

// Clear forgets every cached store, closing the unused ones.
func (c *StoreCache) Clear() error {
	c.mu.Lock()
	var idle []*Store
	for _, entry := range c.stores {
		if s := c.detach(entry); s != nil {
			idle = append(idle, s)
		}
	}
	c.mu.Unlock()

	var errList []error
	for _, s := range idle {
		errList = append(errList, s.Close())
	}
	return errors.Join(errList...)
}

// Stats returns cache statistics.
func (c *StoreCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	inUse := 0
	for _, entry := range c.stores {
		if entry.refs > 0 {
			inUse++
		}
	}
	return CacheStats{
		Stores:     len(c.stores),
		InUse:      inUse,
		UsedMemory: c.usedMemory,
		MaxMemory:  c.maxMemory,
		Hits:       c.hits,
		Misses:     c.misses,
	}
}

// estimateStoreMemory approximates the footprint of an open store:
//   - Base overhead: ~1KB per store
//   - Spatial index: ~48 bytes per record (envelope, number and node share)
//   - Identifier index: ~32 bytes per record
func estimateStoreMemory(s *Store) int64 {
	return 1024 + int64(s.Count())*80
}
