package geostore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tenPoints() []Feature {
	features := make([]Feature, 10)
	for i := range features {
		features[i] = Feature{Geometry: NewPoint(float64(i), float64(i))}
	}
	return features
}

func TestCacheBasic(t *testing.T) {
	base := filepath.Join(t.TempDir(), "a")
	writeStore(t, base, nil, tenPoints(), quietOptions())

	cache := NewStoreCache(1024*1024, quietOptions())
	defer cache.Clear()
	assert.Equal(t, 0, cache.Stats().Stores)

	s1, release1, err := cache.Get(base)
	require.NoError(t, err)
	assert.True(t, s1.ReadOnly())

	s2, release2, err := cache.Get(base + ".geo")
	require.NoError(t, err)
	assert.Same(t, s1, s2, "base and primary path name the same store")

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Stores)
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, int64(1024+10*80), stats.UsedMemory)

	release1()
	release1() // repeated release counts once
	assert.Equal(t, 1, cache.Stats().InUse)
	release2()
	assert.Equal(t, 0, cache.Stats().InUse)

	_, _, err = cache.Get(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCacheEviction(t *testing.T) {
	dir := t.TempDir()
	var bases []string
	for i := range 3 {
		base := filepath.Join(dir, fmt.Sprintf("s%d", i))
		writeStore(t, base, nil, tenPoints(), quietOptions())
		bases = append(bases, base)
	}

	// Room for two stores of ten records.
	cache := NewStoreCache(4000, quietOptions())
	defer cache.Clear()

	get := func(base string) *Store {
		s, release, err := cache.Get(base)
		require.NoError(t, err)
		release()
		return s
	}
	first := get(bases[0])
	second := get(bases[1])
	get(bases[0]) // s1 becomes least recently used
	get(bases[2])

	assert.Equal(t, 2, cache.Stats().Stores)
	_, err := second.Query(QuerySpec{})
	assert.ErrorIs(t, err, ErrClosed, "unused evicted store is closed")
	cur, err := first.Query(QuerySpec{})
	require.NoError(t, err, "recently used store stays open")
	cur.Close()

	again := get(bases[1])
	assert.Equal(t, 4, cache.Stats().Misses)
	assert.Equal(t, "s1", again.Name())
}

func TestCacheEvictionWaitsForRelease(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	writeStore(t, a, nil, tenPoints(), quietOptions())
	writeStore(t, b, nil, tenPoints(), quietOptions())

	// Room for one store.
	cache := NewStoreCache(2000, quietOptions())
	defer cache.Clear()

	s, release, err := cache.Get(a)
	require.NoError(t, err)
	cur, err := s.Query(QuerySpec{})
	require.NoError(t, err)
	defer cur.Close()

	_, releaseB, err := cache.Get(b)
	require.NoError(t, err)
	defer releaseB()
	assert.Equal(t, 1, cache.Stats().Stores)

	// a is out of the cache but still in use: its cursor keeps reading.
	n := 0
	for range cur.All() {
		n++
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, 10, n)

	release()
	_, err = s.Query(QuerySpec{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCacheTooLarge(t *testing.T) {
	base := filepath.Join(t.TempDir(), "big")
	writeStore(t, base, nil, tenPoints(), quietOptions())

	cache := NewStoreCache(100, quietOptions())
	s, release, err := cache.Get(base)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Stats().Stores)
	assert.Equal(t, uint32(10), s.Count())
	release()
	_, err = s.Query(QuerySpec{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCacheRemoveAndClear(t *testing.T) {
	base := filepath.Join(t.TempDir(), "r")
	writeStore(t, base, nil, tenPoints(), quietOptions())

	cache := NewStoreCache(0, quietOptions())
	s, release, err := cache.Get(base)
	require.NoError(t, err)
	release()
	require.NoError(t, cache.Remove(base))
	_, err = s.Query(QuerySpec{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, cache.Remove(base))

	s, release, err = cache.Get(base)
	require.NoError(t, err)
	require.NoError(t, cache.Clear())
	cur, err := s.Query(QuerySpec{})
	require.NoError(t, err, "cleared store stays open until released")
	cur.Close()
	release()
	_, err = s.Query(QuerySpec{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, CacheStats{Misses: 2}, cache.Stats())
}
