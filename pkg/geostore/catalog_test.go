package geostore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	opts := quietOptions()
	writeStore(t, filepath.Join(root, "north", "a"), nil, []Feature{
		{Geometry: square(0, 0, 10)},
	}, opts)
	writeStore(t, filepath.Join(root, "north", "b"), nil, []Feature{
		{Geometry: square(20, 20, 10)},
		{Geometry: square(25, 25, 1)},
	}, opts)
	noIndex := opts
	noIndex.BuildIndexes = false
	writeStore(t, filepath.Join(root, "south", "c"), nil, []Feature{
		{Geometry: NewPoint(5, 5)},
	}, noIndex)
	writeStore(t, filepath.Join(root, "south", "empty"), nil, nil, opts)
	return root
}

func names(entries []CatalogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestDiscoverStores(t *testing.T) {
	root := catalogFixture(t)
	paths, err := DiscoverStores(root)
	require.NoError(t, err)
	require.Len(t, paths, 4)
	assert.Equal(t, filepath.Join(root, "north", "a.geo"), paths[0])

	_, err = DiscoverStores(filepath.Join(root, "nowhere"))
	assert.Error(t, err)
}

func TestBuildCatalog(t *testing.T) {
	root := catalogFixture(t)

	var calls, last int
	opts := quietOptions()
	opts.Workers = 2
	opts.Progress = func(done, total int) {
		calls++
		last = done
		assert.Equal(t, 4, total)
	}
	cat, err := BuildCatalog(root, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, cat.Count())
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, last)
	assert.Equal(t, NewEnvelope(0, 0, 30, 30), cat.Bounds())

	assert.Equal(t, []string{"a", "c"}, names(cat.Query(NewEnvelope(4, 4, 6, 6))))
	assert.Equal(t, []string{"a"}, names(cat.Query(NewEnvelope(10, 10, 15, 15))), "touching bounds intersect")
	assert.Equal(t, []string{"b"}, names(cat.Query(NewEnvelope(24, 24, 26, 26))))
	assert.Empty(t, cat.Query(NewEnvelope(40, 40, 50, 50)))
	assert.Equal(t, []string{"a", "b", "c"}, names(cat.Query(InfiniteEnvelope())))
	assert.Empty(t, cat.Query(EmptyEnvelope()))

	byName := make(map[string]CatalogEntry)
	for _, e := range cat.All() {
		byName[e.Name] = e
	}
	assert.True(t, byName["a"].Indexed)
	assert.False(t, byName["c"].Indexed)
	assert.Equal(t, uint32(2), byName["b"].Count)
	assert.True(t, filepath.IsAbs(byName["b"].Path))

	s, err := cat.Open(byName["b"])
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint32(2), s.Count())
}

func TestBuildCatalogErrors(t *testing.T) {
	root := catalogFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.geo"), []byte("junk"), 0o644))

	cat, err := BuildCatalog(root, quietOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, cat.Count(), "broken store is skipped")

	strict := quietOptions()
	strict.SkipErrors = false
	_, err = BuildCatalog(root, strict)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = BuildCatalog(t.TempDir(), quietOptions())
	assert.Error(t, err)
}
