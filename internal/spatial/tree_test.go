package spatial

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math/rand"
	"slices"
	"testing"

	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/geom"
	"github.com/dhconnelly/rtreego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomEntries(rng *rand.Rand, n int, world, maxSize float64) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		x := rng.Float64() * world
		y := rng.Float64() * world
		entries[i] = Entry{
			Record:   uint32(i + 1),
			Offset:   uint64(i) * 100,
			Envelope: geom.Envelope{MinX: x, MinY: y, MaxX: x + rng.Float64()*maxSize, MaxY: y + rng.Float64()*maxSize},
		}
	}
	return entries
}

// unitSquares places n non-overlapping 1×1 squares on distinct cells of a
// 100×100 grid.
func unitSquares(rng *rand.Rand, n int) []Entry {
	cells := rng.Perm(100 * 100)[:n]
	entries := make([]Entry, n)
	for i, c := range cells {
		x, y := float64(c%100), float64(c/100)
		entries[i] = Entry{
			Record:   uint32(i + 1),
			Offset:   uint64(i),
			Envelope: geom.Envelope{MinX: x, MinY: y, MaxX: x + 1, MaxY: y + 1},
		}
	}
	return entries
}

func bruteForce(entries []Entry, q geom.Envelope) []uint32 {
	var out []uint32
	for _, e := range entries {
		if e.Envelope.Intersects(q) {
			out = append(out, e.Record)
		}
	}
	slices.Sort(out)
	return out
}

func searchRecords(t *Tree, q geom.Envelope) []uint32 {
	var out []uint32
	for e := range t.All(q) {
		out = append(out, e.Record)
	}
	slices.Sort(out)
	return out
}

// checkInvariants verifies bounds, parent links, child counts and leaf sizes.
func checkInvariants(t *testing.T, tree *Tree, depthLimit int) {
	t.Helper()
	seen := 0
	for id := range tree.nodes {
		n := &tree.nodes[id]
		if id == 0 {
			assert.Equal(t, int32(-1), n.Parent)
		}
		if n.IsLeaf() {
			seen += len(n.Entries)
			assert.Equal(t, unionOf(n.Entries), n.Bounds, "leaf %d bounds", id)
			if len(n.Entries) > tree.fanOut {
				d := 0
				for p := n.Parent; p >= 0; p = tree.nodes[p].Parent {
					d++
				}
				assert.Equal(t, depthLimit, d, "oversized leaf %d above depth limit", id)
			}
			continue
		}
		require.GreaterOrEqual(t, len(n.Children), 2, "internal node %d", id)
		union := geom.EmptyEnvelope()
		for _, c := range n.Children {
			assert.Equal(t, int32(id), tree.nodes[c].Parent)
			union = union.Union(tree.nodes[c].Bounds)
		}
		assert.Equal(t, union, n.Bounds, "internal node %d bounds", id)
	}
	assert.Equal(t, tree.Len(), seen)
}

func TestSearchCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tests := []struct {
		name string
		n    int
		opts BuildOptions
	}{
		{"empty", 0, DefaultBuildOptions()},
		{"single", 1, DefaultBuildOptions()},
		{"one leaf", 16, DefaultBuildOptions()},
		{"small fan-out", 500, BuildOptions{FanOut: 4}},
		{"default", 2000, DefaultBuildOptions()},
		{"depth capped", 2000, BuildOptions{FanOut: 8, MaxDepth: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := randomEntries(rng, tt.n, 1000, 20)
			tree := Build(entries, tt.opts)
			_, limit := tt.opts.normalize()
			checkInvariants(t, tree, limit)

			for i := 0; i < 50; i++ {
				x, y := rng.Float64()*1000, rng.Float64()*1000
				q := geom.NewEnvelope(x, y, x+rng.Float64()*200, y+rng.Float64()*200)
				assert.Equal(t, bruteForce(entries, q), searchRecords(tree, q))
			}
			assert.Equal(t, bruteForce(entries, geom.InfiniteEnvelope()), searchRecords(tree, geom.InfiniteEnvelope()))
			assert.Empty(t, searchRecords(tree, geom.EmptyEnvelope()))
		})
	}
}

func TestSearchMatchesRtreeOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := randomEntries(rng, 3000, 500, 10)
	tree := Build(entries, BuildOptions{FanOut: 8})

	oracle := rtreego.NewTree(2, 25, 50)
	for _, e := range entries {
		oracle.Insert(oracleItem(e))
	}

	for i := 0; i < 100; i++ {
		x, y := rng.Float64()*500, rng.Float64()*500
		q := geom.Envelope{MinX: x, MinY: y, MaxX: x + 1 + rng.Float64()*50, MaxY: y + 1 + rng.Float64()*50}

		rect, err := rtreego.NewRect(rtreego.Point{q.MinX, q.MinY}, []float64{q.MaxX - q.MinX, q.MaxY - q.MinY})
		require.NoError(t, err)
		var want []uint32
		for _, s := range oracle.SearchIntersect(rect) {
			want = append(want, s.(oracleItem).Record)
		}
		slices.Sort(want)

		assert.Equal(t, want, searchRecords(tree, q), "query %v", q)
	}
}

type oracleItem Entry

func (o oracleItem) Bounds() rtreego.Rect {
	e := o.Envelope
	r, _ := rtreego.NewRect(rtreego.Point{e.MinX, e.MinY}, []float64{
		max(e.MaxX-e.MinX, 1e-9),
		max(e.MaxY-e.MinY, 1e-9),
	})
	return r
}

func TestScenarioUnitSquares(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	entries := unitSquares(rng, 1000)
	tree := Build(entries, BuildOptions{FanOut: 8})
	checkInvariants(t, tree, HardDepthLimit)

	q := geom.Envelope{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}
	want := bruteForce(entries, q)
	require.NotEmpty(t, want)
	assert.Equal(t, want, searchRecords(tree, q))
}

func TestBuildIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	entries := randomEntries(rng, 700, 100, 5)
	orig := slices.Clone(entries)

	a, err := Build(entries, BuildOptions{FanOut: 6}).MarshalBinary()
	require.NoError(t, err)
	b, err := Build(entries, BuildOptions{FanOut: 6}).MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, orig, entries, "Build must not reorder its input")
}

func TestBuildIdenticalEnvelopes(t *testing.T) {
	entries := make([]Entry, 100)
	for i := range entries {
		entries[i] = Entry{Record: uint32(i + 1), Envelope: geom.Envelope{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2}}
	}
	tree := Build(entries, BuildOptions{FanOut: 4})
	checkInvariants(t, tree, HardDepthLimit)
	assert.Len(t, searchRecords(tree, geom.Envelope{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}), 100)
}

func TestMaxDepth(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	entries := randomEntries(rng, 1000, 100, 1)

	assert.LessOrEqual(t, Build(entries, BuildOptions{FanOut: 4, MaxDepth: 2}).Depth(), 2)
	auto := Build(entries, BuildOptions{FanOut: 4})
	assert.Greater(t, auto.Depth(), 2)
	assert.LessOrEqual(t, auto.Depth(), HardDepthLimit)
}

func TestPersistRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	entries := randomEntries(rng, 1200, 300, 4)
	entries = append(entries, Entry{Record: 1201, Envelope: geom.EmptyEnvelope()})
	tree := Build(entries, BuildOptions{FanOut: 10})

	var buf bytes.Buffer
	_, err := tree.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, tree.Len(), loaded.Len())
	assert.Equal(t, tree.FanOut(), loaded.FanOut())
	assert.Equal(t, tree.NodeCount(), loaded.NodeCount())
	assert.Equal(t, tree.Bounds(), loaded.Bounds())
	checkInvariants(t, loaded, HardDepthLimit)

	for i := 0; i < 20; i++ {
		x, y := rng.Float64()*300, rng.Float64()*300
		q := geom.NewEnvelope(x, y, x+30, y+30)
		assert.Equal(t, searchRecords(tree, q), searchRecords(loaded, q))
	}
}

func TestPersistEmptyTree(t *testing.T) {
	b, err := Build(nil, DefaultBuildOptions()).MarshalBinary()
	require.NoError(t, err)
	loaded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.True(t, loaded.Bounds().IsEmpty())
	assert.False(t, loaded.Search(geom.InfiniteEnvelope()).Next())
}

// reseal recomputes the trailing checksum after a deliberate edit.
func reseal(b []byte) []byte {
	body := slices.Clone(b[:len(b)-trailerSize])
	return binary.LittleEndian.AppendUint32(body, crc32.ChecksumIEEE(body))
}

func TestDecodeRejectsCorruption(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tree := Build(randomEntries(rng, 200, 100, 3), BuildOptions{FanOut: 4})
	good, err := tree.MarshalBinary()
	require.NoError(t, err)

	corrupt := map[string][]byte{
		"empty":     nil,
		"truncated": good[:len(good)-10],
		"bad magic": append([]byte("XXXX"), good[4:]...),
		"bit flip": func() []byte {
			b := slices.Clone(good)
			b[headerSize+5] ^= 0xff
			return b
		}(),
		"unknown version": func() []byte {
			b := slices.Clone(good)
			b[4] = 99
			return reseal(b)
		}(),
		"child escapes parent": func() []byte {
			b := slices.Clone(good)
			// Shrink the root bounds so its children no longer fit.
			copy(b[headerSize+1:], appendEnvelope(nil, geom.Envelope{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}))
			return reseal(b)
		}(),
		"single child": func() []byte {
			b := slices.Clone(good)
			b[headerSize+33] = 1
			return reseal(b)
		}(),
		"unknown kind": func() []byte {
			b := slices.Clone(good)
			b[headerSize] = 7
			return reseal(b)
		}(),
	}
	for name, b := range corrupt {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			assert.ErrorIs(t, err, errs.ErrIndexCorrupt)
		})
	}
}
