package query

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/beetlebugorg/geostore/internal/access"
	"github.com/beetlebugorg/geostore/internal/codec"
	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/fs"
	"github.com/beetlebugorg/geostore/internal/geom"
	"github.com/beetlebugorg/geostore/internal/ident"
	"github.com/beetlebugorg/geostore/internal/spatial"
	"github.com/beetlebugorg/geostore/internal/storefile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feature struct {
	id    string
	geom  *geom.Geometry
	attrs []any
}

// testSource is a store whose indexes are built in memory.
type testSource struct {
	name    string
	h       *access.Handle
	tree    *spatial.Tree
	ids     *ident.Index
	schema  []storefile.Column
	entries []spatial.Entry
}

func (s *testSource) Name() string                        { return s.name }
func (s *testSource) Handle() *access.Handle              { return s.h }
func (s *testSource) SpatialIndex() *spatial.Tree         { return s.tree }
func (s *testSource) IdentifierIndex() *ident.Index       { return s.ids }
func (s *testSource) Schema() ([]storefile.Column, error) { return s.schema, nil }

var testSchema = []storefile.Column{
	{Name: "name", Type: storefile.ColumnString, Width: 16},
	{Name: "depth", Type: storefile.ColumnFloat64},
	{Name: "class", Type: storefile.ColumnInt64},
}

type storeOptions struct {
	fsys   fs.FileSystem
	logger *slog.Logger
	attrs  bool
}

// writeStore writes features to disk and opens the result read-only.
func writeStore(t *testing.T, features []feature, opts storeOptions) *testSource {
	t.Helper()
	paths := access.PathsFor(filepath.Join(t.TempDir(), "chart"))
	logger := opts.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	wm := access.NewManager(nil, logger)
	wh, err := wm.Open(paths, access.Create, nil)
	require.NoError(t, err)
	dataW, err := wh.AcquireWriter(access.Primary)
	require.NoError(t, err)
	offW, err := wh.AcquireWriter(access.Offsets)
	require.NoError(t, err)
	dw, err := storefile.NewDataWriter(dataW, offW, codec.LZ4)
	require.NoError(t, err)

	var attrW *access.Writer
	var aw *storefile.AttrWriter
	if opts.attrs {
		attrW, err = wh.AcquireWriter(access.Attributes)
		require.NoError(t, err)
		aw, err = storefile.NewAttrWriter(attrW, testSchema)
		require.NoError(t, err)
	}

	src := &testSource{name: paths.Name()}
	var idEntries []ident.Entry
	for _, f := range features {
		rec, off, err := dw.Append(f.id, f.geom)
		require.NoError(t, err)
		src.entries = append(src.entries, spatial.Entry{Record: rec, Offset: off, Envelope: f.geom.Envelope()})
		id := f.id
		if id == "" {
			id = DefaultID(src.name, rec)
		}
		idEntries = append(idEntries, ident.Entry{ID: id, Location: ident.Location{Record: rec, Offset: off}})
		if aw != nil {
			vals := f.attrs
			if vals == nil {
				vals = make([]any, len(testSchema))
			}
			require.NoError(t, aw.Append(vals))
		}
	}
	require.NoError(t, dw.Finish())
	ws := []*access.Writer{offW, dataW}
	if aw != nil {
		require.NoError(t, aw.Finish())
		ws = append([]*access.Writer{attrW}, ws...)
	}
	require.NoError(t, wh.Publish(ws...))
	require.NoError(t, wh.Close())

	rm := access.NewManager(opts.fsys, logger)
	h, err := rm.Open(paths, access.ReadOnly, nil)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	src.h = h
	src.tree = spatial.Build(src.entries, spatial.BuildOptions{FanOut: 8})
	src.ids = ident.FromSlice(idEntries)
	if opts.attrs {
		src.schema = testSchema
	}
	return src
}

func collect(t *testing.T, c *Cursor) []Record {
	t.Helper()
	var out []Record
	for r := range c.All() {
		out = append(out, r)
	}
	require.NoError(t, c.Err())
	require.NoError(t, c.Close())
	return out
}

func numbers(records []Record) []uint32 {
	out := make([]uint32, len(records))
	for i, r := range records {
		out[i] = r.Number
	}
	slices.Sort(out)
	return out
}

func env(minX, minY, maxX, maxY float64) *geom.Envelope {
	e := geom.Envelope{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	return &e
}

func mixedFeatures() []feature {
	return []feature{
		{id: "pt", geom: geom.NewPoint(5, 5), attrs: []any{"light", 2.5, int64(1)}},
		// Bounding box overlaps [0,10]² but the triangle stays outside it.
		{id: "tri", geom: geom.NewPolygon([]geom.Point{{X: 6, Y: 15}, {X: 15, Y: 6}, {X: 15, Y: 15}}), attrs: []any{"reef", nil, int64(2)}},
		{geom: geom.NewLineString(geom.Point{X: -5, Y: 5}, geom.Point{X: 15, Y: 5}), attrs: []any{"cable", 10.0, nil}},
		{id: "far", geom: geom.NewPoint(50, 50), attrs: []any{"wreck", 30.0, int64(4)}},
	}
}

func TestFullScanExactAndLoose(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	src.tree = nil

	c, err := Run(src, Spec{Envelope: env(0, 0, 10, 10)})
	require.NoError(t, err)
	assert.Equal(t, FullScan, c.Strategy())
	exact := collect(t, c)
	assert.Equal(t, []uint32{1, 3}, numbers(exact))
	assert.Equal(t, 1, c.Stats().RejectedByGeometry)
	assert.Equal(t, 1, c.Stats().RejectedByEnvelope)

	c, err = Run(src, Spec{Envelope: env(0, 0, 10, 10), Loose: true})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, numbers(collect(t, c)))
}

func TestDefaultAndStoredIdentifiers(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	c, err := Run(src, Spec{})
	require.NoError(t, err)
	recs := collect(t, c)
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"pt", "tri", "chart.3", "far"}, []string{recs[0].ID, recs[1].ID, recs[2].ID, recs[3].ID})
	for _, r := range recs {
		assert.NotNil(t, r.Geometry)
		assert.Nil(t, r.Attributes)
		assert.GreaterOrEqual(t, r.Offset, uint64(storefile.HeaderSize))
	}
}

func TestStrategySelection(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})

	assert.Equal(t, BySpatialIndex, Select(src, Spec{Envelope: env(0, 0, 10, 10)}).Strategy)
	assert.Equal(t, FullScan, Select(src, Spec{Envelope: env(-100, -100, 100, 100)}).Strategy,
		"an envelope covering the whole index scans instead")
	assert.Equal(t, FullScan, Select(src, Spec{}).Strategy)
	assert.Equal(t, ByID, Select(src, Spec{IDs: []string{"pt"}, Envelope: env(0, 0, 1, 1)}).Strategy)

	src.ids = nil
	assert.Equal(t, BySpatialIndex, Select(src, Spec{IDs: []string{"pt"}, Envelope: env(0, 0, 1, 1)}).Strategy)
	src.tree = nil
	assert.Equal(t, FullScan, Select(src, Spec{Envelope: env(0, 0, 10, 10)}).Strategy)
}

func TestStrategiesAgree(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	q := Spec{Envelope: env(0, 0, 10, 10)}

	viaIndex, err := Run(src, q)
	require.NoError(t, err)
	require.Equal(t, BySpatialIndex, viaIndex.Strategy())

	tree := src.tree
	src.tree = nil
	viaScan, err := Run(src, q)
	require.NoError(t, err)
	src.tree = tree

	assert.Equal(t, numbers(collect(t, viaScan)), numbers(collect(t, viaIndex)))
}

func TestScenarioIdentifierLookup(t *testing.T) {
	var features []feature
	for i := 1; i <= 100; i++ {
		features = append(features, feature{id: fmt.Sprintf("A.%d", i), geom: geom.NewPoint(float64(i), float64(i))})
	}
	var logs bytes.Buffer
	src := writeStore(t, features, storeOptions{logger: slog.New(slog.NewTextHandler(&logs, nil))})

	c, err := Run(src, Spec{IDs: []string{"A.50", "A.999"}})
	require.NoError(t, err)
	assert.Equal(t, ByID, c.Strategy())
	recs := collect(t, c)
	require.Len(t, recs, 1)
	assert.Equal(t, "A.50", recs[0].ID)
	assert.Equal(t, uint32(50), recs[0].Number)
	assert.Equal(t, geom.NewPoint(50, 50).Parts, recs[0].Geometry.Parts)
	assert.Equal(t, 1, c.Stats().UnresolvedIDs)
	assert.Contains(t, logs.String(), "A.999")
	assert.Contains(t, logs.String(), "level=WARN")
}

func TestIdentifierFilterWithoutIndex(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	src.ids = nil

	c, err := Run(src, Spec{IDs: []string{"far", "chart.3", "missing", "pt"}})
	require.NoError(t, err)
	assert.Equal(t, FullScan, c.Strategy())
	assert.Equal(t, []uint32{1, 3, 4}, numbers(collect(t, c)))
	assert.Equal(t, 1, c.Stats().UnresolvedIDs)
	assert.Equal(t, 1, c.Stats().RejectedByID)

	c, err = Run(src, Spec{IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, collect(t, c), "an empty id set matches nothing")
}

func TestByIDAppliesRemainingFilters(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	c, err := Run(src, Spec{IDs: []string{"pt", "tri", "far", "pt"}, Envelope: env(0, 0, 10, 10)})
	require.NoError(t, err)
	assert.Equal(t, ByID, c.Strategy())
	assert.Equal(t, []uint32{1}, numbers(collect(t, c)))
}

func TestResolutionFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	var features []feature
	for i := 0; i < 300; i++ {
		x, y := rng.Float64()*100, rng.Float64()*100
		w, h := rng.Float64()*4, rng.Float64()*4
		features = append(features, feature{geom: geom.Rect(geom.Envelope{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h})})
	}
	src := writeStore(t, features, storeOptions{})

	res := Resolution{X: 2, Y: 3}
	c, err := Run(src, Spec{MinResolution: &res})
	require.NoError(t, err)
	got := numbers(collect(t, c))

	var want []uint32
	for i, f := range features {
		dx, dy := f.geom.Envelope().Span()
		if dx >= res.X || dy >= res.Y {
			want = append(want, uint32(i+1))
		}
	}
	assert.Equal(t, want, got)
	assert.Equal(t, len(features)-len(want), c.Stats().RejectedByResolution)
}

func TestLooseIsSupersetOfExact(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	var features []feature
	for i := 0; i < 400; i++ {
		cx, cy := rng.Float64()*100, rng.Float64()*100
		pts := []geom.Point{{X: cx, Y: cy}, {X: cx + rng.Float64()*8, Y: cy + rng.Float64()*2}, {X: cx + rng.Float64()*2, Y: cy + rng.Float64()*8}}
		if i%2 == 0 {
			features = append(features, feature{geom: geom.NewPolygon(pts)})
		} else {
			features = append(features, feature{geom: geom.NewLineString(pts...)})
		}
	}
	src := writeStore(t, features, storeOptions{})

	for i := 0; i < 25; i++ {
		x, y := rng.Float64()*100, rng.Float64()*100
		q := env(x, y, x+rng.Float64()*15, y+rng.Float64()*15)

		c, err := Run(src, Spec{Envelope: q})
		require.NoError(t, err)
		exact := numbers(collect(t, c))

		c, err = Run(src, Spec{Envelope: q, Loose: true})
		require.NoError(t, err)
		loose := numbers(collect(t, c))

		for _, n := range exact {
			assert.Contains(t, loose, n)
		}
	}
}

func TestIntersectsOverride(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	calls := 0
	c, err := Run(src, Spec{
		Envelope: env(0, 0, 10, 10),
		Intersects: func(geom.Envelope, *geom.Geometry) bool {
			calls++
			return false
		},
	})
	require.NoError(t, err)
	assert.Empty(t, collect(t, c))
	assert.Positive(t, calls)
}

func TestProjection(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{attrs: true})

	c, err := Run(src, Spec{Columns: []string{"class", "name"}})
	require.NoError(t, err)
	recs := collect(t, c)
	require.Len(t, recs, 4)
	assert.Equal(t, []any{int64(1), "light"}, recs[0].Attributes)
	assert.Equal(t, []any{nil, "cable"}, recs[2].Attributes)

	_, err = Run(src, Spec{Columns: []string{"colour"}})
	assert.ErrorIs(t, err, errs.ErrUnknownColumn)
	assert.Equal(t, 0, src.h.OutstandingReaders())
}

func TestProjectionWithoutAttributeFile(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	_, err := Run(src, Spec{Columns: []string{"name"}})
	assert.ErrorIs(t, err, errs.ErrNoAttributes)
}

func TestScenarioGeometryOnlyNeverOpensAttributes(t *testing.T) {
	rfs := fs.NewRecordingFS(nil)
	src := writeStore(t, mixedFeatures(), storeOptions{fsys: rfs, attrs: true})
	rfs.Reset()

	for _, spec := range []Spec{
		{},
		{Envelope: env(0, 0, 10, 10)},
		{IDs: []string{"pt"}},
		{Columns: []string{}},
	} {
		c, err := Run(src, spec)
		require.NoError(t, err)
		collect(t, c)
	}
	for _, name := range rfs.Opened() {
		assert.NotEqual(t, ".gat", filepath.Ext(name), "opened %s", name)
	}

	c, err := Run(src, Spec{Columns: []string{"name"}})
	require.NoError(t, err)
	collect(t, c)
	assert.True(t, slices.ContainsFunc(rfs.Opened(), func(n string) bool { return strings.HasSuffix(n, ".gat") }))
}

func TestCursorLifecycle(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	c, err := Run(src, Spec{})
	require.NoError(t, err)
	assert.Equal(t, Unstarted, c.State())
	assert.Equal(t, 2, src.h.OutstandingReaders())

	require.True(t, c.Next())
	assert.Equal(t, Emitting, c.State())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, 0, src.h.OutstandingReaders())
	assert.False(t, c.Next())
	assert.NoError(t, c.Close())

	c, err = Run(src, Spec{})
	require.NoError(t, err)
	for c.Next() {
	}
	assert.Equal(t, Exhausted, c.State())
	assert.Equal(t, 0, src.h.OutstandingReaders(), "exhaustion releases readers early")
	assert.NoError(t, c.Close())
}

func TestRecordErrorAbortsCursor(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	paths := src.h.Paths()

	// Chop the primary file inside the last record's payload.
	info, err := os.Stat(paths.Primary)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(paths.Primary, info.Size()-3))

	c, err := Run(src, Spec{})
	require.NoError(t, err)
	n := 0
	for c.Next() {
		n++
	}
	assert.Equal(t, 3, n)
	require.ErrorIs(t, c.Err(), errs.ErrRecordIO)
	var re *errs.RecordError
	require.ErrorAs(t, c.Err(), &re)
	assert.Equal(t, uint32(4), re.Record)
	assert.Equal(t, 0, src.h.OutstandingReaders())
	assert.NoError(t, c.Close())
}

func TestMalformedOffsetTable(t *testing.T) {
	src := writeStore(t, mixedFeatures(), storeOptions{})
	require.NoError(t, os.WriteFile(src.h.Paths().Offsets, []byte("garbage"), 0o644))

	_, err := Run(src, Spec{})
	assert.ErrorIs(t, err, storefile.ErrFormat)
	assert.Equal(t, 0, src.h.OutstandingReaders())
}
