package query

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/beetlebugorg/geostore/internal/access"
	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/geom"
	"github.com/beetlebugorg/geostore/internal/ident"
	"github.com/beetlebugorg/geostore/internal/spatial"
	"github.com/beetlebugorg/geostore/internal/storefile"
)

// State is the lifecycle position of a cursor.
type State int

const (
	Unstarted State = iota
	Scanning
	Emitting
	Exhausted
	Closed
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Scanning:
		return "scanning"
	case Emitting:
		return "emitting"
	case Exhausted:
		return "exhausted"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Record is one query result.
type Record struct {
	Number     uint32
	Offset     uint64
	ID         string
	Envelope   geom.Envelope
	Geometry   *geom.Geometry
	Attributes []any // aligned with Spec.Columns
}

// Stats counts what a cursor did.
type Stats struct {
	Strategy             Strategy
	Examined             int
	Emitted              int
	RejectedByID         int
	RejectedByResolution int
	RejectedByEnvelope   int
	RejectedByGeometry   int
	UnresolvedIDs        int
}

// candidate is an entry produced by a strategy before filtering.
type candidate struct {
	rec      uint32
	env      geom.Envelope
	hasEnv   bool
	id       string // identifier-index id for ByID
	header   *storefile.RecordHeader
	geometry *geom.Geometry
}

// Cursor is a pull-based iterator over query results. It owns its file
// readers; Close releases them and is safe to call in any state.
type Cursor struct {
	src    Source
	spec   Spec
	plan   Plan
	logger *slog.Logger
	pred   geom.IntersectsFunc
	cols   []int
	state  State
	err    error
	cur    Record
	stats  Stats

	readers []*access.Reader
	data    *storefile.DataReader
	attrRd  *storefile.AttrReader

	// Candidate sources; exactly one is active.
	byID    []candidate
	search  *spatial.Iterator
	nextRec uint32

	// Identifier filtering when the strategy is not ByID.
	idSet   map[string]bool
	matched map[string]bool
}

// Run plans spec against src and returns a cursor positioned before the
// first result. Projection errors are reported here, before any record is
// read.
func Run(src Source, spec Spec) (*Cursor, error) {
	cols, err := resolveColumns(src, spec.Columns)
	if err != nil {
		return nil, err
	}
	plan := Select(src, spec)
	return open(src, spec, plan, cols)
}

func open(src Source, spec Spec, plan Plan, cols []int) (*Cursor, error) {
	c := &Cursor{
		src:     src,
		spec:    spec,
		plan:    plan,
		logger:  loggerFor(src),
		pred:    spec.Intersects,
		cols:    cols,
		nextRec: 1,
		stats:   Stats{Strategy: plan.Strategy},
	}
	if c.pred == nil {
		c.pred = geom.Intersects
	}

	// The attribute file joins the set only when projected, so all files
	// come from the same publication.
	kinds := []access.FileKind{access.Primary, access.Offsets}
	if len(cols) > 0 {
		kinds = append(kinds, access.Attributes)
	}
	readers, err := src.Handle().AcquireReaders(kinds...)
	if err != nil {
		return nil, fmt.Errorf("open data files: %w", err)
	}
	c.readers = readers
	table, err := readers[1].Bytes()
	if err == nil {
		var offsets *storefile.OffsetTable
		if offsets, err = storefile.ParseOffsetTable(table); err == nil {
			c.data, err = storefile.NewDataReader(readers[0], offsets)
		}
	}
	if err == nil && len(cols) > 0 {
		c.attrRd, err = storefile.NewAttrReader(readers[2])
	}
	if err != nil {
		c.release()
		return nil, fmt.Errorf("open data files: %w", err)
	}

	switch plan.Strategy {
	case ByID:
		c.resolveIDs()
	case BySpatialIndex:
		c.search = plan.Tree.Search(*spec.Envelope)
	}
	if spec.IDs != nil && plan.Strategy != ByID {
		c.idSet = make(map[string]bool, len(spec.IDs))
		c.matched = make(map[string]bool)
		for _, id := range spec.IDs {
			c.idSet[id] = true
		}
	}
	c.logger.Debug("query planned",
		"strategy", plan.Strategy.String(),
		"envelope", spec.Envelope != nil,
		"ids", len(spec.IDs),
		"columns", len(spec.Columns),
		"loose", spec.Loose)
	return c, nil
}

// resolveIDs looks every requested id up in the identifier index and
// orders the distinct record numbers ascending.
func (c *Cursor) resolveIDs() {
	ids := slices.Clone(c.spec.IDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	recs := roaring.New()
	first := make(map[uint32]string)
	c.plan.IDs.FindSorted(ids, func(id string, loc ident.Location, ok bool) {
		if !ok {
			c.stats.UnresolvedIDs++
			c.logger.Warn("identifier not found, skipping", "id", id)
			return
		}
		if recs.CheckedAdd(loc.Record) {
			first[loc.Record] = id
		}
	})

	c.byID = make([]candidate, 0, recs.GetCardinality())
	it := recs.Iterator()
	for it.HasNext() {
		rec := it.Next()
		c.byID = append(c.byID, candidate{rec: rec, id: first[rec]})
	}
}

// Strategy returns the strategy chosen for the query.
func (c *Cursor) Strategy() Strategy { return c.plan.Strategy }

// State returns the cursor's lifecycle state.
func (c *Cursor) State() State { return c.state }

// Stats returns counters for the work done so far.
func (c *Cursor) Stats() Stats { return c.stats }

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error { return c.err }

// Record returns the record Next stopped on.
func (c *Cursor) Record() Record { return c.cur }

// Next advances to the next matching record. It returns false when the
// results are exhausted, an error occurred, or the cursor is closed.
func (c *Cursor) Next() bool {
	switch c.state {
	case Closed, Exhausted:
		return false
	case Unstarted:
		c.state = Scanning
	}
	c.cur = Record{}

	for {
		cand, ok := c.nextCandidate()
		if !ok {
			c.finish()
			return false
		}
		c.stats.Examined++
		rec, keep, err := c.evaluate(&cand)
		if err != nil {
			c.abort(&errs.RecordError{Record: cand.rec, Err: err})
			return false
		}
		if keep {
			c.cur = rec
			c.state = Emitting
			c.stats.Emitted++
			return true
		}
	}
}

func (c *Cursor) nextCandidate() (candidate, bool) {
	switch c.plan.Strategy {
	case ByID:
		if len(c.byID) == 0 {
			return candidate{}, false
		}
		cand := c.byID[0]
		c.byID = c.byID[1:]
		return cand, true
	case BySpatialIndex:
		if !c.search.Next() {
			return candidate{}, false
		}
		e := c.search.Entry()
		return candidate{rec: e.Record, env: e.Envelope, hasEnv: true}, true
	default:
		if c.nextRec > c.data.Count() {
			return candidate{}, false
		}
		rec := c.nextRec
		c.nextRec++
		return candidate{rec: rec}, true
	}
}

func (c *Cursor) header(cand *candidate) (*storefile.RecordHeader, error) {
	if cand.header == nil {
		h, err := c.data.ReadRecordHeader(cand.rec)
		if err != nil {
			return nil, err
		}
		cand.header = &h
		if !cand.hasEnv {
			cand.env, cand.hasEnv = h.Envelope, true
		}
	}
	return cand.header, nil
}

func (c *Cursor) geometry(cand *candidate) (*geom.Geometry, error) {
	if cand.geometry == nil {
		h, err := c.header(cand)
		if err != nil {
			return nil, err
		}
		if cand.geometry, err = c.data.ReadGeometry(*h); err != nil {
			return nil, err
		}
	}
	return cand.geometry, nil
}

func (c *Cursor) identifier(cand *candidate) (string, error) {
	if cand.id != "" {
		return cand.id, nil
	}
	h, err := c.header(cand)
	if err != nil {
		return "", err
	}
	if h.ID != "" {
		return h.ID, nil
	}
	return DefaultID(c.src.Name(), cand.rec), nil
}

// evaluate runs the filter pipeline on one candidate.
func (c *Cursor) evaluate(cand *candidate) (Record, bool, error) {
	if c.idSet != nil {
		id, err := c.identifier(cand)
		if err != nil {
			return Record{}, false, err
		}
		if !c.idSet[id] {
			c.stats.RejectedByID++
			return Record{}, false, nil
		}
		c.matched[id] = true
	}

	if !cand.hasEnv {
		if _, err := c.header(cand); err != nil {
			return Record{}, false, err
		}
	}

	if r := c.spec.MinResolution; r != nil && !r.Keep(cand.env) {
		c.stats.RejectedByResolution++
		return Record{}, false, nil
	}

	q := c.spec.Envelope
	if q != nil && c.plan.Strategy != BySpatialIndex && !q.Intersects(cand.env) {
		c.stats.RejectedByEnvelope++
		return Record{}, false, nil
	}

	if q != nil && !c.spec.Loose {
		g, err := c.geometry(cand)
		if err != nil {
			return Record{}, false, err
		}
		if !c.pred(*q, g) {
			c.stats.RejectedByGeometry++
			return Record{}, false, nil
		}
	}

	return c.materialize(cand)
}

func (c *Cursor) materialize(cand *candidate) (Record, bool, error) {
	h, err := c.header(cand)
	if err != nil {
		return Record{}, false, err
	}
	g, err := c.geometry(cand)
	if err != nil {
		return Record{}, false, err
	}
	id, err := c.identifier(cand)
	if err != nil {
		return Record{}, false, err
	}
	offset, _, err := c.data.Offsets().Lookup(cand.rec)
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{
		Number:   cand.rec,
		Offset:   offset,
		ID:       id,
		Envelope: h.Envelope,
		Geometry: g,
	}
	if len(c.cols) > 0 {
		if rec.Attributes, err = c.attrRd.ReadColumns(cand.rec, c.cols); err != nil {
			return Record{}, false, err
		}
	}
	return rec, true, nil
}

func (c *Cursor) finish() {
	c.state = Exhausted
	if c.idSet != nil {
		for id := range c.idSet {
			if !c.matched[id] {
				c.stats.UnresolvedIDs++
				c.logger.Warn("identifier not found, skipping", "id", id)
			}
		}
	}
	c.release()
}

func (c *Cursor) abort(err error) {
	c.err = err
	c.state = Exhausted
	c.logger.Error("query aborted", "error", err)
	c.release()
}

func (c *Cursor) release() error {
	var errList []error
	for _, r := range c.readers {
		errList = append(errList, r.Release())
	}
	c.readers = nil
	return errors.Join(errList...)
}

// Close releases every reader the cursor holds. It is idempotent.
func (c *Cursor) Close() error {
	if c.state == Closed {
		return nil
	}
	c.state = Closed
	return c.release()
}

// All returns the remaining results as a sequence. Check Err after the
// loop.
func (c *Cursor) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for c.Next() {
			if !yield(c.Record()) {
				return
			}
		}
	}
}
