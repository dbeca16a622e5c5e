package geostore

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/beetlebugorg/geostore/internal/access"
	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/fs"
	"github.com/beetlebugorg/geostore/internal/ident"
	"github.com/beetlebugorg/geostore/internal/query"
	"github.com/beetlebugorg/geostore/internal/spatial"
	"github.com/beetlebugorg/geostore/internal/storefile"
)

// managers holds one registry per file system, so every store opened in the
// process shares writer ownership and publication locks with the others.
var managers sync.Map // FileSystem -> *access.Manager

func managerFor(fsys FileSystem) *access.Manager {
	if fsys == nil {
		fsys = fs.Default
	}
	if m, ok := managers.Load(fsys); ok {
		return m.(*access.Manager)
	}
	m, _ := managers.LoadOrStore(fsys, access.NewManager(fsys, nil))
	return m.(*access.Manager)
}

// Store is an open store. It is safe for concurrent use; every cursor owns
// its own file descriptors.
//
// Indexes are loaded lazily on the first query that can use them and kept
// until the index file changes on disk.
type Store struct {
	h      *access.Handle
	opts   Options
	logger *Logger
	header storefile.Header

	mu           sync.Mutex
	closed       bool
	tree         loaded[*spatial.Tree]
	ids          loaded[*ident.Index]
	schema       []Column
	schemaLoaded bool
}

// loaded caches a decoded index together with the identity of the file it
// was decoded from.
type loaded[T any] struct {
	value   T
	modTime time.Time
	size    int64
	valid   bool // decoded successfully
	tried   bool // modTime and size describe a file we attempted
	stale   bool // last check found the index stale or absent
}

func (l *loaded[T]) matches(info os.FileInfo) bool {
	return l.tried && l.modTime.Equal(info.ModTime()) && l.size == info.Size()
}

// Open opens the store at base (the path of the primary file, with or
// without its .geo suffix).
//
// The primary and offset files must exist. Missing optional files only
// reduce what the store can do: without attributes no columns can be
// projected, and without indexes queries scan.
//
// Example:
//
//	store, err := geostore.Open("charts/harbour", geostore.DefaultOptions())
//	if err != nil {
//	    var oe *geostore.OpenError
//	    if errors.As(err, &oe) {
//	        log.Fatalf("missing %s file %s", oe.Kind, oe.Path)
//	    }
//	    log.Fatal(err)
//	}
//	defer store.Close()
func Open(base string, opts Options) (*Store, error) {
	paths := access.PathsFor(base)
	root := opts.logger()
	mode := access.ReadWrite
	if opts.ReadOnly {
		mode = access.ReadOnly
	}

	h, err := managerFor(opts.FileSystem).Open(paths, mode, root.Logger)
	if err != nil {
		root.LogOpen(paths.Primary, opts.ReadOnly, err)
		return nil, err
	}

	var header storefile.Header
	err = h.WithReader(access.Primary, func(r *access.Reader) error {
		var err error
		header, err = storefile.ReadHeader(r)
		return err
	})
	if err != nil {
		h.Close()
		err = &errs.OpenError{Path: paths.Primary, Kind: access.Primary.String(), Err: err}
		root.LogOpen(paths.Primary, opts.ReadOnly, err)
		return nil, err
	}

	s := &Store{
		h:      h,
		opts:   opts,
		logger: root.WithStore(paths.Name()),
		header: header,
	}
	s.logger.LogOpen(paths.Primary, opts.ReadOnly, nil)
	if !opts.ReadOnly && opts.AutoRebuild {
		s.rebuildStale()
	}
	return s, nil
}

// rebuildStale rebuilds every absent or stale index. Failures are logged by
// the rebuild and leave the store usable through full scans.
func (s *Store) rebuildStale() {
	if s.h.NeedsRegeneration(access.SpatialIndex) {
		_ = s.RebuildSpatialIndex(s.opts.MaxDepth)
	}
	if s.h.NeedsRegeneration(access.IdentifierIndex) {
		_ = s.RebuildIdentifierIndex()
	}
}

// Name returns the store name: the primary file name without suffix.
func (s *Store) Name() string { return s.h.Paths().Name() }

// Path returns the path of the primary file.
func (s *Store) Path() string { return s.h.Paths().Primary }

// Bounds returns the union of all record envelopes, as recorded when the
// store was written.
func (s *Store) Bounds() Envelope { return s.header.Bounds }

// Count returns the number of records.
func (s *Store) Count() uint32 { return s.header.Count }

// Codec returns the payload compression of the primary file.
func (s *Store) Codec() Codec { return s.header.Codec }

// ReadOnly reports whether the store was opened without write access.
func (s *Store) ReadOnly() bool { return !s.h.Writable() }

// NeedsRegeneration reports whether the index of kind k is absent or older
// than the primary file. It checks the file system on every call.
func (s *Store) NeedsRegeneration(k FileKind) bool {
	return s.h.NeedsRegeneration(k)
}

// Schema returns the attribute columns, or nil when the store has no
// attribute file. The attribute file is opened on the first call only.
func (s *Store) Schema() ([]Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.schemaLoaded {
		return s.schema, nil
	}
	if !s.h.Has(access.Attributes) {
		s.schemaLoaded = true
		return nil, nil
	}
	err := s.h.WithReader(access.Attributes, func(r *access.Reader) error {
		ar, err := storefile.NewAttrReader(r)
		if err != nil {
			return err
		}
		s.schema = slices.Clone(ar.Columns())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read attribute schema: %w", err)
	}
	s.schemaLoaded = true
	return s.schema, nil
}

// Query runs spec and returns a cursor over the matching records. The
// cursor must be closed.
//
// Example:
//
//	viewport := geostore.NewEnvelope(10, 10, 20, 20)
//	cur, err := store.Query(geostore.QuerySpec{
//	    Envelope:      &viewport,
//	    MinResolution: &geostore.Resolution{X: 0.5, Y: 0.5},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cur.Close()
//	for cur.Next() {
//	    rec := cur.Record()
//	    fmt.Println(rec.Number, rec.ID, rec.Envelope)
//	}
func (s *Store) Query(spec QuerySpec) (*Cursor, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	cur, err := query.Run(source{s}, spec)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.Name(), err)
	}
	return cur, nil
}

// Explain returns the strategy Query would use for spec, without reading
// any record.
func (s *Store) Explain(spec QuerySpec) Strategy {
	return query.Select(source{s}, spec).Strategy
}

// RebuildSpatialIndex rebuilds the spatial index from the primary file and
// publishes it atomically. maxDepth limits the tree depth; 0 means
// unlimited up to the hard limit.
func (s *Store) RebuildSpatialIndex(maxDepth int) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	start := time.Now()
	var entries []spatial.Entry
	err := s.scan(func(h storefile.RecordHeader, offset uint64) {
		entries = append(entries, spatial.Entry{Record: h.Record, Offset: offset, Envelope: h.Envelope})
	})
	var tree *spatial.Tree
	if err == nil {
		tree = spatial.Build(entries, s.opts.buildOptions(maxDepth))
		err = s.h.WithWriter(access.SpatialIndex, func(w *access.Writer) error {
			_, err := tree.WriteTo(w)
			return err
		})
	}
	s.logger.LogRebuild(access.SpatialIndex, len(entries), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("rebuild spatial index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	remember(s, &s.tree, access.SpatialIndex, tree)
	return nil
}

// RebuildIdentifierIndex rebuilds the identifier index from the primary
// file and publishes it atomically. Records without a stored identifier
// are indexed under their default identifier, name.number.
func (s *Store) RebuildIdentifierIndex() error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	start := time.Now()
	name := s.Name()
	var entries []ident.Entry
	err := s.scan(func(h storefile.RecordHeader, offset uint64) {
		id := h.ID
		if id == "" {
			id = query.DefaultID(name, h.Record)
		}
		entries = append(entries, ident.Entry{ID: id, Location: ident.Location{Record: h.Record, Offset: offset}})
	})
	var idx *ident.Index
	if err == nil {
		idx = ident.FromSlice(entries)
		if n := len(entries) - idx.Len(); n > 0 {
			s.logger.Warn("duplicate identifiers, keeping first occurrence", "duplicates", n)
		}
		err = s.h.WithWriter(access.IdentifierIndex, func(w *access.Writer) error {
			_, err := idx.WriteTo(w)
			return err
		})
	}
	s.logger.LogRebuild(access.IdentifierIndex, len(entries), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("rebuild identifier index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	remember(s, &s.ids, access.IdentifierIndex, idx)
	return nil
}

// Close releases the store. Cursors still open are invalidated. Close is
// idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.tree = loaded[*spatial.Tree]{}
	s.ids = loaded[*ident.Index]{}
	s.mu.Unlock()
	return s.h.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) checkWritable() error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.h.Writable() {
		return ErrReadOnly
	}
	return nil
}

// scan visits the header of every record in record order.
func (s *Store) scan(fn func(h storefile.RecordHeader, offset uint64)) error {
	readers, err := s.h.AcquireReaders(access.Primary, access.Offsets)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range readers {
			r.Release()
		}
	}()

	b, err := readers[1].Bytes()
	if err != nil {
		return err
	}
	table, err := storefile.ParseOffsetTable(b)
	if err != nil {
		return err
	}
	data, err := storefile.NewDataReader(readers[0], table)
	if err != nil {
		return err
	}
	for rec := uint32(1); rec <= data.Count(); rec++ {
		h, err := data.ReadRecordHeader(rec)
		if err != nil {
			return &errs.RecordError{Record: rec, Err: err}
		}
		offset, _, _ := table.Lookup(rec)
		fn(h, offset)
	}
	return nil
}

func (s *Store) spatialIndex() *spatial.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	tree, _ := load(s, &s.tree, access.SpatialIndex, spatial.Decode)
	return tree
}

func (s *Store) identifierIndex() *ident.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	idx, _ := load(s, &s.ids, access.IdentifierIndex, ident.Decode)
	return idx
}

// load returns the index of kind k, decoding it again only when the file
// changed since the last attempt. An absent, stale or corrupt index yields
// false; stale and corrupt ones are logged once per file.
func load[T any](s *Store, slot *loaded[T], k FileKind, decode func([]byte) (T, error)) (T, bool) {
	var zero T
	if s.h.NeedsRegeneration(k) {
		if !slot.stale {
			if s.h.Has(k) {
				s.logger.LogIndexUnusable(k, "stale", nil)
			} else {
				s.logger.Debug("index absent", "kind", k.String())
			}
		}
		*slot = loaded[T]{stale: true}
		return zero, false
	}
	info, err := s.h.Stat(k)
	if err != nil {
		return zero, false
	}
	if slot.matches(info) {
		return slot.value, slot.valid
	}

	var v T
	err = s.h.WithReader(k, func(r *access.Reader) error {
		b, err := r.Bytes()
		if err != nil {
			return err
		}
		v, err = decode(b)
		return err
	})
	*slot = loaded[T]{modTime: info.ModTime(), size: info.Size(), tried: true}
	if err != nil {
		reason := "unreadable"
		if errors.Is(err, ErrIndexCorrupt) {
			reason = "corrupt"
		}
		s.logger.LogIndexUnusable(k, reason, err)
		return zero, false
	}
	slot.value, slot.valid = v, true
	s.logger.Debug("index loaded", "kind", k.String(), "bytes", info.Size())
	return v, true
}

// remember caches an index the store just published.
func remember[T any](s *Store, slot *loaded[T], k FileKind, v T) {
	info, err := s.h.Stat(k)
	if err != nil {
		*slot = loaded[T]{}
		return
	}
	*slot = loaded[T]{value: v, modTime: info.ModTime(), size: info.Size(), tried: true, valid: true}
}

// source exposes a Store to the query engine.
type source struct{ s *Store }

func (src source) Name() string                        { return src.s.Name() }
func (src source) Handle() *access.Handle              { return src.s.h }
func (src source) SpatialIndex() *spatial.Tree         { return src.s.spatialIndex() }
func (src source) IdentifierIndex() *ident.Index       { return src.s.identifierIndex() }
func (src source) Schema() ([]storefile.Column, error) { return src.s.Schema() }
