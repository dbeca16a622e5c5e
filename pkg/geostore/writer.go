package geostore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/beetlebugorg/geostore/internal/access"
	"github.com/beetlebugorg/geostore/internal/storefile"
)

// Feature is one record to be written.
type Feature struct {
	// ID is the record identifier. Empty stores no identifier; the record
	// is then known by its default identifier, name.number.
	ID string

	// Geometry may be nil for a record without spatial representation.
	Geometry *Geometry

	// Attributes maps column names to values. Missing columns are null.
	Attributes map[string]any
}

// Writer writes a new store. Nothing is visible at the store's paths until
// Close publishes the primary, offset and attribute files together.
type Writer struct {
	h      *access.Handle
	opts   Options
	logger *Logger
	base   string

	data    *storefile.DataWriter
	attrs   *storefile.AttrWriter
	columns map[string]int
	ncols   int
	writers []*access.Writer // publication order: attributes, offsets, primary

	mu   sync.Mutex
	done bool
	err  error // first write failure; the files are then unusable
}

// Create starts a new store at base, replacing any store already there
// once Close succeeds. schema may be nil for a store without attributes.
//
// Example:
//
//	w, err := geostore.Create("charts/harbour", nil, geostore.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, f := range features {
//	    if _, err := w.Append(f); err != nil {
//	        w.Abort()
//	        log.Fatal(err)
//	    }
//	}
//	if err := w.Close(); err != nil {
//	    log.Fatal(err)
//	}
func Create(base string, schema []Column, opts Options) (*Writer, error) {
	if opts.ReadOnly {
		return nil, ErrReadOnly
	}
	paths := access.PathsFor(base)
	logger := opts.logger()
	h, err := managerFor(opts.FileSystem).Open(paths, access.Create, logger.Logger)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		h:      h,
		opts:   opts,
		logger: logger.WithStore(paths.Name()),
		base:   paths.Primary,
	}
	if err := w.init(schema); err != nil {
		w.Abort()
		return nil, fmt.Errorf("create %s: %w", paths.Name(), err)
	}
	return w, nil
}

func (w *Writer) init(schema []Column) error {
	if len(schema) > 0 {
		aw, err := w.h.AcquireWriter(access.Attributes)
		if err != nil {
			return err
		}
		w.writers = append(w.writers, aw)
		if w.attrs, err = storefile.NewAttrWriter(aw, schema); err != nil {
			return err
		}
		w.ncols = len(schema)
		w.columns = make(map[string]int, len(schema))
		for i, c := range schema {
			w.columns[c.Name] = i
		}
	}
	ow, err := w.h.AcquireWriter(access.Offsets)
	if err != nil {
		return err
	}
	w.writers = append(w.writers, ow)
	dw, err := w.h.AcquireWriter(access.Primary)
	if err != nil {
		return err
	}
	w.writers = append(w.writers, dw)
	w.data, err = storefile.NewDataWriter(dw, ow, w.opts.Codec)
	return err
}

// Append writes f and returns its record number. Record numbers are dense
// and start at 1. Invalid attributes reject f alone; a write failure
// poisons the writer, and Close then discards everything.
func (w *Writer) Append(f Feature) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	var vals []any
	if len(f.Attributes) > 0 && w.attrs == nil {
		return 0, ErrNoAttributes
	}
	if w.attrs != nil {
		vals = make([]any, w.ncols)
		for name, v := range f.Attributes {
			i, ok := w.columns[name]
			if !ok {
				return 0, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
			}
			vals[i] = v
		}
	}

	g := f.Geometry
	if g == nil {
		g = &Geometry{Type: GeometryTypeNull}
	}
	// Reject bad attributes before the record reaches the data file.
	if w.attrs != nil {
		if err := w.attrs.Check(vals); err != nil {
			return 0, err
		}
	}
	rec, _, err := w.data.Append(f.ID, g)
	if err != nil {
		w.err = fmt.Errorf("append record: %w", err)
		return 0, w.err
	}
	if w.attrs != nil {
		if err := w.attrs.Append(vals); err != nil {
			w.err = fmt.Errorf("append record %d: %w", rec, err)
			return 0, w.err
		}
	}
	return rec, nil
}

// Count returns the number of records appended so far.
func (w *Writer) Count() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data.Count()
}

// Close finishes the files and publishes them together. If publication
// fails, the store previously at the same paths is left as it was. With
// Options.BuildIndexes set, both indexes are built afterwards; an index
// build failure is returned but the data files stay published.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return ErrClosed
	}
	w.done = true
	failed := w.err
	w.mu.Unlock()

	if failed != nil {
		w.discard()
		return fmt.Errorf("publish %s: %w", w.h.Paths().Name(), failed)
	}
	err := w.data.Finish()
	if err == nil && w.attrs != nil {
		err = w.attrs.Finish()
	}
	if err == nil {
		err = w.h.Publish(w.writers...)
	}
	if err != nil {
		w.discard()
		return fmt.Errorf("publish %s: %w", w.h.Paths().Name(), err)
	}
	count := w.data.Count()
	if err := w.h.Close(); err != nil {
		return err
	}
	w.logger.Info("store written", "records", count, "codec", w.opts.Codec.String())

	if !w.opts.BuildIndexes {
		return nil
	}
	opts := w.opts
	opts.ReadOnly = false
	opts.AutoRebuild = false
	s, err := Open(w.base, opts)
	if err != nil {
		return err
	}
	return errors.Join(
		s.RebuildSpatialIndex(opts.MaxDepth),
		s.RebuildIdentifierIndex(),
		s.Close(),
	)
}

// Abort discards everything written. Files of a previous store at the same
// paths are left untouched. Abort is idempotent.
func (w *Writer) Abort() error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return nil
	}
	w.done = true
	w.mu.Unlock()
	return w.discard()
}

func (w *Writer) discard() error {
	var errList []error
	for _, aw := range w.writers {
		errList = append(errList, aw.Abort())
	}
	errList = append(errList, w.h.Close())
	return errors.Join(errList...)
}
