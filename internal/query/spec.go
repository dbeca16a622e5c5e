// Package query turns a spatial, identifier and projection request into a
// lazy cursor over the matching records of a store.
//
// A query picks one strategy up front (identifier lookup, spatial index
// search or a full scan of the offset table) and then runs every candidate
// through a pipeline ordered from cheapest to most expensive check:
// identifier membership, minimum resolution, envelope test, exact geometry
// test, and finally materialisation of the geometry and requested columns.
package query

import (
	"fmt"
	"log/slog"

	"github.com/beetlebugorg/geostore/internal/access"
	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/geom"
	"github.com/beetlebugorg/geostore/internal/ident"
	"github.com/beetlebugorg/geostore/internal/spatial"
	"github.com/beetlebugorg/geostore/internal/storefile"
)

// Resolution is a minimum feature span per axis.
type Resolution struct {
	X, Y float64
}

// Keep reports whether env is large enough on at least one axis.
func (r Resolution) Keep(env geom.Envelope) bool {
	dx, dy := env.Span()
	return dx >= r.X || dy >= r.Y
}

// Spec describes one query.
type Spec struct {
	// Envelope restricts results to records intersecting it. Nil means no
	// spatial restriction. Bounds may be infinite.
	Envelope *geom.Envelope

	// MinResolution drops records smaller than the threshold on both axes.
	MinResolution *Resolution

	// IDs restricts results to these identifiers. Nil means no restriction;
	// an empty, non-nil slice matches nothing.
	IDs []string

	// Columns lists the attribute columns to materialise, in order. Empty
	// means geometry only, and the attribute file is never opened.
	Columns []string

	// Loose accepts an envelope intersection as a match and skips the exact
	// geometry test.
	Loose bool

	// Intersects overrides the exact geometry test. Nil uses geom.Intersects.
	Intersects geom.IntersectsFunc
}

// Strategy is how a query produces its candidates.
type Strategy int

const (
	FullScan Strategy = iota
	ByID
	BySpatialIndex
)

func (s Strategy) String() string {
	switch s {
	case FullScan:
		return "full-scan"
	case ByID:
		return "by-id"
	case BySpatialIndex:
		return "by-spatial-index"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Source is the store a query runs against. Index accessors return nil when
// the index is absent, stale or corrupt; the query then falls back to a
// slower strategy.
type Source interface {
	Name() string
	Handle() *access.Handle
	SpatialIndex() *spatial.Tree
	IdentifierIndex() *ident.Index
	// Schema returns the attribute columns, or nil when the store has no
	// attribute file. It is only called when a query projects columns.
	Schema() ([]storefile.Column, error)
}

// Plan is the strategy chosen for a query together with the index it uses.
type Plan struct {
	Strategy Strategy
	Tree     *spatial.Tree
	IDs      *ident.Index
}

// Select chooses the strategy for spec. Identifier lookup wins when ids are
// given and an identifier index is usable. The spatial index is used for
// envelope queries unless the envelope covers the whole index, where a scan
// is cheaper.
func Select(src Source, spec Spec) Plan {
	if spec.IDs != nil {
		if idx := src.IdentifierIndex(); idx != nil {
			return Plan{Strategy: ByID, IDs: idx}
		}
	}
	if spec.Envelope != nil {
		if tree := src.SpatialIndex(); tree != nil && !spec.Envelope.Contains(tree.Bounds()) {
			return Plan{Strategy: BySpatialIndex, Tree: tree}
		}
	}
	return Plan{Strategy: FullScan}
}

// DefaultID is the identifier of a record that does not store one.
func DefaultID(name string, rec uint32) string {
	return fmt.Sprintf("%s.%d", name, rec)
}

// resolveColumns maps projected column names to attribute positions.
func resolveColumns(src Source, names []string) ([]int, error) {
	if len(names) == 0 {
		return nil, nil
	}
	schema, err := src.Schema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if schema == nil {
		return nil, errs.ErrNoAttributes
	}
	pos := make(map[string]int, len(schema))
	for i, c := range schema {
		pos[c.Name] = i
	}
	cols := make([]int, len(names))
	for i, name := range names {
		p, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errs.ErrUnknownColumn, name)
		}
		cols[i] = p
	}
	return cols, nil
}

func loggerFor(src Source) *slog.Logger {
	if l := src.Handle().Logger(); l != nil {
		return l
	}
	return slog.Default()
}
