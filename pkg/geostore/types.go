package geostore

import (
	"github.com/beetlebugorg/geostore/internal/access"
	"github.com/beetlebugorg/geostore/internal/codec"
	"github.com/beetlebugorg/geostore/internal/fs"
	"github.com/beetlebugorg/geostore/internal/geom"
	"github.com/beetlebugorg/geostore/internal/query"
	"github.com/beetlebugorg/geostore/internal/storefile"
)

// Geometry types.
type (
	Envelope     = geom.Envelope
	Point        = geom.Point
	Geometry     = geom.Geometry
	GeometryType = geom.GeometryType

	// IntersectsFunc replaces the exact geometry test of a query.
	IntersectsFunc = geom.IntersectsFunc
)

const (
	GeometryTypeNull       = geom.GeometryTypeNull
	GeometryTypePoint      = geom.GeometryTypePoint
	GeometryTypeLineString = geom.GeometryTypeLineString
	GeometryTypePolygon    = geom.GeometryTypePolygon
)

// NewEnvelope returns the envelope spanning both corners in any order.
func NewEnvelope(x1, y1, x2, y2 float64) Envelope { return geom.NewEnvelope(x1, y1, x2, y2) }

// EmptyEnvelope returns the envelope that covers nothing.
func EmptyEnvelope() Envelope { return geom.EmptyEnvelope() }

// InfiniteEnvelope returns an envelope covering the whole plane.
func InfiniteEnvelope() Envelope { return geom.InfiniteEnvelope() }

// NewPoint returns a point geometry.
func NewPoint(x, y float64) *Geometry { return geom.NewPoint(x, y) }

// NewLineString returns a single-part line geometry.
func NewLineString(pts ...Point) *Geometry { return geom.NewLineString(pts...) }

// NewPolygon returns a polygon; the first ring is the shell, later rings
// are holes.
func NewPolygon(rings ...[]Point) *Geometry { return geom.NewPolygon(rings...) }

// Attribute schema.
type (
	Column     = storefile.Column
	ColumnType = storefile.ColumnType
)

const (
	ColumnInt64   = storefile.ColumnInt64
	ColumnFloat64 = storefile.ColumnFloat64
	ColumnBool    = storefile.ColumnBool
	ColumnString  = storefile.ColumnString
)

// Query types.
type (
	QuerySpec  = query.Spec
	Resolution = query.Resolution
	Cursor     = query.Cursor
	Record     = query.Record
	QueryStats = query.Stats
	Strategy   = query.Strategy
)

const (
	FullScan       = query.FullScan
	ByID           = query.ByID
	BySpatialIndex = query.BySpatialIndex
)

// FileKind names one of the files of a store.
type FileKind = access.FileKind

const (
	PrimaryFile         = access.Primary
	OffsetsFile         = access.Offsets
	AttributesFile      = access.Attributes
	SpatialIndexFile    = access.SpatialIndex
	IdentifierIndexFile = access.IdentifierIndex
)

// Codec compresses geometry payloads in the primary file.
type Codec = codec.Codec

const (
	CodecNone = codec.None
	CodecLZ4  = codec.LZ4
	CodecZSTD = codec.ZSTD
)

// FileSystem abstracts the file operations of a store.
type FileSystem = fs.FileSystem
