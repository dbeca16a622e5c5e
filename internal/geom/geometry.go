package geom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Point is a planar coordinate.
type Point struct {
	X, Y float64
}

// GeometryType represents the type of geometry.
type GeometryType uint8

const (
	// GeometryTypeNull is a record without spatial representation.
	GeometryTypeNull GeometryType = iota

	// GeometryTypePoint is one point, or several (multipoint) in a single part.
	GeometryTypePoint

	// GeometryTypeLineString is one or more connected polylines, one per part.
	GeometryTypeLineString

	// GeometryTypePolygon is a set of rings. The first ring of each
	// polygon is its shell and later rings are holes; rings are combined
	// with the even-odd rule.
	GeometryTypePolygon
)

// String returns the string representation of the geometry type.
func (g GeometryType) String() string {
	switch g {
	case GeometryTypeNull:
		return "Null"
	case GeometryTypePoint:
		return "Point"
	case GeometryTypeLineString:
		return "LineString"
	case GeometryTypePolygon:
		return "Polygon"
	default:
		return "Unknown"
	}
}

// Geometry is the spatial representation of a record.
type Geometry struct {
	Type  GeometryType
	Parts [][]Point
}

// NewPoint returns a single point geometry.
func NewPoint(x, y float64) *Geometry {
	return &Geometry{Type: GeometryTypePoint, Parts: [][]Point{{{X: x, Y: y}}}}
}

// NewLineString returns a single-part line geometry.
func NewLineString(pts ...Point) *Geometry {
	return &Geometry{Type: GeometryTypeLineString, Parts: [][]Point{pts}}
}

// NewPolygon returns a polygon from its rings. Rings are closed on encode
// if the caller left them open.
func NewPolygon(rings ...[]Point) *Geometry {
	return &Geometry{Type: GeometryTypePolygon, Parts: rings}
}

// Rect returns the closed polygon covering e.
func Rect(e Envelope) *Geometry {
	return NewPolygon([]Point{
		{e.MinX, e.MinY}, {e.MaxX, e.MinY}, {e.MaxX, e.MaxY}, {e.MinX, e.MaxY}, {e.MinX, e.MinY},
	})
}

// Envelope calculates the bounding box of all coordinates.
func (g *Geometry) Envelope() Envelope {
	env := EmptyEnvelope()
	if g == nil {
		return env
	}
	for _, part := range g.Parts {
		for _, p := range part {
			env.ExpandToInclude(p.X, p.Y)
		}
	}
	return env
}

// NumPoints returns the total coordinate count.
func (g *Geometry) NumPoints() int {
	n := 0
	for _, part := range g.Parts {
		n += len(part)
	}
	return n
}

// ErrInvalidGeometry indicates a geometry that cannot be stored or decoded.
var ErrInvalidGeometry = errors.New("geom: invalid geometry")

// Validate checks the coordinate counts required by the geometry type.
func (g *Geometry) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: nil geometry", ErrInvalidGeometry)
	}
	for i, part := range g.Parts {
		for _, p := range part {
			if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
				return fmt.Errorf("%w: part %d has non-finite coordinate", ErrInvalidGeometry, i)
			}
		}
		switch g.Type {
		case GeometryTypePoint:
			if len(part) == 0 {
				return fmt.Errorf("%w: empty point part %d", ErrInvalidGeometry, i)
			}
		case GeometryTypeLineString:
			if len(part) < 2 {
				return fmt.Errorf("%w: line part %d needs at least 2 points, got %d", ErrInvalidGeometry, i, len(part))
			}
		case GeometryTypePolygon:
			if len(part) < 3 {
				return fmt.Errorf("%w: ring %d needs at least 3 points, got %d", ErrInvalidGeometry, i, len(part))
			}
		}
	}
	switch g.Type {
	case GeometryTypeNull, GeometryTypePoint, GeometryTypeLineString, GeometryTypePolygon:
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidGeometry, g.Type)
	}
	return nil
}

// Payload layout (little endian):
//
//	[parts u32] then per part: [points u32][x f64][y f64]...

// AppendPayload appends the binary coordinate encoding of g to dst.
func AppendPayload(dst []byte, g *Geometry) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(g.Parts)))
	for _, part := range g.Parts {
		pts := part
		if g.Type == GeometryTypePolygon && len(pts) > 0 && pts[0] != pts[len(pts)-1] {
			pts = append(pts[:len(pts):len(pts)], pts[0])
		}
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(pts)))
		for _, p := range pts {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(p.X))
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(p.Y))
		}
	}
	return dst
}

// DecodePayload decodes a payload written by AppendPayload.
func DecodePayload(t GeometryType, data []byte) (*Geometry, error) {
	g := &Geometry{Type: t}
	if t == GeometryTypeNull && len(data) == 0 {
		return g, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: payload too short (%d bytes)", ErrInvalidGeometry, len(data))
	}
	nparts := binary.LittleEndian.Uint32(data)
	data = data[4:]
	// Each part costs at least 4 bytes; reject counts the payload cannot hold.
	if uint64(nparts)*4 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d parts exceed payload", ErrInvalidGeometry, nparts)
	}
	if nparts > 0 {
		g.Parts = make([][]Point, nparts)
	}
	for i := range g.Parts {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated part %d", ErrInvalidGeometry, i)
		}
		npts := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint64(npts)*16 > uint64(len(data)) {
			return nil, fmt.Errorf("%w: truncated coordinates in part %d", ErrInvalidGeometry, i)
		}
		pts := make([]Point, npts)
		for j := range pts {
			pts[j].X = math.Float64frombits(binary.LittleEndian.Uint64(data))
			pts[j].Y = math.Float64frombits(binary.LittleEndian.Uint64(data[8:]))
			data = data[16:]
		}
		g.Parts[i] = pts
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidGeometry, len(data))
	}
	return g, nil
}
