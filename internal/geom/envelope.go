// Package geom holds the planar primitives shared by the store: envelopes,
// geometries and the exact envelope/geometry intersection test.
package geom

import (
	"fmt"
	"math"
)

// Envelope represents an axis-aligned bounding box.
//
// Bounds are inclusive. An envelope whose minimum exceeds its maximum on
// either axis is empty and never intersects anything. Infinite bounds are
// allowed and describe an unbounded axis.
type Envelope struct {
	MinX float64 // Western edge
	MinY float64 // Southern edge
	MaxX float64 // Eastern edge
	MaxY float64 // Northern edge
}

// EmptyEnvelope returns the identity element for Union.
func EmptyEnvelope() Envelope {
	return Envelope{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// InfiniteEnvelope returns an envelope unbounded on both axes.
func InfiniteEnvelope() Envelope {
	return Envelope{
		MinX: math.Inf(-1),
		MinY: math.Inf(-1),
		MaxX: math.Inf(1),
		MaxY: math.Inf(1),
	}
}

// NewEnvelope returns the envelope spanning both corners in any order.
func NewEnvelope(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// IsEmpty reports whether the envelope covers no point.
func (e Envelope) IsEmpty() bool {
	// NaN bounds compare false and land here too.
	return !(e.MinX <= e.MaxX && e.MinY <= e.MaxY)
}

// Intersects returns true if the given envelope shares at least one point
// with this envelope.
func (e Envelope) Intersects(other Envelope) bool {
	if e.IsEmpty() || other.IsEmpty() {
		return false
	}
	return !(other.MaxX < e.MinX ||
		other.MinX > e.MaxX ||
		other.MaxY < e.MinY ||
		other.MinY > e.MaxY)
}

// Contains returns true if other lies entirely within this envelope.
// An empty envelope contains nothing and is contained by nothing.
func (e Envelope) Contains(other Envelope) bool {
	if e.IsEmpty() || other.IsEmpty() {
		return false
	}
	return other.MinX >= e.MinX && other.MaxX <= e.MaxX &&
		other.MinY >= e.MinY && other.MaxY <= e.MaxY
}

// ContainsPoint returns true if (x, y) is within the envelope.
func (e Envelope) ContainsPoint(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX &&
		y >= e.MinY && y <= e.MaxY
}

// Union returns the smallest envelope covering both envelopes.
func (e Envelope) Union(other Envelope) Envelope {
	if e.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return e
	}
	return Envelope{
		MinX: math.Min(e.MinX, other.MinX),
		MinY: math.Min(e.MinY, other.MinY),
		MaxX: math.Max(e.MaxX, other.MaxX),
		MaxY: math.Max(e.MaxY, other.MaxY),
	}
}

// ExpandToInclude grows the envelope to cover the point (x, y).
func (e *Envelope) ExpandToInclude(x, y float64) {
	if e.IsEmpty() {
		*e = Envelope{MinX: x, MinY: y, MaxX: x, MaxY: y}
		return
	}
	if x < e.MinX {
		e.MinX = x
	}
	if x > e.MaxX {
		e.MaxX = x
	}
	if y < e.MinY {
		e.MinY = y
	}
	if y > e.MaxY {
		e.MaxY = y
	}
}

// Expand returns a new Envelope expanded by the given margin in all directions.
func (e Envelope) Expand(margin float64) Envelope {
	if e.IsEmpty() {
		return e
	}
	return Envelope{
		MinX: e.MinX - margin,
		MinY: e.MinY - margin,
		MaxX: e.MaxX + margin,
		MaxY: e.MaxY + margin,
	}
}

// Span returns the width and height of the envelope. Both are negative
// for an empty envelope.
func (e Envelope) Span() (dx, dy float64) {
	if e.IsEmpty() {
		return -1, -1
	}
	return e.MaxX - e.MinX, e.MaxY - e.MinY
}

// Perimeter returns the half-perimeter (width + height), 0 when empty.
func (e Envelope) Perimeter() float64 {
	if e.IsEmpty() {
		return 0
	}
	return (e.MaxX - e.MinX) + (e.MaxY - e.MinY)
}

func (e Envelope) String() string {
	if e.IsEmpty() {
		return "Envelope(empty)"
	}
	return fmt.Sprintf("Envelope(%g %g, %g %g)", e.MinX, e.MinY, e.MaxX, e.MaxY)
}
