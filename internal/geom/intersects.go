package geom

// IntersectsFunc decides whether a geometry truly intersects a query
// envelope once their bounding boxes are known to overlap.
type IntersectsFunc func(env Envelope, g *Geometry) bool

// Intersects is the exact envelope/geometry test used when a query is not
// loose. Points must fall inside env, lines must cross it and polygons
// must overlap it, including the case where env lies inside a polygon.
func Intersects(env Envelope, g *Geometry) bool {
	if g == nil || env.IsEmpty() {
		return false
	}
	switch g.Type {
	case GeometryTypePoint:
		for _, part := range g.Parts {
			for _, p := range part {
				if env.ContainsPoint(p.X, p.Y) {
					return true
				}
			}
		}
		return false
	case GeometryTypeLineString:
		for _, part := range g.Parts {
			if len(part) == 1 && env.ContainsPoint(part[0].X, part[0].Y) {
				return true
			}
			for i := 1; i < len(part); i++ {
				if segmentIntersects(env, part[i-1], part[i]) {
					return true
				}
			}
		}
		return false
	case GeometryTypePolygon:
		for _, ring := range g.Parts {
			n := len(ring)
			for i := 0; i < n; i++ {
				if segmentIntersects(env, ring[i], ring[(i+1)%n]) {
					return true
				}
			}
		}
		// No boundary crossing: either env is inside the polygon or disjoint.
		return pointInRings(env.MinX, env.MinY, g.Parts)
	default:
		return false
	}
}

// segmentIntersects clips the segment a-b against env (Liang-Barsky).
func segmentIntersects(env Envelope, a, b Point) bool {
	if env.ContainsPoint(a.X, a.Y) || env.ContainsPoint(b.X, b.Y) {
		return true
	}
	dx := b.X - a.X
	dy := b.Y - a.Y
	t0, t1 := 0.0, 1.0
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return false
			}
			if r < t1 {
				t1 = r
			}
		}
		return true
	}
	return clip(-dx, a.X-env.MinX) &&
		clip(dx, env.MaxX-a.X) &&
		clip(-dy, a.Y-env.MinY) &&
		clip(dy, env.MaxY-a.Y) &&
		t0 <= t1
}

// pointInRings applies the even-odd rule across every ring.
func pointInRings(x, y float64, rings [][]Point) bool {
	inside := false
	for _, ring := range rings {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			pi, pj := ring[i], ring[j]
			if (pi.Y > y) != (pj.Y > y) &&
				x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
				inside = !inside
			}
		}
	}
	return inside
}
