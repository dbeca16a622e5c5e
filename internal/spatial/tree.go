// Package spatial implements the persisted bounding-box partition tree used
// to answer envelope queries over the records of a store.
//
// The tree is built top-down. Each internal node splits its entries in two
// along the axis and position that minimise the summed perimeter of the two
// groups' bounding boxes. Nodes live in an arena and refer to each other by
// index.
package spatial

import (
	"cmp"
	"math"
	"slices"

	"github.com/beetlebugorg/geostore/internal/geom"
)

const (
	// DefaultFanOut is the leaf capacity used when BuildOptions.FanOut is 0.
	DefaultFanOut = 16

	// HardDepthLimit caps the depth of any tree. A leaf at this depth may
	// hold more than FanOut entries.
	HardDepthLimit = 32

	// minFill is the smallest share of entries either side of a split may hold.
	minFill = 0.3
)

// Entry is one indexed record.
type Entry struct {
	Record   uint32
	Offset   uint64
	Envelope geom.Envelope
}

// Node is an arena slot. A node with children is internal; otherwise it is
// a leaf holding Entries.
type Node struct {
	Bounds   geom.Envelope
	Parent   int32 // -1 for the root
	Children []int32
	Entries  []Entry
}

// IsLeaf reports whether n holds entries rather than children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Tree is an immutable bounding-box partition tree. The root is node 0.
type Tree struct {
	nodes  []Node
	fanOut int
	count  int
}

// BuildOptions controls tree construction.
type BuildOptions struct {
	// FanOut is the maximum number of entries per leaf. Values below 2 are
	// raised to 2; 0 selects DefaultFanOut.
	FanOut int

	// MaxDepth limits the depth of the tree. 0 subdivides until every leaf
	// holds at most FanOut entries or HardDepthLimit is reached.
	MaxDepth int
}

// DefaultBuildOptions returns the options used by Build when none are given.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{FanOut: DefaultFanOut}
}

func (o BuildOptions) normalize() (fanOut, depthLimit int) {
	fanOut = o.FanOut
	switch {
	case fanOut == 0:
		fanOut = DefaultFanOut
	case fanOut < 2:
		fanOut = 2
	case fanOut > math.MaxUint16:
		fanOut = math.MaxUint16
	}
	depthLimit = HardDepthLimit
	if o.MaxDepth > 0 && o.MaxDepth < HardDepthLimit {
		depthLimit = o.MaxDepth
	}
	return fanOut, depthLimit
}

// Build partitions entries into a tree. The input slice is not modified.
// Equal inputs always produce identical trees.
func Build(entries []Entry, opts BuildOptions) *Tree {
	fanOut, depthLimit := opts.normalize()
	t := &Tree{fanOut: fanOut, count: len(entries)}
	work := slices.Clone(entries)
	b := builder{tree: t, fanOut: fanOut, depthLimit: depthLimit}
	b.build(work, -1, 0)
	return t
}

type builder struct {
	tree       *Tree
	fanOut     int
	depthLimit int
	prefix     []geom.Envelope
	suffix     []geom.Envelope
	orig       []Entry
}

func (b *builder) build(entries []Entry, parent int32, depth int) int32 {
	id := int32(len(b.tree.nodes))
	b.tree.nodes = append(b.tree.nodes, Node{Parent: parent, Bounds: unionOf(entries)})

	if len(entries) <= b.fanOut || depth >= b.depthLimit {
		b.tree.nodes[id].Entries = entries
		return id
	}

	k := b.split(entries)
	left := b.build(entries[:k:k], id, depth+1)
	right := b.build(entries[k:], id, depth+1)
	b.tree.nodes[id].Children = []int32{left, right}
	return id
}

// split sorts entries along the chosen axis and returns the size of the
// left group.
func (b *builder) split(entries []Entry) int {
	n := len(entries)
	m := max(1, int(math.Ceil(minFill*float64(n))))

	// Each axis sorts from the input order so ties stay stable.
	b.orig = append(b.orig[:0], entries...)
	bestAxis, bestK := 0, n/2
	bestCost, bestBalance := math.Inf(1), math.MaxInt
	for axis := 0; axis < 2; axis++ {
		copy(entries, b.orig)
		sortByMin(entries, axis)
		b.sweep(entries)
		for k := m; k <= n-m; k++ {
			cost := b.prefix[k-1].Perimeter() + b.suffix[k].Perimeter()
			balance := abs(2*k - n)
			if cost < bestCost || (cost == bestCost && balance < bestBalance) {
				bestAxis, bestK, bestCost, bestBalance = axis, k, cost, balance
			}
		}
	}
	if bestAxis != 1 {
		copy(entries, b.orig)
		sortByMin(entries, bestAxis)
	}
	return bestK
}

// sweep fills prefix[i] with the union of entries[:i+1] and suffix[i] with
// the union of entries[i:].
func (b *builder) sweep(entries []Entry) {
	n := len(entries)
	b.prefix = slices.Grow(b.prefix[:0], n)[:n]
	b.suffix = slices.Grow(b.suffix[:0], n)[:n]
	acc := geom.EmptyEnvelope()
	for i := range entries {
		acc = acc.Union(entries[i].Envelope)
		b.prefix[i] = acc
	}
	acc = geom.EmptyEnvelope()
	for i := n - 1; i >= 0; i-- {
		acc = acc.Union(entries[i].Envelope)
		b.suffix[i] = acc
	}
}

func sortByMin(entries []Entry, axis int) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if axis == 0 {
			return cmp.Compare(a.Envelope.MinX, b.Envelope.MinX)
		}
		return cmp.Compare(a.Envelope.MinY, b.Envelope.MinY)
	})
}

func unionOf(entries []Entry) geom.Envelope {
	env := geom.EmptyEnvelope()
	for i := range entries {
		env = env.Union(entries[i].Envelope)
	}
	return env
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Bounds returns the root bounds, the union of every entry envelope.
func (t *Tree) Bounds() geom.Envelope {
	if len(t.nodes) == 0 {
		return geom.EmptyEnvelope()
	}
	return t.nodes[0].Bounds
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() int { return t.count }

// FanOut returns the leaf capacity the tree was built with.
func (t *Tree) FanOut() int { return t.fanOut }

// NodeCount returns the number of nodes in the arena.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// Depth returns the number of levels below the root.
func (t *Tree) Depth() int {
	depth := 0
	for i := range t.nodes {
		d := 0
		for p := t.nodes[i].Parent; p >= 0; p = t.nodes[p].Parent {
			d++
		}
		depth = max(depth, d)
	}
	return depth
}
