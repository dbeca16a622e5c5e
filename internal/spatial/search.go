package spatial

import (
	"iter"

	"github.com/beetlebugorg/geostore/internal/geom"
)

// Iterator walks the entries of a tree that intersect a query envelope.
// It is lazy and single-use; call Search again to restart.
type Iterator struct {
	tree  *Tree
	query geom.Envelope
	stack []int32
	leaf  []Entry
	cur   Entry
}

// Search returns an iterator over entries whose envelope intersects q.
// Subtrees whose bounds miss q are never visited.
func (t *Tree) Search(q geom.Envelope) *Iterator {
	it := &Iterator{tree: t, query: q}
	if len(t.nodes) > 0 && t.nodes[0].Bounds.Intersects(q) {
		it.stack = append(it.stack, 0)
	}
	return it
}

// Next advances to the next matching entry.
func (it *Iterator) Next() bool {
	for {
		for len(it.leaf) > 0 {
			e := it.leaf[0]
			it.leaf = it.leaf[1:]
			if e.Envelope.Intersects(it.query) {
				it.cur = e
				return true
			}
		}
		if len(it.stack) == 0 {
			return false
		}
		id := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		n := &it.tree.nodes[id]
		if n.IsLeaf() {
			it.leaf = n.Entries
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			c := n.Children[i]
			if it.tree.nodes[c].Bounds.Intersects(it.query) {
				it.stack = append(it.stack, c)
			}
		}
	}
}

// Entry returns the entry Next stopped on.
func (it *Iterator) Entry() Entry { return it.cur }

// All returns the matching entries of a fresh search as a sequence.
func (t *Tree) All(q geom.Envelope) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		it := t.Search(q)
		for it.Next() {
			if !yield(it.Entry()) {
				return
			}
		}
	}
}
