// Package ident implements the persisted identifier index: a sorted table
// mapping record identifiers to their record number and byte offset.
package ident

import (
	"iter"
	"sort"
	"strings"

	"github.com/google/btree"
)

// Location addresses a record in the primary data file.
type Location struct {
	Record uint32
	Offset uint64
}

// Entry is one identifier and where its record lives.
type Entry struct {
	ID string
	Location
}

// Index is an immutable identifier table sorted by ID.
type Index struct {
	entries []Entry
}

const btreeDegree = 32

// Build consumes seq in a single forward pass. When an identifier repeats,
// the first occurrence wins.
func Build(seq iter.Seq[Entry]) *Index {
	tr := btree.NewG(btreeDegree, func(a, b Entry) bool { return a.ID < b.ID })
	seq(func(e Entry) bool {
		if !tr.Has(e) {
			tr.ReplaceOrInsert(e)
		}
		return true
	})
	entries := make([]Entry, 0, tr.Len())
	tr.Ascend(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return &Index{entries: entries}
}

// FromSlice builds an index from entries in their given order.
func FromSlice(entries []Entry) *Index {
	return Build(func(yield func(Entry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	})
}

// Len returns the number of distinct identifiers.
func (x *Index) Len() int { return len(x.entries) }

// Find looks up a single identifier. A missing identifier is reported by
// ok == false.
func (x *Index) Find(id string) (loc Location, ok bool) {
	i := sort.Search(len(x.entries), func(i int) bool { return x.entries[i].ID >= id })
	if i < len(x.entries) && x.entries[i].ID == id {
		return x.entries[i].Location, true
	}
	return Location{}, false
}

// FindSorted resolves a batch of identifiers, calling fn once per input id
// in input order. Sorted input is answered with a single merge walk that
// gallops over the table; unsorted input falls back to Find per id.
func (x *Index) FindSorted(ids []string, fn func(id string, loc Location, ok bool)) {
	if !sort.StringsAreSorted(ids) {
		for _, id := range ids {
			loc, ok := x.Find(id)
			fn(id, loc, ok)
		}
		return
	}
	lo := 0
	for _, id := range ids {
		lo = x.gallop(lo, id)
		if lo < len(x.entries) && x.entries[lo].ID == id {
			fn(id, x.entries[lo].Location, true)
			continue
		}
		fn(id, Location{}, false)
	}
}

// gallop returns the first position at or after lo whose ID is >= id,
// probing at doubling distances before binary searching the last step.
func (x *Index) gallop(lo int, id string) int {
	n := len(x.entries)
	if lo >= n || strings.Compare(x.entries[lo].ID, id) >= 0 {
		return lo
	}
	step := 1
	hi := lo + step
	for hi < n && x.entries[hi].ID < id {
		lo = hi
		step *= 2
		hi = lo + step
	}
	hi = min(hi, n)
	// Invariant: entries[lo].ID < id, and hi == n or entries[hi].ID >= id.
	return lo + 1 + sort.Search(hi-lo-1, func(i int) bool { return x.entries[lo+1+i].ID >= id })
}

// All returns every entry in identifier order.
func (x *Index) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range x.entries {
			if !yield(e) {
				return
			}
		}
	}
}
