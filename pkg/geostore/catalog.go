package geostore

import (
	"cmp"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"github.com/dhconnelly/rtreego"
	"golang.org/x/sync/errgroup"
)

// Catalog provides fast spatial queries over a collection of stores.
//
// The catalog keeps lightweight metadata for each store (bounds, record
// count, index freshness) in an R-tree, so only the stores intersecting a
// region of interest need to be opened.
//
// Example:
//
//	cat, err := geostore.BuildCatalog("/data/charts", geostore.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, entry := range cat.Query(geostore.NewEnvelope(-87, 24, -80, 31)) {
//	    store, err := cat.Open(entry)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    // query the store
//	    store.Close()
//	}
type Catalog struct {
	entries []CatalogEntry
	rtree   *rtreego.Rtree
	opts    Options
}

// CatalogEntry contains indexed metadata for a single store.
type CatalogEntry struct {
	Path     string   // Absolute path to the primary file
	Name     string   // Store name
	Envelope Envelope // Union of all record envelopes
	Count    uint32   // Number of records
	Indexed  bool     // Both indexes present and fresh
}

// minExtent stands in for the zero width of point-like bounds, which the
// R-tree cannot store.
const minExtent = 1e-9

// Bounds implements rtreego.Spatial.
func (e CatalogEntry) Bounds() rtreego.Rect {
	return rectOf(e.Envelope)
}

func rectOf(e Envelope) rtreego.Rect {
	dx, dy := e.Span()
	rect, _ := rtreego.NewRect(
		rtreego.Point{e.MinX, e.MinY},
		[]float64{max(dx, minExtent), max(dy, minExtent)},
	)
	return rect
}

func finite(e Envelope) bool {
	for _, v := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// DiscoverStores returns the primary files (*.geo) under root, in lexical
// order. Discovery always walks the local file system.
//
// Example:
//
//	paths, err := geostore.DiscoverStores("/data/charts")
//	fmt.Printf("Found %d stores\n", len(paths))
func DiscoverStores(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".geo" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// BuildCatalog builds a catalog by scanning a directory tree for stores.
//
// Stores are opened read-only, Options.Workers at a time, and closed again
// once their metadata is read. With Options.SkipErrors, stores that fail
// to open are logged and left out; otherwise the first failure is
// returned. Options.Progress is called after each store.
//
// Example:
//
//	opts := geostore.DefaultOptions()
//	opts.Progress = func(done, total int) {
//	    fmt.Printf("\rIndexing: %d/%d", done, total)
//	}
//	cat, err := geostore.BuildCatalog("/data/charts", opts)
func BuildCatalog(root string, opts Options) (*Catalog, error) {
	paths, err := DiscoverStores(root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no stores found in %s", root)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.logger()

	found := make([]*CatalogEntry, len(paths))
	var (
		mu     sync.Mutex
		done   int
		failed int
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			entry, err := describe(path, opts)

			mu.Lock()
			done++
			if err != nil {
				failed++
			}
			if opts.Progress != nil {
				opts.Progress(done, len(paths))
			}
			mu.Unlock()

			if err != nil {
				if opts.SkipErrors {
					logger.Warn("skipping store", "path", path, "error", err)
					return nil
				}
				return fmt.Errorf("describe %s: %w", path, err)
			}
			found[i] = &entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	var entries []CatalogEntry
	for _, e := range found {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no stores could be opened (%d errors)", failed)
	}
	logger.LogCatalog(root, len(entries), failed)
	return NewCatalog(entries, opts), nil
}

// describe reads the catalog metadata of one store.
func describe(path string, opts Options) (CatalogEntry, error) {
	opts.ReadOnly = true
	opts.AutoRebuild = false
	s, err := Open(path, opts)
	if err != nil {
		return CatalogEntry{}, err
	}
	defer s.Close()

	abs, err := filepath.Abs(s.Path())
	if err != nil {
		abs = s.Path()
	}
	return CatalogEntry{
		Path:     abs,
		Name:     s.Name(),
		Envelope: s.Bounds(),
		Count:    s.Count(),
		Indexed: !s.NeedsRegeneration(SpatialIndexFile) &&
			!s.NeedsRegeneration(IdentifierIndexFile),
	}, nil
}

// NewCatalog creates a catalog from entries that are already known. Stores
// opened through the catalog use opts.
func NewCatalog(entries []CatalogEntry, opts Options) *Catalog {
	// Create R-tree (2D, min=25 children, max=50 children)
	rtree := rtreego.NewTree(2, 25, 50)
	for _, e := range entries {
		// Empty stores cover nothing and stay out of the tree.
		if !e.Envelope.IsEmpty() && finite(e.Envelope) {
			rtree.Insert(e)
		}
	}
	return &Catalog{
		entries: slices.Clone(entries),
		rtree:   rtree,
		opts:    opts,
	}
}

// Query returns the stores whose bounds intersect the given envelope,
// ordered by name.
func (c *Catalog) Query(bounds Envelope) []CatalogEntry {
	if bounds.IsEmpty() {
		return nil
	}
	var result []CatalogEntry
	if finite(bounds) {
		// The R-tree ignores touching rectangles; widen the search and
		// refine with the inclusive envelope test.
		for _, sp := range c.rtree.SearchIntersect(rectOf(bounds.Expand(minExtent))) {
			entry := sp.(CatalogEntry)
			if bounds.Intersects(entry.Envelope) {
				result = append(result, entry)
			}
		}
	} else {
		// Unbounded queries cannot be expressed as an R-tree rectangle.
		for _, entry := range c.entries {
			if bounds.Intersects(entry.Envelope) {
				result = append(result, entry)
			}
		}
	}

	slices.SortFunc(result, func(a, b CatalogEntry) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Path, b.Path))
	})
	return result
}

// Open opens the store described by entry with the catalog's options.
func (c *Catalog) Open(entry CatalogEntry) (*Store, error) {
	return Open(entry.Path, c.opts)
}

// Count returns the number of stores in the catalog.
func (c *Catalog) Count() int {
	return len(c.entries)
}

// Bounds returns the union of all store bounds.
func (c *Catalog) Bounds() Envelope {
	bounds := EmptyEnvelope()
	for _, e := range c.entries {
		bounds = bounds.Union(e.Envelope)
	}
	return bounds
}

// All returns all entries in the catalog.
func (c *Catalog) All() []CatalogEntry {
	return c.entries
}
