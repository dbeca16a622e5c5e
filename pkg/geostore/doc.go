// Package geostore provides an indexed on-disk store for geometric records.
//
// A store is a small family of files sharing one base path:
//
//	chart.geo  primary records (geometry, envelope, optional identifier)
//	chart.gox  offset table, record number -> byte range in chart.geo
//	chart.gat  fixed-width attribute rows (optional)
//	chart.gsx  spatial index (optional, derived)
//	chart.gix  identifier index (optional, derived)
//
// The primary and offset files are mandatory. The indexes are derived from
// them and may be absent, stale or corrupt at any time; queries then fall
// back to a full scan and still return the same records.
//
// # Writing a store
//
//	w, err := geostore.Create("charts/harbour", []geostore.Column{
//	    {Name: "name", Type: geostore.ColumnString, Width: 32},
//	    {Name: "depth", Type: geostore.ColumnFloat64},
//	}, geostore.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	w.Append(geostore.Feature{
//	    ID:         "LIGHTS.1",
//	    Geometry:   geostore.NewPoint(-71.05, 42.35),
//	    Attributes: map[string]any{"name": "Boston Light"},
//	})
//	if err := w.Close(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Querying
//
//	store, err := geostore.Open("charts/harbour", geostore.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	viewport := geostore.NewEnvelope(-71.1, 42.3, -71.0, 42.4)
//	cur, err := store.Query(geostore.QuerySpec{
//	    Envelope: &viewport,
//	    Columns:  []string{"name"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cur.Close()
//	for rec := range cur.All() {
//	    fmt.Println(rec.ID, rec.Attributes[0])
//	}
//	if err := cur.Err(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Indexes
//
// An index is stale when it is older than the primary file. Stores opened
// writable rebuild stale indexes on open when Options.AutoRebuild is set;
// read-only stores ignore them. RebuildSpatialIndex and
// RebuildIdentifierIndex replace an index explicitly. Rebuilds write a
// temporary file and rename it into place, so a failed rebuild leaves the
// previous index untouched.
//
// # Many stores
//
// BuildCatalog scans a directory tree and keeps the bounds of every store in
// an R-tree, so only the stores covering a region need to be opened.
// StoreCache keeps recently used stores open between lookups.
package geostore
