package main

import (
	"fmt"
	"log"

	"github.com/beetlebugorg/geostore/pkg/geostore"
)

func main() {
	opts := geostore.DefaultOptions()
	opts.Progress = func(done, total int) {
		fmt.Printf("\rIndexing: %d/%d", done, total)
	}

	cat, err := geostore.BuildCatalog("/data/charts", opts)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\nCatalog contains %d stores\n\n", cat.Count())

	for _, entry := range cat.All() {
		fmt.Printf("Store: %s\n", entry.Name)
		fmt.Printf("  Path: %s\n", entry.Path)
		fmt.Printf("  Records: %d\n", entry.Count)
		fmt.Printf("  Bounds: %s\n", entry.Envelope)
		fmt.Printf("  Indexed: %v\n", entry.Indexed)
	}

	// Stores covering a location
	lon, lat := -71.05, 42.35
	here := geostore.NewEnvelope(lon, lat, lon, lat)
	matches := cat.Query(here)
	fmt.Printf("\nStores containing location %.4f, %.4f: %d\n", lon, lat, len(matches))

	// Keep up to 256MB of stores open between lookups
	cache := geostore.NewStoreCache(256*1024*1024, opts)
	defer cache.Clear()

	for _, entry := range matches {
		store, release, err := cache.Get(entry.Path)
		if err != nil {
			log.Printf("open %s: %v", entry.Name, err)
			continue
		}
		cur, err := store.Query(geostore.QuerySpec{Envelope: &here, Loose: true})
		if err == nil {
			n := 0
			for range cur.All() {
				n++
			}
			cur.Close()
			fmt.Printf("  %s: %d records\n", entry.Name, n)
		}
		release()
	}
}
