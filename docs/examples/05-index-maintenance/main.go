package main

import (
	"fmt"
	"log"

	"github.com/beetlebugorg/geostore/pkg/geostore"
)

func main() {
	// Settings come from geostore.yaml when present
	cfg, err := geostore.LoadConfig("")
	if err != nil {
		log.Fatal(err)
	}
	opts, err := cfg.Options()
	if err != nil {
		log.Fatal(err)
	}

	// Open without rebuilding so stale indexes can be reported first
	opts.AutoRebuild = false
	store, err := geostore.Open("harbour", opts)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	for _, kind := range []geostore.FileKind{geostore.SpatialIndexFile, geostore.IdentifierIndexFile} {
		fmt.Printf("%s needs regeneration: %v\n", kind, store.NeedsRegeneration(kind))
	}

	if store.NeedsRegeneration(geostore.SpatialIndexFile) {
		if err := store.RebuildSpatialIndex(opts.MaxDepth); err != nil {
			log.Fatal(err)
		}
	}
	if store.NeedsRegeneration(geostore.IdentifierIndexFile) {
		if err := store.RebuildIdentifierIndex(); err != nil {
			log.Fatal(err)
		}
	}

	viewport := geostore.NewEnvelope(-71.1, 42.3, -71.0, 42.4)
	fmt.Printf("Viewport strategy: %s\n", store.Explain(geostore.QuerySpec{Envelope: &viewport}))
}
