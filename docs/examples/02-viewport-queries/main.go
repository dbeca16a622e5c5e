package main

import (
	"fmt"
	"log"

	"github.com/beetlebugorg/geostore/pkg/geostore"
)

func main() {
	store, err := geostore.Open("harbour", geostore.DefaultOptions())
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	// Define viewport (Boston Harbor area)
	viewport := geostore.NewEnvelope(-71.1, 42.3, -71.0, 42.4)

	// Skip features smaller than a pixel at this zoom level
	spec := geostore.QuerySpec{
		Envelope:      &viewport,
		MinResolution: &geostore.Resolution{X: 0.0001, Y: 0.0001},
	}
	fmt.Printf("Strategy: %s\n", store.Explain(spec))

	cur, err := store.Query(spec)
	if err != nil {
		log.Fatal(err)
	}
	defer cur.Close()

	for rec := range cur.All() {
		fmt.Printf("  %d: %s %s\n", rec.Number, rec.Geometry.Type, rec.Envelope)
	}
	if err := cur.Err(); err != nil {
		log.Fatal(err)
	}

	stats := cur.Stats()
	fmt.Printf("Visible features: %d of %d examined\n", stats.Emitted, stats.Examined)
}
