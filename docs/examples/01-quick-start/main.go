package main

import (
	"fmt"
	"log"

	"github.com/beetlebugorg/geostore/pkg/geostore"
)

func main() {
	opts := geostore.DefaultOptions()

	// Write a small store
	w, err := geostore.Create("harbour", nil, opts)
	if err != nil {
		log.Fatal(err)
	}
	w.Append(geostore.Feature{ID: "LIGHT.1", Geometry: geostore.NewPoint(-71.05, 42.35)})
	w.Append(geostore.Feature{ID: "BUOY.7", Geometry: geostore.NewPoint(-71.02, 42.33)})
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	// Open it again and list every record
	store, err := geostore.Open("harbour", opts)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Printf("Store: %s\n", store.Name())
	fmt.Printf("Records: %d\n", store.Count())
	fmt.Printf("Bounds: %s\n", store.Bounds())

	cur, err := store.Query(geostore.QuerySpec{})
	if err != nil {
		log.Fatal(err)
	}
	defer cur.Close()
	for rec := range cur.All() {
		fmt.Printf("  %d %s %s\n", rec.Number, rec.ID, rec.Geometry.Type)
	}
	if err := cur.Err(); err != nil {
		log.Fatal(err)
	}
}
