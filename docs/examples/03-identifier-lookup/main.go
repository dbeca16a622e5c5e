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

	// Records written without an identifier are known as name.number
	spec := geostore.QuerySpec{IDs: []string{"LIGHT.1", "harbour.2", "MISSING.9"}}

	cur, err := store.Query(spec)
	if err != nil {
		log.Fatal(err)
	}
	defer cur.Close()

	for rec := range cur.All() {
		fmt.Printf("%s -> record %d at %s\n", rec.ID, rec.Number, rec.Envelope)
	}
	if err := cur.Err(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Strategy: %s, unresolved: %d\n", cur.Strategy(), cur.Stats().UnresolvedIDs)
}
