package main

import (
	"fmt"
	"log"

	"github.com/beetlebugorg/geostore/pkg/geostore"
)

var schema = []geostore.Column{
	{Name: "class", Type: geostore.ColumnString, Width: 8},
	{Name: "name", Type: geostore.ColumnString, Width: 32},
	{Name: "depth", Type: geostore.ColumnFloat64},
}

func main() {
	opts := geostore.DefaultOptions()

	w, err := geostore.Create("soundings", schema, opts)
	if err != nil {
		log.Fatal(err)
	}
	features := []geostore.Feature{
		{Geometry: geostore.NewPoint(-71.04, 42.35), Attributes: map[string]any{"class": "SOUNDG", "depth": 12.4}},
		{Geometry: geostore.NewPoint(-71.03, 42.34), Attributes: map[string]any{"class": "SOUNDG", "depth": 7.9}},
		{Geometry: geostore.NewPoint(-71.05, 42.36), Attributes: map[string]any{"class": "LIGHTS", "name": "Deer Island"}},
	}
	for _, f := range features {
		if _, err := w.Append(f); err != nil {
			w.Abort()
			log.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	store, err := geostore.Open("soundings", opts)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	// Only the requested columns are decoded, in the requested order
	cur, err := store.Query(geostore.QuerySpec{Columns: []string{"class", "name", "depth"}})
	if err != nil {
		log.Fatal(err)
	}
	defer cur.Close()

	for rec := range cur.All() {
		class, name, depth := rec.Attributes[0], rec.Attributes[1], rec.Attributes[2]
		fmt.Printf("Feature %d: %v\n", rec.Number, class)
		if name != nil {
			fmt.Printf("  Name: %s\n", name)
		}
		if d, ok := depth.(float64); ok {
			fmt.Printf("  Sounding: %.1f meters\n", d)
		}
	}
	if err := cur.Err(); err != nil {
		log.Fatal(err)
	}
}
