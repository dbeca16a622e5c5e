package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/beetlebugorg/geostore/pkg/geostore"
)

func safeOpen(base string) (*geostore.Store, error) {
	opts := geostore.DefaultOptions()
	opts.ReadOnly = true

	store, err := geostore.Open(base, opts)
	if err != nil {
		var oe *geostore.OpenError
		if errors.As(err, &oe) {
			return nil, fmt.Errorf("cannot open %s file of %s: %w", oe.Kind, base, oe.Err)
		}
		return nil, err
	}

	if store.Count() == 0 {
		log.Printf("Warning: %s contains no records", base)
	}
	return store, nil
}

func main() {
	store, err := safeOpen("harbour")
	if err != nil {
		log.Printf("Error: %v", err)
		return
	}
	defer store.Close()

	cur, err := store.Query(geostore.QuerySpec{Columns: []string{"name"}})
	switch {
	case errors.Is(err, geostore.ErrNoAttributes):
		log.Printf("%s has no attribute file", store.Name())
	case errors.Is(err, geostore.ErrUnknownColumn):
		log.Printf("%s has no name column", store.Name())
	case err != nil:
		log.Fatal(err)
	default:
		for rec := range cur.All() {
			fmt.Printf("%d: %v\n", rec.Number, rec.Attributes[0])
		}
		// A damaged record stops the cursor; earlier records were delivered
		if err := cur.Err(); errors.Is(err, geostore.ErrRecordIO) {
			var re *geostore.RecordError
			errors.As(err, &re)
			log.Printf("record %d unreadable: %v", re.Record, re.Err)
		}
		cur.Close()
	}

	// Try to open a store that does not exist
	if _, err := safeOpen("NONEXISTENT"); err != nil {
		log.Printf("Expected error: %v", err)
	}
}
