package spatial

import (
	"math/rand"
	"testing"

	"github.com/beetlebugorg/geostore/internal/geom"
)

// BenchmarkSearch_Tree benchmarks small viewport queries through the tree.
func BenchmarkSearch_Tree(b *testing.B) {
	entries := randomEntries(rand.New(rand.NewSource(1)), 10000, 1000, 5)
	tree := Build(entries, DefaultBuildOptions())
	viewport := geom.Envelope{MinX: 100, MinY: 100, MaxX: 150, MaxY: 150}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it := tree.Search(viewport)
		for it.Next() {
		}
	}
}

// BenchmarkSearch_Linear benchmarks the same viewport with a linear scan.
func BenchmarkSearch_Linear(b *testing.B) {
	entries := randomEntries(rand.New(rand.NewSource(1)), 10000, 1000, 5)
	viewport := geom.Envelope{MinX: 100, MinY: 100, MaxX: 150, MaxY: 150}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bruteForce(entries, viewport)
	}
}

func BenchmarkBuild(b *testing.B) {
	entries := randomEntries(rand.New(rand.NewSource(1)), 10000, 1000, 5)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Build(entries, DefaultBuildOptions())
	}
}
