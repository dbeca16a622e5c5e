package geostore

import (
	"runtime"

	"github.com/beetlebugorg/geostore/internal/spatial"
)

// Options configures how a store is opened, written and indexed.
type Options struct {
	// FileSystem backs every file operation. If nil, the local file system
	// is used.
	FileSystem FileSystem

	// Logger receives structured logs. If nil, logs go to slog.Default().
	Logger *Logger

	// ReadOnly opens the store without write access. Read-only stores never
	// create, rename or remove files; stale indexes are ignored.
	ReadOnly bool

	// AutoRebuild rebuilds absent or stale indexes when a writable store is
	// opened.
	// Default: true
	AutoRebuild bool

	// FanOut is the maximum number of entries per spatial index leaf.
	// Default: 16
	FanOut int

	// MaxDepth limits the depth of rebuilt spatial indexes. 0 means
	// unlimited up to the hard limit of 32.
	MaxDepth int

	// Codec compresses geometry payloads written by Create.
	// Default: CodecLZ4
	Codec Codec

	// BuildIndexes makes Writer.Close build both indexes after publishing
	// the data files.
	// Default: true
	BuildIndexes bool

	// Workers is the number of stores BuildCatalog opens concurrently.
	// If 0, defaults to runtime.NumCPU().
	Workers int

	// SkipErrors makes BuildCatalog skip stores that fail to open instead
	// of failing the whole catalog.
	// Default: true
	SkipErrors bool

	// Progress is called by BuildCatalog after each store is processed.
	Progress func(done, total int)
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		AutoRebuild:  true,
		FanOut:       spatial.DefaultFanOut,
		Codec:        CodecLZ4,
		BuildIndexes: true,
		Workers:      runtime.NumCPU(),
		SkipErrors:   true,
	}
}

func (o Options) logger() *Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return DefaultLogger()
}

func (o Options) buildOptions(maxDepth int) spatial.BuildOptions {
	return spatial.BuildOptions{FanOut: o.FanOut, MaxDepth: maxDepth}
}
