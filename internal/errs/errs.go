// Package errs defines the error taxonomy shared by the store packages.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrOpen matches any *OpenError.
	ErrOpen = errors.New("geostore: open failed")

	// ErrIndexCorrupt indicates a persisted index failed structural checks.
	// Callers treat a corrupt index exactly like an absent one.
	ErrIndexCorrupt = errors.New("geostore: index corrupt")

	// ErrRecordIO matches any *RecordError.
	ErrRecordIO = errors.New("geostore: record read failed")

	// ErrWriterConflict is returned when a file already has a writer.
	ErrWriterConflict = errors.New("geostore: writer conflict")

	// ErrClosed is returned by operations on a closed handle, store or cursor.
	ErrClosed = errors.New("geostore: closed")

	// ErrReadOnly is returned when a mutation is requested on a read-only store.
	ErrReadOnly = errors.New("geostore: store is read-only")

	// ErrUnknownColumn indicates a projection names a column the schema lacks.
	ErrUnknownColumn = errors.New("geostore: unknown column")

	// ErrNoAttributes indicates columns were requested from a store without
	// an attribute file.
	ErrNoAttributes = errors.New("geostore: store has no attribute file")
)

// OpenError reports a mandatory file that is missing or unreadable.
type OpenError struct {
	Path string
	Kind string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s file %s: %v", e.Kind, e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOpen) hold for every OpenError.
func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// RecordError reports a failure reading one record during iteration.
type RecordError struct {
	Record uint32
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Record, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func (e *RecordError) Is(target error) bool { return target == ErrRecordIO }

// Corrupt wraps a structural problem found while decoding an index.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIndexCorrupt, fmt.Sprintf(format, args...))
}
