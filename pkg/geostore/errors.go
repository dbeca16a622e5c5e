package geostore

import "github.com/beetlebugorg/geostore/internal/errs"

// OpenError reports a mandatory store file that is missing or unreadable.
type OpenError = errs.OpenError

// RecordError reports a record that could not be read during a query.
type RecordError = errs.RecordError

var (
	ErrOpen           = errs.ErrOpen
	ErrIndexCorrupt   = errs.ErrIndexCorrupt
	ErrRecordIO       = errs.ErrRecordIO
	ErrWriterConflict = errs.ErrWriterConflict
	ErrClosed         = errs.ErrClosed
	ErrReadOnly       = errs.ErrReadOnly
	ErrUnknownColumn  = errs.ErrUnknownColumn
	ErrNoAttributes   = errs.ErrNoAttributes
)
