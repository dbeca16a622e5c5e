package access

import (
	"errors"
	"fmt"
	"io"

	"github.com/beetlebugorg/geostore/internal/fs"
	"github.com/beetlebugorg/geostore/internal/mmap"
)

// Reader is a scoped, read-only view of one store file. It keeps the file
// it opened even if the path is replaced by a later publication.
type Reader struct {
	h    *Handle
	kind FileKind
	path string
	file fs.File

	mapping  *mmap.Mapping
	bytes    []byte
	released bool
}

// Kind returns the file kind the reader was acquired for.
func (r *Reader) Kind() FileKind { return r.kind }

// Path returns the path the reader opened.
func (r *Reader) Path() string { return r.path }

// ReadAt implements io.ReaderAt over the opened file.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if r.released {
		return 0, fmt.Errorf("read %s file: reader released", r.kind)
	}
	return r.file.ReadAt(p, off)
}

// Size returns the size of the opened file.
func (r *Reader) Size() (int64, error) {
	info, err := r.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Bytes returns the whole file. Files on the local disk are memory-mapped;
// other files are read into memory. The slice is valid until Release.
func (r *Reader) Bytes() ([]byte, error) {
	if r.released {
		return nil, fmt.Errorf("read %s file: reader released", r.kind)
	}
	if r.bytes != nil {
		return r.bytes, nil
	}
	if osf, ok := fs.OSFile(r.file); ok {
		m, err := mmap.Map(osf)
		if err != nil {
			return nil, fmt.Errorf("map %s file: %w", r.kind, err)
		}
		r.mapping = m
		r.bytes = m.Bytes()
		if r.bytes == nil {
			r.bytes = []byte{}
		}
		return r.bytes, nil
	}
	size, err := r.Size()
	if err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r.file, 0, size), b); err != nil {
		return nil, fmt.Errorf("read %s file: %w", r.kind, err)
	}
	r.bytes = b
	return b, nil
}

// Release closes the reader. It is idempotent.
func (r *Reader) Release() error {
	r.h.mu.Lock()
	defer r.h.mu.Unlock()
	return r.releaseLocked()
}

func (r *Reader) releaseLocked() error {
	if r.released {
		return nil
	}
	r.released = true
	delete(r.h.readers, r)
	var errList []error
	if r.mapping != nil {
		errList = append(errList, r.mapping.Close())
	}
	r.bytes = nil
	errList = append(errList, r.file.Close())
	return errors.Join(errList...)
}
