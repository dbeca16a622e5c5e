package access

import (
	"fmt"
	"io"
	"os"

	"github.com/beetlebugorg/geostore/internal/fs"
	"github.com/google/uuid"
)

// Writer writes a replacement for one store file. Nothing is visible at
// the target path until Commit renames the temporary file over it.
type Writer struct {
	h      *Handle
	kind   FileKind
	target string
	temp   string
	file   fs.File
	done   bool
}

var _ io.WriteSeeker = (*Writer)(nil)

func (w *Writer) create() error {
	w.temp = fmt.Sprintf("%s.tmp-%s", w.target, uuid.NewString())
	f, err := w.h.m.fs.OpenFile(w.temp, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("create temp %s file: %w", w.kind, err)
	}
	w.file = f
	return nil
}

// Kind returns the file kind being written.
func (w *Writer) Kind() FileKind { return w.kind }

// TempPath returns the temporary file being written.
func (w *Writer) TempPath() string { return w.temp }

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write %s file: writer finished", w.kind)
	}
	return w.file.Write(p)
}

// Seek implements io.Seeker.
func (w *Writer) Seek(offset int64, whence int) (int64, error) {
	if w.done {
		return 0, fmt.Errorf("seek %s file: writer finished", w.kind)
	}
	return w.file.Seek(offset, whence)
}

// Commit syncs the temporary file and renames it over the target. On
// failure the temporary file is removed and the target is untouched.
func (w *Writer) Commit() error {
	w.h.state.publish.Lock()
	defer w.h.state.publish.Unlock()
	return w.commitLocked()
}

func (w *Writer) commitLocked() error {
	if w.done {
		return fmt.Errorf("commit %s file: writer finished", w.kind)
	}
	defer w.finish()
	if err := w.prepare(); err != nil {
		return err
	}
	if err := w.h.m.fs.Rename(w.temp, w.target); err != nil {
		w.h.m.fs.Remove(w.temp)
		return fmt.Errorf("publish %s file: %w", w.kind, err)
	}
	w.h.logger.Debug("file published", "kind", w.kind.String(), "path", w.target)
	return nil
}

// prepare syncs and closes the temporary file. On failure the temporary
// file is removed.
func (w *Writer) prepare() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.h.m.fs.Remove(w.temp)
		return fmt.Errorf("sync %s file: %w", w.kind, err)
	}
	if err := w.file.Close(); err != nil {
		w.h.m.fs.Remove(w.temp)
		return fmt.Errorf("close %s file: %w", w.kind, err)
	}
	return nil
}

// Abort discards the temporary file. It is idempotent and a no-op after
// Commit.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	defer w.finish()
	w.file.Close()
	if err := w.h.m.fs.Remove(w.temp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp %s file: %w", w.kind, err)
	}
	return nil
}

// finish releases write ownership.
func (w *Writer) finish() {
	w.done = true
	w.h.m.mu.Lock()
	if w.h.state.writers[w.kind] == w {
		w.h.state.writers[w.kind] = nil
	}
	w.h.m.mu.Unlock()

	w.h.mu.Lock()
	delete(w.h.writers, w)
	w.h.mu.Unlock()
}
