package access

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/fs"
	"github.com/google/uuid"
)

// Handle owns the open state of one store: its outstanding readers and
// writers. Close releases everything on every path.
type Handle struct {
	m      *Manager
	paths  Paths
	mode   Mode
	key    string
	state  *storeState
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	readers map[*Reader]struct{}
	writers map[*Writer]struct{}
}

// Paths returns the store's file paths.
func (h *Handle) Paths() Paths { return h.paths }

// Mode returns the mode the handle was opened with.
func (h *Handle) Mode() Mode { return h.mode }

// Writable reports whether the handle may write files.
func (h *Handle) Writable() bool { return h.mode != ReadOnly }

// Logger returns the handle's logger.
func (h *Handle) Logger() *slog.Logger { return h.logger }

// FS returns the file system backing the handle.
func (h *Handle) FS() fs.FileSystem { return h.m.fs }

// Has reports whether the file of kind k currently exists.
func (h *Handle) Has(k FileKind) bool {
	return fs.Exists(h.m.fs, h.paths.Path(k))
}

// Stat returns file information for kind k.
func (h *Handle) Stat(k FileKind) (os.FileInfo, error) {
	return h.m.fs.Stat(h.paths.Path(k))
}

// NeedsRegeneration reports whether the index of kind k must be rebuilt:
// it is absent, older than the primary file, or the primary or offset file
// cannot be stat'ed. The answer is computed from the file system on every
// call.
func (h *Handle) NeedsRegeneration(k FileKind) bool {
	idx, err := h.Stat(k)
	if err != nil {
		return true
	}
	primary, err := h.Stat(Primary)
	if err != nil {
		return true
	}
	if _, err := h.Stat(Offsets); err != nil {
		return true
	}
	return idx.ModTime().Before(primary.ModTime())
}

// AcquireReader opens a new descriptor on the file of kind k. The reader
// must be released; Close releases any the caller forgot.
func (h *Handle) AcquireReader(k FileKind) (*Reader, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquireReaderLocked(k)
}

func (h *Handle) acquireReaderLocked(k FileKind) (*Reader, error) {
	if h.closed {
		return nil, errs.ErrClosed
	}
	path := h.paths.Path(k)
	f, err := fs.Open(h.m.fs, path)
	if err != nil {
		return nil, fmt.Errorf("open %s file: %w", k, err)
	}
	r := &Reader{h: h, kind: k, path: path, file: f}
	h.readers[r] = struct{}{}
	return r, nil
}

// AcquireReaders opens readers for several kinds as one consistent set: no
// publication can happen between the individual opens. On failure every
// reader opened so far is released.
func (h *Handle) AcquireReaders(kinds ...FileKind) ([]*Reader, error) {
	h.state.publish.RLock()
	defer h.state.publish.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	readers := make([]*Reader, 0, len(kinds))
	for _, k := range kinds {
		r, err := h.acquireReaderLocked(k)
		if err != nil {
			for _, done := range readers {
				done.releaseLocked()
			}
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

// WithReader runs fn with a reader of kind k and releases it afterwards,
// including when fn panics.
func (h *Handle) WithReader(k FileKind, fn func(*Reader) error) error {
	r, err := h.AcquireReader(k)
	if err != nil {
		return err
	}
	defer r.Release()
	return fn(r)
}

// AcquireWriter claims exclusive write access to the file of kind k and
// returns a writer over a fresh temporary file. It fails with
// errs.ErrWriterConflict when any handle of the store already holds a
// writer for k.
func (h *Handle) AcquireWriter(k FileKind) (*Writer, error) {
	if !h.Writable() {
		return nil, errs.ErrReadOnly
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errs.ErrClosed
	}

	h.m.mu.Lock()
	if h.state.writers[k] != nil {
		h.m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s file %s", errs.ErrWriterConflict, k, h.paths.Path(k))
	}
	w := &Writer{h: h, kind: k, target: h.paths.Path(k)}
	h.state.writers[k] = w
	h.m.mu.Unlock()

	if err := w.create(); err != nil {
		h.m.mu.Lock()
		h.state.writers[k] = nil
		h.m.mu.Unlock()
		return nil, err
	}
	h.writers[w] = struct{}{}
	return w, nil
}

// WithWriter runs fn with a writer of kind k. The file is published when fn
// returns nil and discarded otherwise, including when fn panics.
func (h *Handle) WithWriter(k FileKind, fn func(*Writer) error) error {
	w, err := h.AcquireWriter(k)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()
	if err := fn(w); err != nil {
		return err
	}
	committed = true
	return w.Commit()
}

// Publish commits several writers as one set under the store's publish
// lock, so AcquireReaders observes all of them or none. Existing targets
// are moved aside to backups first; if any step fails, every target is
// restored and the writers are aborted. Backups are removed once the whole
// set is in place.
func (h *Handle) Publish(ws ...*Writer) error {
	for _, w := range ws {
		if w.h != h {
			return fmt.Errorf("publish: writer for %s belongs to another handle", w.kind)
		}
		if w.done {
			return fmt.Errorf("publish %s file: writer finished", w.kind)
		}
	}
	h.state.publish.Lock()
	defer h.state.publish.Unlock()
	defer func() {
		for _, w := range ws {
			w.Abort()
		}
	}()

	for _, w := range ws {
		if err := w.prepare(); err != nil {
			return err
		}
	}

	fsys := h.m.fs
	swaps := make([]swap, len(ws))
	for i, w := range ws {
		swaps[i].target = w.target
		if !fs.Exists(fsys, w.target) {
			continue
		}
		backup := fmt.Sprintf("%s.bak-%s", w.target, uuid.NewString())
		if err := fsys.Rename(w.target, backup); err != nil {
			return h.rollback(swaps, fmt.Errorf("back up %s file: %w", w.kind, err))
		}
		swaps[i].backup = backup
	}
	for i, w := range ws {
		if err := fsys.Rename(w.temp, w.target); err != nil {
			return h.rollback(swaps, fmt.Errorf("publish %s file: %w", w.kind, err))
		}
		swaps[i].installed = true
	}

	for i, w := range ws {
		w.finish()
		h.logger.Debug("file published", "kind", w.kind.String(), "path", w.target)
		if b := swaps[i].backup; b != "" {
			if err := fsys.Remove(b); err != nil {
				h.logger.Warn("cannot remove backup", "path", b, "error", err)
			}
		}
	}
	return nil
}

// swap tracks one target of a Publish.
type swap struct {
	target    string
	backup    string // empty when the target did not exist
	installed bool
}

// rollback puts every target back the way Publish found it and returns
// cause, joined with any failure to restore.
func (h *Handle) rollback(swaps []swap, cause error) error {
	fsys := h.m.fs
	errList := []error{cause}
	for i := len(swaps) - 1; i >= 0; i-- {
		s := swaps[i]
		switch {
		case s.backup != "":
			if err := fsys.Rename(s.backup, s.target); err != nil {
				errList = append(errList, fmt.Errorf("restore %s: %w", s.target, err))
			}
		case s.installed:
			if err := fsys.Remove(s.target); err != nil {
				errList = append(errList, fmt.Errorf("remove %s: %w", s.target, err))
			}
		}
	}
	err := errors.Join(errList...)
	if len(errList) > 1 {
		h.logger.Error("publish rollback incomplete", "store", h.paths.Name(), "error", err)
	}
	return err
}

// Close releases outstanding readers, aborts uncommitted writers and drops
// the handle's registry reference. It is idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	readers := make([]*Reader, 0, len(h.readers))
	for r := range h.readers {
		readers = append(readers, r)
	}
	writers := make([]*Writer, 0, len(h.writers))
	for w := range h.writers {
		writers = append(writers, w)
	}
	h.mu.Unlock()

	var errList []error
	for _, r := range readers {
		h.logger.Warn("releasing leaked reader", "kind", r.kind.String(), "path", r.path)
		if err := r.Release(); err != nil {
			errList = append(errList, err)
		}
	}
	for _, w := range writers {
		h.logger.Warn("aborting uncommitted writer", "kind", w.kind.String(), "path", w.target)
		if err := w.Abort(); err != nil {
			errList = append(errList, err)
		}
	}
	h.m.release(h.key)
	h.logger.Debug("store closed")
	return errors.Join(errList...)
}

// OutstandingReaders returns the number of readers not yet released.
func (h *Handle) OutstandingReaders() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.readers)
}
