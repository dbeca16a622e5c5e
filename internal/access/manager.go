// Package access coordinates the correlated files of a store: it opens
// them, hands out scoped readers and exclusive writers, publishes new files
// atomically and decides when derived indexes are stale.
//
// Every reader owns its own descriptor, so readers never interfere. Writers
// write to a temporary file next to their target and rename it into place
// on commit, so a reader sees either the old or the new complete file.
//
// A second writer for a file that already has one fails immediately with
// errs.ErrWriterConflict; it never blocks.
package access

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/fs"
)

// Mode selects what a handle may do.
type Mode int

const (
	// ReadOnly handles never create, rename or remove files.
	ReadOnly Mode = iota
	// ReadWrite handles may replace files of an existing store.
	ReadWrite
	// Create handles write a new store; no file needs to exist yet.
	Create
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case Create:
		return "create"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Manager is the process-wide registry of open stores. Handles of the same
// store opened through one Manager share writer ownership and the publish
// lock.
type Manager struct {
	fs     fs.FileSystem
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*storeState
}

// storeState is shared by every handle of one store. It is dropped when the
// last handle closes.
type storeState struct {
	refs    int
	publish sync.RWMutex
	writers [numKinds]*Writer // guarded by Manager.mu
}

// NewManager creates a registry over fsys (fs.Default if nil).
func NewManager(fsys fs.FileSystem, logger *slog.Logger) *Manager {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{fs: fsys, logger: logger, stores: make(map[string]*storeState)}
}

// FS returns the file system the manager operates on.
func (m *Manager) FS() fs.FileSystem { return m.fs }

// Open opens the store at paths. ReadOnly and ReadWrite require the primary
// and offset files to exist and be readable; a missing or unreadable one
// yields an *errs.OpenError and no handle. The handle logs through logger,
// or the manager's logger when nil.
func (m *Manager) Open(paths Paths, mode Mode, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = m.logger
	}
	switch mode {
	case ReadOnly, ReadWrite:
		for _, k := range []FileKind{Primary, Offsets} {
			if err := m.checkReadable(paths.Path(k)); err != nil {
				return nil, &errs.OpenError{Path: paths.Path(k), Kind: k.String(), Err: err}
			}
		}
	case Create:
		if err := m.fs.MkdirAll(filepath.Dir(paths.Primary), 0o755); err != nil {
			return nil, &errs.OpenError{Path: paths.Primary, Kind: Primary.String(), Err: err}
		}
	default:
		return nil, fmt.Errorf("open store: unknown mode %d", mode)
	}

	key := paths.key()
	m.mu.Lock()
	st, ok := m.stores[key]
	if !ok {
		st = &storeState{}
		m.stores[key] = st
	}
	st.refs++
	m.mu.Unlock()

	h := &Handle{
		m:       m,
		paths:   paths,
		mode:    mode,
		key:     key,
		state:   st,
		logger:  logger.With("store", paths.Name()),
		readers: make(map[*Reader]struct{}),
		writers: make(map[*Writer]struct{}),
	}
	h.logger.Debug("store opened", "mode", mode.String())
	return h, nil
}

func (m *Manager) checkReadable(path string) error {
	f, err := fs.Open(m.fs, path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// release drops one reference to the store at key.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[key]
	if !ok {
		return
	}
	st.refs--
	if st.refs <= 0 {
		delete(m.stores, key)
	}
}

// OpenStores returns the number of stores with at least one open handle.
func (m *Manager) OpenStores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
