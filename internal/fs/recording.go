package fs

import (
	"os"
	"slices"
	"sync"
)

// RecordingFS wraps a FileSystem and records the name of every file opened
// through it.
type RecordingFS struct {
	FS FileSystem

	mu     sync.Mutex
	opened []string
}

// NewRecordingFS wraps fsys (or Default if nil).
func NewRecordingFS(fsys FileSystem) *RecordingFS {
	if fsys == nil {
		fsys = Default
	}
	return &RecordingFS{FS: fsys}
}

func (r *RecordingFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	r.mu.Lock()
	r.opened = append(r.opened, name)
	r.mu.Unlock()
	return r.FS.OpenFile(name, flag, perm)
}

// Opened returns the names opened so far, in order.
func (r *RecordingFS) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.opened)
}

// Reset forgets every recorded open.
func (r *RecordingFS) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = nil
}

func (r *RecordingFS) Remove(name string) error              { return r.FS.Remove(name) }
func (r *RecordingFS) Rename(oldpath, newpath string) error  { return r.FS.Rename(oldpath, newpath) }
func (r *RecordingFS) Stat(name string) (os.FileInfo, error) { return r.FS.Stat(name) }
func (r *RecordingFS) MkdirAll(path string, perm os.FileMode) error {
	return r.FS.MkdirAll(path, perm)
}
