// Package blob provides opaque blob persistence for index artifacts.
// The chunk-store snapshot and the path→hash map are both stored through
// this interface, so hosts can redirect them without touching the engine.
package blob

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Store reads and writes opaque serialized blobs by name.
type Store interface {
	// Read returns the blob contents. os.ErrNotExist when absent.
	Read(name string) ([]byte, error)

	// Write replaces the blob contents atomically.
	Write(name string, data []byte) error

	// Exists reports whether a blob is present.
	Exists(name string) bool
}

// FSStore is a filesystem-backed Store. Writes go through a temp file and
// rename so readers never observe a partial blob, and a cross-process file
// lock keeps concurrent notelink processes from clobbering each other.
type FSStore struct {
	dir  string
	lock *flock.Flock
}

// NewFSStore creates a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &FSStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".notelink.lock")),
	}, nil
}

// Read returns the named blob's contents.
func (s *FSStore) Read(name string) ([]byte, error) {
	return os.ReadFile(s.path(name))
}

// Write atomically replaces the named blob.
func (s *FSStore) Write(name string, data []byte) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire blob lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	path := s.path(name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename blob into place: %w", err)
	}
	return nil
}

// Exists reports whether the named blob is present.
func (s *FSStore) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *FSStore) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Verify interface implementation at compile time
var _ Store = (*FSStore)(nil)
