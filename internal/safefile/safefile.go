// Package safefile writes output files through a temporary sibling and an
// atomic rename, so an interrupted write never leaves a truncated file at the
// canonical path.
package safefile

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// File is an output file that only appears at its final path on Commit.
type File struct {
	*os.File
	path string
	done bool
}

// Create opens a temporary file next to path. Parent directories are created
// as needed.
func Create(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "safefile: create dir %s", dir)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, eris.Wrapf(err, "safefile: create temp for %s", path)
	}
	return &File{File: f, path: path}, nil
}

// Path returns the final destination.
func (f *File) Path() string {
	return f.path
}

// Commit flushes the temporary file and renames it over the destination.
func (f *File) Commit() error {
	if f.done {
		return eris.Errorf("safefile: %s already closed", f.path)
	}
	f.done = true
	tmp := f.Name()
	if err := f.Sync(); err != nil {
		_ = f.File.Close()
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "safefile: sync %s", f.path)
	}
	if err := f.File.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "safefile: close %s", f.path)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "safefile: rename to %s", f.path)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit, so it can
// be deferred unconditionally.
func (f *File) Abort() {
	if f.done {
		return
	}
	f.done = true
	_ = f.File.Close()
	_ = os.Remove(f.Name())
}

// TempPath reserves a temporary path next to path for writers that need to
// open the file themselves (for example a SQLite driver). The caller renames
// it with Publish or removes it.
func TempPath(path string) (string, error) {
	f, err := Create(path)
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	f.done = true
	if err := f.File.Close(); err != nil {
		return "", eris.Wrapf(err, "safefile: close temp for %s", path)
	}
	if err := os.Remove(tmp); err != nil {
		return "", eris.Wrapf(err, "safefile: release temp for %s", path)
	}
	return tmp, nil
}

// Publish renames a temporary path produced by TempPath to its destination.
func Publish(tmp, path string) error {
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "safefile: rename to %s", path)
	}
	return nil
}
