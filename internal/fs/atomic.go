package fs

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to name so that a reader never observes a
// partial file: the data is written to a temporary sibling, synced, closed,
// renamed into place, and the containing directory is synced to persist the
// rename.
func WriteFileAtomic(fsys FileSystem, name string, data []byte, perm os.FileMode) error {
	tmp := name + ".tmp"

	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return err
	}

	if err := fsys.Rename(tmp, name); err != nil {
		fsys.Remove(tmp)
		return err
	}

	return SyncDir(fsys, filepath.Dir(name))
}

// SyncDir fsyncs a directory so that renames within it become durable.
func SyncDir(fsys FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
