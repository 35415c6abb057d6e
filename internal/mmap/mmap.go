// Package mmap provides read-only memory mapping for snapshot files.
//
// The flat index opens vectors.bin through this package so that queries read
// vector data without an up-front copy of the whole file into the heap. On
// platforms without mmap support the file is read into memory instead.
package mmap

import (
	"io"
	"os"
)

// File represents a read-only memory-mapped file.
type File struct {
	Data []byte
	f    *os.File
}

// Open maps the file at path into memory as read-only.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return &File{Data: nil, f: f}, nil
	}

	data, err := mmapFile(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{Data: data, f: f}, nil
}

// Close unmaps the memory and closes the underlying file.
func (m *File) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.Data != nil {
		err = munmapFile(m.Data)
		m.Data = nil
	}
	if m.f != nil {
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		m.f = nil
	}
	return err
}

// ReadAt implements io.ReaderAt on the mapped data.
func (m *File) ReadAt(p []byte, off int64) (n int, err error) {
	if m.Data == nil || off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n = copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
