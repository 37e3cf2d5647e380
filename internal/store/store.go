// Package store provides an EEPROM-style non-volatile byte store: a fixed
// size image addressed by offset, staged in memory and made durable by
// Commit.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/renameio/v2"
)

// DefaultSize is the image size used by the terminal.
const DefaultSize = 512

// ErrOutOfRange is returned for accesses past the end of the image.
var ErrOutOfRange = errors.New("store: access out of range")

// NonVolatile is a fixed-size byte store. Writes are staged until Commit.
type NonVolatile interface {
	io.ReaderAt
	io.WriterAt
	Commit() error
}

type image struct {
	mu   sync.Mutex
	data []byte
}

func (m *image) readAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("%w: read %d bytes at %d of %d", ErrOutOfRange, len(p), off, len(m.data))
	}
	return copy(p, m.data[off:]), nil
}

func (m *image) writeAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("%w: write %d bytes at %d of %d", ErrOutOfRange, len(p), off, len(m.data))
	}
	return copy(m.data[off:], p), nil
}

// File is a store backed by a file on disk. The whole image is rewritten
// atomically on Commit, so a power cut leaves either the old or the new image.
type File struct {
	image
	path string
	perm os.FileMode
}

// OpenFile loads the image at path, zero-filling it to size. A missing file
// yields an all-zero image.
func OpenFile(path string, size int) (*File, error) {
	f := &File{image: image{data: make([]byte, size)}, path: path, perm: 0o644}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}
	copy(f.data, b)
	return f, nil
}

// ReadAt reads from the staged image.
func (f *File) ReadAt(p []byte, off int64) (int, error) { return f.readAt(p, off) }

// WriteAt stages p at off.
func (f *File) WriteAt(p []byte, off int64) (int, error) { return f.writeAt(p, off) }

// Commit writes the staged image to disk.
func (f *File) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := renameio.WriteFile(f.path, f.data, f.perm); err != nil {
		return fmt.Errorf("commit store %s: %w", f.path, err)
	}
	return nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Memory is an in-memory store for tests. Committed holds a copy of the image
// as of the last Commit.
type Memory struct {
	image
	Committed []byte
	Commits   int
	// CommitError, if set, is returned by Commit.
	CommitError error
}

// NewMemory creates a zeroed in-memory store of size bytes.
func NewMemory(size int) *Memory {
	return &Memory{image: image{data: make([]byte, size)}}
}

// ReadAt reads from the staged image.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) { return m.readAt(p, off) }

// WriteAt stages p at off.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) { return m.writeAt(p, off) }

// Commit snapshots the image into Committed.
func (m *Memory) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitError != nil {
		return m.CommitError
	}
	m.Committed = append(m.Committed[:0], m.data...)
	m.Commits++
	return nil
}
