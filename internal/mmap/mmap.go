package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Hint describes how an index file will be read.
type Hint int

const (
	// Random suits segment files, which are read at scattered offsets.
	Random Hint = iota
	// Sequential suits commit descriptors and merge inputs, which are read
	// front to back once.
	Sequential
)

// ErrClosed is returned by reads after Close.
var ErrClosed = errors.New("mmap: mapping is closed")

// Mapping is a read-only view of one file. It implements the Source
// contract of store inputs: ReadAt, Size and Close.
type Mapping struct {
	data    []byte
	release func([]byte) error
	closed  atomic.Bool
}

// Open maps the file at path and applies hint. Empty files yield an empty
// Mapping without a kernel mapping.
func Open(path string, hint Hint) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if int64(int(size)) != size {
		return nil, fmt.Errorf("mmap: %s: size %d exceeds the address space", path, size)
	}
	if size == 0 {
		return &Mapping{}, nil
	}
	data, release, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap: %s: %w", path, err)
	}
	// The hint is advisory; a refused hint leaves a usable mapping.
	_ = advise(data, hint)
	return &Mapping{data: data, release: release}, nil
}

// Size returns the file length.
func (m *Mapping) Size() int64 { return int64(len(m.data)) }

// ReadAt copies from the mapping. It returns io.EOF when p extends past
// the end of the file.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("mmap: negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the mapping. Closing twice is a no-op.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.release == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return m.release(data)
}
