package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-memory Directory implementation for testing.
// Thread-safe for concurrent reads and writes.
type MemoryDirectory struct {
	mu     sync.RWMutex
	files  map[string]memoryFile
	locks  map[string]struct{}
	closed bool

	cfg     BufferConfig
	now     func() time.Time
	metrics MetricsObserver
}

type memoryFile struct {
	data     []byte
	modified time.Time
}

var _ Directory = (*MemoryDirectory)(nil)

// MemoryOption configures a MemoryDirectory.
type MemoryOption func(*MemoryDirectory)

// WithMemoryBufferConfig sets the stream buffer sizes.
func WithMemoryBufferConfig(cfg BufferConfig) MemoryOption {
	return func(d *MemoryDirectory) { d.cfg = cfg.WithDefaults() }
}

// WithMemoryClock sets the clock used for modification times.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(d *MemoryDirectory) { d.now = now }
}

// WithMemoryMetrics sets the metrics observer.
func WithMemoryMetrics(m MetricsObserver) MemoryOption {
	return func(d *MemoryDirectory) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory(opts ...MemoryOption) *MemoryDirectory {
	d := &MemoryDirectory{
		files:   make(map[string]memoryFile),
		locks:   make(map[string]struct{}),
		cfg:     DefaultBufferConfig(),
		now:     time.Now,
		metrics: NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cfg.OutputMode = RAMOnly
	return d
}

func (d *MemoryDirectory) ListAll(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDirectoryClosed
	}
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *MemoryDirectory) stat(name string) (memoryFile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return memoryFile{}, ErrDirectoryClosed
	}
	f, ok := d.files[name]
	if !ok {
		return memoryFile{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return f, nil
}

func (d *MemoryDirectory) FileExists(_ context.Context, name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false, ErrDirectoryClosed
	}
	_, ok := d.files[name]
	return ok, nil
}

func (d *MemoryDirectory) FileLength(_ context.Context, name string) (int64, error) {
	f, err := d.stat(name)
	if err != nil {
		return 0, err
	}
	return int64(len(f.data)), nil
}

func (d *MemoryDirectory) FileModified(_ context.Context, name string) (time.Time, error) {
	f, err := d.stat(name)
	if err != nil {
		return time.Time{}, err
	}
	return f.modified, nil
}

// SetFileModified overrides the modification time of a file.
func (d *MemoryDirectory) SetFileModified(name string, t time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	f.modified = t
	d.files[name] = f
	return nil
}

func (d *MemoryDirectory) DeleteFile(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDirectoryClosed
	}
	var err error
	if _, ok := d.files[name]; !ok {
		err = fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(d.files, name)
	d.metrics.OnDelete(name, err)
	return err
}

func (d *MemoryDirectory) RenameFile(_ context.Context, from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDirectoryClosed
	}
	f, ok := d.files[from]
	if !ok {
		return fmt.Errorf("%s: %w", from, ErrNotFound)
	}
	delete(d.files, from)
	d.files[to] = f
	return nil
}

func (d *MemoryDirectory) CreateOutput(_ context.Context, name string) (Output, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, ErrDirectoryClosed
	}
	return NewSpillingOutput(name, d.cfg, func(r io.Reader, length int64) error {
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return ErrDirectoryClosed
		}
		d.files[name] = memoryFile{data: data, modified: d.now()}
		return nil
	}, WithSpillMetrics(d.metrics)), nil
}

func (d *MemoryDirectory) OpenInput(_ context.Context, name string) (Input, error) {
	f, err := d.stat(name)
	if err != nil {
		return nil, err
	}
	// Published payloads are never mutated, so readers share them.
	return NewBufferedInput(name, BytesSource(f.data), d.cfg.InputBufferSize, WithInputMetrics(d.metrics)), nil
}

// Bytes returns a copy of a file's payload.
func (d *MemoryDirectory) Bytes(name string) ([]byte, error) {
	f, err := d.stat(name)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(f.data), nil
}

func (d *MemoryDirectory) MakeLock(name string) Lock {
	return &memoryLock{dir: d, name: name}
}

func (d *MemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type memoryLock struct {
	dir  *MemoryDirectory
	name string
	held bool
}

func (l *memoryLock) Obtain(_ context.Context) (bool, error) {
	l.dir.mu.Lock()
	defer l.dir.mu.Unlock()
	if _, taken := l.dir.locks[l.name]; taken {
		return false, nil
	}
	l.dir.locks[l.name] = struct{}{}
	l.held = true
	return true, nil
}

func (l *memoryLock) Release(_ context.Context) error {
	l.dir.mu.Lock()
	defer l.dir.mu.Unlock()
	if !l.held {
		return nil
	}
	delete(l.dir.locks, l.name)
	l.held = false
	return nil
}

func (l *memoryLock) IsLocked(_ context.Context) (bool, error) {
	l.dir.mu.RLock()
	defer l.dir.mu.RUnlock()
	_, taken := l.dir.locks[l.name]
	return taken, nil
}
