package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hupe1980/sqldir/internal/fs"
	"github.com/hupe1980/sqldir/internal/mmap"
)

const tempPrefix = ".tmp-"

// FSDirectory stores each file as a local file under a root directory.
// Outputs write to a temporary file that is renamed into place on Close.
type FSDirectory struct {
	root    string
	fs      fs.FileSystem
	cfg     BufferConfig
	useMMap bool
	metrics MetricsObserver
	closed  atomic.Bool
}

var _ Directory = (*FSDirectory)(nil)

// FSOption configures an FSDirectory.
type FSOption func(*FSDirectory)

// WithFileSystem sets the file system. Defaults to the local file system.
func WithFileSystem(fsys fs.FileSystem) FSOption {
	return func(d *FSDirectory) {
		if fsys != nil {
			d.fs = fsys
		}
	}
}

// WithFSBufferConfig sets the stream buffer sizes.
func WithFSBufferConfig(cfg BufferConfig) FSOption {
	return func(d *FSDirectory) { d.cfg = cfg.WithDefaults() }
}

// WithMMap enables or disables memory-mapped inputs. Enabled by default.
func WithMMap(enabled bool) FSOption {
	return func(d *FSDirectory) { d.useMMap = enabled }
}

// WithFSMetrics sets the metrics observer.
func WithFSMetrics(m MetricsObserver) FSOption {
	return func(d *FSDirectory) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewFSDirectory opens (creating if needed) a directory rooted at root.
func NewFSDirectory(root string, opts ...FSOption) (*FSDirectory, error) {
	d := &FSDirectory{
		root:    root,
		fs:      fs.Default,
		cfg:     DefaultBufferConfig(),
		useMMap: true,
		metrics: NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.fs.MkdirAll(root, 0o755); err != nil {
		return nil, WrapIO("mkdir", root, err)
	}
	return d, nil
}

// Root returns the directory path.
func (d *FSDirectory) Root() string { return d.root }

func (d *FSDirectory) path(name string) string {
	return filepath.Join(d.root, name)
}

func (d *FSDirectory) ListAll(_ context.Context) ([]string, error) {
	if d.closed.Load() {
		return nil, ErrDirectoryClosed
	}
	entries, err := d.fs.ReadDir(d.root)
	if err != nil {
		return nil, WrapIO("list", d.root, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *FSDirectory) stat(name string) (os.FileInfo, error) {
	if d.closed.Load() {
		return nil, ErrDirectoryClosed
	}
	fi, err := d.fs.Stat(d.path(name))
	if err != nil {
		return nil, WrapIO("stat", name, err)
	}
	return fi, nil
}

func (d *FSDirectory) FileExists(_ context.Context, name string) (bool, error) {
	_, err := d.stat(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *FSDirectory) FileLength(_ context.Context, name string) (int64, error) {
	fi, err := d.stat(name)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *FSDirectory) FileModified(_ context.Context, name string) (time.Time, error) {
	fi, err := d.stat(name)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (d *FSDirectory) DeleteFile(_ context.Context, name string) error {
	if d.closed.Load() {
		return ErrDirectoryClosed
	}
	err := WrapIO("delete", name, d.fs.Remove(d.path(name)))
	d.metrics.OnDelete(name, err)
	return err
}

func (d *FSDirectory) RenameFile(_ context.Context, from, to string) error {
	if d.closed.Load() {
		return ErrDirectoryClosed
	}
	return WrapIO("rename", from, d.fs.Rename(d.path(from), d.path(to)))
}

func (d *FSDirectory) CreateOutput(_ context.Context, name string) (Output, error) {
	if d.closed.Load() {
		return nil, ErrDirectoryClosed
	}
	f, err := d.fs.CreateTemp(d.root, tempPrefix+name+"-*")
	if err != nil {
		return nil, WrapIO("create", name, err)
	}
	sink := &fileSink{fs: d.fs, file: f, target: d.path(name)}
	return NewBufferedOutput(name, sink, d.cfg.OutputBufferSize, WithOutputMetrics(d.metrics)), nil
}

func (d *FSDirectory) OpenInput(_ context.Context, name string) (Input, error) {
	if d.closed.Load() {
		return nil, ErrDirectoryClosed
	}
	var src Source
	if d.useMMap {
		hint := mmap.Random
		if strings.HasPrefix(name, "segments") {
			hint = mmap.Sequential
		}
		m, err := mmap.Open(d.path(name), hint)
		if err != nil {
			return nil, WrapIO("open", name, err)
		}
		src = m
	} else {
		f, err := d.fs.OpenFile(d.path(name), os.O_RDONLY, 0)
		if err != nil {
			return nil, WrapIO("open", name, err)
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, WrapIO("open", name, err)
		}
		src = fileSource{File: f, size: fi.Size()}
	}
	return NewBufferedInput(name, src, d.cfg.InputBufferSize, WithInputMetrics(d.metrics)), nil
}

func (d *FSDirectory) MakeLock(name string) Lock {
	return &fsLock{dir: d, name: name}
}

func (d *FSDirectory) Close() error {
	d.closed.Store(true)
	return nil
}

type fileSource struct {
	fs.File
	size int64
}

func (s fileSource) Size() int64 { return s.size }

// fileSink writes to a temporary file that replaces target on Commit.
type fileSink struct {
	fs     fs.FileSystem
	file   fs.File
	target string
	size   int64
}

func (s *fileSink) WriteAt(p []byte, off int64) (int, error) {
	n, err := s.file.WriteAt(p, off)
	if end := off + int64(n); end > s.size {
		s.size = end
	}
	return n, err
}

func (s *fileSink) Commit(length int64) error {
	tmp := s.file.Name()
	err := func() error {
		if s.size != length {
			if err := s.file.Truncate(length); err != nil {
				return err
			}
		}
		if err := s.file.Sync(); err != nil {
			return err
		}
		err := s.file.Close()
		s.file = nil
		if err != nil {
			return err
		}
		return s.fs.Rename(tmp, s.target)
	}()
	if err != nil {
		return errors.Join(err, s.cleanup(tmp))
	}
	return nil
}

func (s *fileSink) Discard() error {
	return s.cleanup(s.file.Name())
}

func (s *fileSink) cleanup(tmp string) error {
	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file = nil
	}
	if rmErr := s.fs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

// fsLock is an exclusive-create marker file.
type fsLock struct {
	dir  *FSDirectory
	name string
	held bool
}

func (l *fsLock) Obtain(_ context.Context) (bool, error) {
	f, err := l.dir.fs.OpenFile(l.dir.path(l.name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, WrapIO("lock", l.name, err)
	}
	_, err = fmt.Fprintf(f, "pid=%d\n", os.Getpid())
	if err = errors.Join(err, f.Close()); err != nil {
		_ = l.dir.fs.Remove(l.dir.path(l.name))
		return false, WrapIO("lock", l.name, err)
	}
	l.held = true
	return true, nil
}

func (l *fsLock) Release(_ context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	return WrapIO("unlock", l.name, l.dir.fs.Remove(l.dir.path(l.name)))
}

func (l *fsLock) IsLocked(_ context.Context) (bool, error) {
	_, err := l.dir.fs.Stat(l.dir.path(l.name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, WrapIO("lock", l.name, err)
}
