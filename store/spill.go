package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/sqldir/internal/fs"
	"github.com/hupe1980/sqldir/internal/resource"
)

// DefaultSpillThreshold is the in-memory size above which an output spills.
const DefaultSpillThreshold = 1 << 20

const spillPattern = "sqldir-spill-*"

// OutputMode selects where a spilling output accumulates its bytes.
type OutputMode int

const (
	// RAMAndFile starts in memory and spills past the threshold.
	RAMAndFile OutputMode = iota
	// RAMOnly never spills.
	RAMOnly
	// FileOnly writes to a temporary file from the first flush on.
	FileOnly
)

func (m OutputMode) String() string {
	switch m {
	case RAMAndFile:
		return "ramandfile"
	case RAMOnly:
		return "ram"
	case FileOnly:
		return "file"
	default:
		return fmt.Sprintf("OutputMode(%d)", int(m))
	}
}

// ParseOutputMode parses "ram", "file" or "ramandfile" (case-insensitive).
func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ramandfile", "ram_and_file":
		return RAMAndFile, nil
	case "ram":
		return RAMOnly, nil
	case "file":
		return FileOnly, nil
	default:
		return 0, fmt.Errorf("unknown output mode %q", s)
	}
}

// BufferConfig sizes the streams of one file type.
type BufferConfig struct {
	InputBufferSize  int
	OutputBufferSize int
	// SpillThreshold is the number of bytes an output may hold in memory.
	SpillThreshold int64
	OutputMode     OutputMode
}

// DefaultBufferConfig returns the configuration used when nothing is set.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		InputBufferSize:  DefaultBufferSize,
		OutputBufferSize: DefaultBufferSize,
		SpillThreshold:   DefaultSpillThreshold,
		OutputMode:       RAMAndFile,
	}
}

// WithDefaults fills zero fields from DefaultBufferConfig.
func (c BufferConfig) WithDefaults() BufferConfig {
	d := DefaultBufferConfig()
	if c.InputBufferSize <= 0 {
		c.InputBufferSize = d.InputBufferSize
	}
	if c.OutputBufferSize <= 0 {
		c.OutputBufferSize = d.OutputBufferSize
	}
	if c.SpillThreshold <= 0 {
		c.SpillThreshold = d.SpillThreshold
	}
	return c
}

// PublishFunc persists the complete payload of a closed output with a single
// backend write. r yields exactly length bytes.
type PublishFunc func(r io.Reader, length int64) error

// SpillOption configures a spilling output.
type SpillOption func(*spillSink)

// WithSpillFileSystem sets the file system used for temporary files.
func WithSpillFileSystem(fsys fs.FileSystem) SpillOption {
	return func(s *spillSink) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// WithSpillDir sets the directory of temporary files. Empty means os.TempDir.
func WithSpillDir(dir string) SpillOption {
	return func(s *spillSink) { s.dir = dir }
}

// WithResources accounts in-memory buffers against rc. An output that is
// denied memory spills early.
func WithResources(rc *resource.Controller) SpillOption {
	return func(s *spillSink) { s.rc = rc }
}

// WithSpillMetrics sets the observer for flush, spill and commit events.
func WithSpillMetrics(m MetricsObserver) SpillOption {
	return func(s *spillSink) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewSpillingOutput returns an output that accumulates the file in memory
// and switches once to a temporary file when the configured threshold would
// be exceeded. publish is called exactly once, on a successful Close.
func NewSpillingOutput(name string, cfg BufferConfig, publish PublishFunc, opts ...SpillOption) *BufferedOutput {
	cfg = cfg.WithDefaults()
	s := &spillSink{
		name:      name,
		threshold: cfg.SpillThreshold,
		mode:      cfg.OutputMode,
		fs:        fs.Default,
		metrics:   NoopMetricsObserver{},
		publish:   publish,
	}
	for _, opt := range opts {
		opt(s)
	}
	return NewBufferedOutput(name, s, cfg.OutputBufferSize, WithOutputMetrics(s.metrics))
}

// spillSink holds the flushed bytes of one output, in memory until it spills.
type spillSink struct {
	name      string
	threshold int64
	mode      OutputMode
	fs        fs.FileSystem
	dir       string
	rc        *resource.Controller
	metrics   MetricsObserver
	publish   PublishFunc

	mem      []byte
	reserved int64
	file     fs.File
	size     int64
}

func (s *spillSink) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if s.file == nil && s.mustSpill(end) {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	if s.file == nil {
		if err := s.grow(end); err != nil {
			if s.mode == RAMOnly || !errors.Is(err, resource.ErrMemoryLimitExceeded) {
				return 0, err
			}
			if err := s.spill(); err != nil {
				return 0, err
			}
		}
	}
	if s.file != nil {
		if n, err := s.file.WriteAt(p, off); err != nil {
			return n, err
		}
	} else {
		copy(s.mem[off:end], p)
	}
	if end > s.size {
		s.size = end
	}
	return len(p), nil
}

func (s *spillSink) mustSpill(end int64) bool {
	switch s.mode {
	case FileOnly:
		return true
	case RAMOnly:
		return false
	default:
		return end > s.threshold
	}
}

// grow makes mem at least end bytes long, doubling capacity.
func (s *spillSink) grow(end int64) error {
	if end <= int64(len(s.mem)) {
		return nil
	}
	if end <= int64(cap(s.mem)) {
		s.mem = s.mem[:end]
		return nil
	}
	newCap := max(int64(cap(s.mem))*2, end)
	if s.mode == RAMAndFile {
		newCap = min(newCap, max(s.threshold, end))
	}
	if err := s.rc.AcquireMemory(newCap - s.reserved); err != nil {
		return err
	}
	s.reserved = newCap
	buf := make([]byte, end, newCap)
	copy(buf, s.mem)
	s.mem = buf
	return nil
}

func (s *spillSink) spill() error {
	f, err := s.fs.CreateTemp(s.dir, spillPattern)
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}
	if s.size > 0 {
		if _, err := f.WriteAt(s.mem[:s.size], 0); err != nil {
			return errors.Join(fmt.Errorf("spill: %w", err), s.removeFile(f))
		}
	}
	s.metrics.OnSpill(s.name, s.size)
	s.file = f
	s.releaseMemory()
	return nil
}

func (s *spillSink) releaseMemory() {
	s.rc.ReleaseMemory(s.reserved)
	s.reserved = 0
	s.mem = nil
}

func (s *spillSink) removeFile(f fs.File) error {
	name := f.Name()
	return errors.Join(f.Close(), s.fs.Remove(name))
}

// reader yields the first length bytes, zero-filled beyond the written data.
func (s *spillSink) reader(length int64) io.Reader {
	n := min(s.size, length)
	var r io.Reader
	if s.file != nil {
		r = io.NewSectionReader(s.file, 0, n)
	} else {
		r = bytes.NewReader(s.mem[:n])
	}
	if length > n {
		r = io.MultiReader(r, io.LimitReader(zeroReader{}, length-n))
	}
	return r
}

func (s *spillSink) Commit(length int64) error {
	err := s.publish(s.reader(length), length)
	return errors.Join(err, s.Discard())
}

func (s *spillSink) Discard() error {
	var err error
	if s.file != nil {
		err = s.removeFile(s.file)
		s.file = nil
	}
	s.releaseMemory()
	return err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
