package commit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/store"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock stamped into descriptors.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// Store reads and writes commit descriptors in a directory.
type Store struct {
	dir    store.Directory
	now    func() time.Time
	logger *slog.Logger

	mu  sync.Mutex
	gen int64 // newest generation written or seen; 0 until loaded
}

// NewStore returns a Store over dir.
func NewStore(dir store.Directory, opts ...StoreOption) *Store {
	s := &Store{
		dir:    dir,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Directory returns the underlying directory.
func (s *Store) Directory() store.Directory { return s.dir }

// Write writes the descriptor of the next generation and then points
// segments.gen at it. The descriptor is visible once Write returns.
func (s *Store) Write(ctx context.Context, files []string, segments []merge.SegmentInfo) (*Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestGeneration(ctx)
	if err != nil && !errors.Is(err, ErrNoCommit) {
		return nil, err
	}
	d := &Descriptor{
		Generation: max(latest, s.gen) + 1,
		CreatedAt:  s.now(),
		Files:      slices.Clone(files),
		Segments:   slices.Clone(segments),
	}

	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	if err := s.writeFile(ctx, d.Name(), buf.Bytes()); err != nil {
		return nil, err
	}
	s.gen = d.Generation

	// segments.gen only speeds up lookup; a stale one is corrected by listing.
	if err := s.writeFile(ctx, GenFileName, encodeGen(d.Generation)); err != nil {
		s.logger.WarnContext(ctx, "failed to write generation file", "generation", d.Generation, "error", err)
	}
	s.logger.DebugContext(ctx, "commit written", "name", d.Name(), "files", len(d.Files))
	return &Commit{desc: d, store: s}, nil
}

func (s *Store) writeFile(ctx context.Context, name string, data []byte) error {
	out, err := s.dir.CreateOutput(ctx, name)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return errors.Join(err, store.Abort(out))
	}
	return out.Close()
}

func (s *Store) readFile(ctx context.Context, name string) ([]byte, error) {
	in, err := s.dir.OpenInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return io.ReadAll(in)
}

// Read reads the descriptor of generation gen.
func (s *Store) Read(ctx context.Context, gen int64) (*Descriptor, error) {
	name := FileName(gen)
	data, err := s.readFile(ctx, name)
	if err != nil {
		return nil, err
	}
	d, err := ReadDescriptor(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if d.Generation != gen {
		return nil, fmt.Errorf("%s: %w: holds generation %d", name, ErrCorrupt, d.Generation)
	}
	return d, nil
}

// LatestGeneration returns the newest generation in the directory.
// It returns ErrNoCommit if there is none.
func (s *Store) LatestGeneration(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestGeneration(ctx)
}

func (s *Store) latestGeneration(ctx context.Context) (int64, error) {
	names, err := s.dir.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, name := range names {
		if gen, ok := ParseGeneration(name); ok {
			latest = max(latest, gen)
		}
	}
	if data, err := s.readFile(ctx, GenFileName); err == nil {
		if gen, err := decodeGen(data); err == nil {
			latest = max(latest, gen)
		} else {
			s.logger.WarnContext(ctx, "ignoring generation file", "error", err)
		}
	}
	if latest == 0 {
		return 0, ErrNoCommit
	}
	return latest, nil
}

// Latest returns the newest readable commit.
func (s *Store) Latest(ctx context.Context) (*Commit, error) {
	commits, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, ErrNoCommit
	}
	return commits[len(commits)-1], nil
}

// List returns the readable commits, oldest first. Descriptors that cannot
// be read are skipped and logged.
func (s *Store) List(ctx context.Context) ([]*Commit, error) {
	names, err := s.dir.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var gens []int64
	for _, name := range names {
		if gen, ok := ParseGeneration(name); ok {
			gens = append(gens, gen)
		}
	}
	slices.Sort(gens)

	commits := make([]*Commit, 0, len(gens))
	for _, gen := range gens {
		d, err := s.Read(ctx, gen)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between listing and reading.
			continue
		}
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable commit", "name", FileName(gen), "error", err)
			continue
		}
		commits = append(commits, &Commit{desc: d, store: s})
	}

	s.mu.Lock()
	if n := len(gens); n > 0 {
		s.gen = max(s.gen, gens[n-1])
	}
	s.mu.Unlock()
	return commits, nil
}

// Commit is one commit point. It implements retention.CommitPoint.
type Commit struct {
	desc    *Descriptor
	store   *Store
	deleted bool
}

// Name returns the descriptor file name.
func (c *Commit) Name() string { return c.desc.Name() }

// Descriptor returns the decoded descriptor.
func (c *Commit) Descriptor() *Descriptor { return c.desc }

// Generation returns the commit generation.
func (c *Commit) Generation() int64 { return c.desc.Generation }

// Segments returns the segments of the commit.
func (c *Commit) Segments() []merge.SegmentInfo { return c.desc.Segments }

// Files returns the referenced files including the descriptor itself.
func (c *Commit) Files() []string {
	return append(slices.Clone(c.desc.Files), c.desc.Name())
}

// LastModified returns the modification time of the descriptor file.
func (c *Commit) LastModified(ctx context.Context) (time.Time, error) {
	return c.store.dir.FileModified(ctx, c.desc.Name())
}

// Delete flags the commit. The Deleter removes its files.
func (c *Commit) Delete() { c.deleted = true }

// IsDeleted reports whether Delete was called.
func (c *Commit) IsDeleted() bool { return c.deleted }

func (c *Commit) String() string { return c.desc.Name() }
