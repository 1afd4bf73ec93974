package sqlstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hupe1980/sqldir/internal/cache"
	"github.com/hupe1980/sqldir/internal/codec"
	"github.com/hupe1980/sqldir/internal/fs"
	"github.com/hupe1980/sqldir/internal/resource"
	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/retention"
	"github.com/hupe1980/sqldir/store"
)

// DB is the connection pool a Directory runs on. *sql.DB satisfies it.
type DB interface {
	Querier
	TxBeginner
}

// Directory stores files as rows of a Table.
//
// Outputs buffer (and spill) locally and insert the complete payload in one
// transaction when closed. Inputs read ranges per buffer refill or the
// whole payload at open, depending on the file's FileConfig.
type Directory struct {
	db     DB
	table  *Table
	files  *FileConfigs
	fs     fs.FileSystem
	spill  string
	rc     *resource.Controller
	cache  cache.BlockCache
	delta  time.Duration
	now    func() time.Time
	logger *slog.Logger

	metrics store.MetricsObserver
	closed  atomic.Bool
}

var (
	_ store.Directory     = (*Directory)(nil)
	_ retention.Suggester = (*Directory)(nil)
	_ merge.Suggester     = (*Directory)(nil)
)

// Option configures a Directory.
type Option func(*Directory)

// WithFileConfigs sets the per-file-type configuration.
func WithFileConfigs(c *FileConfigs) Option {
	return func(d *Directory) {
		if c != nil {
			d.files = c
		}
	}
}

// WithBlockCache caches ranges read by per-buffer inputs.
func WithBlockCache(c cache.BlockCache) Option {
	return func(d *Directory) { d.cache = c }
}

// WithResources accounts output memory and block cache memory against rc.
func WithResources(rc *resource.Controller) Option {
	return func(d *Directory) { d.rc = rc }
}

// WithSpillDir sets the directory of spill files.
func WithSpillDir(dir string) Option {
	return func(d *Directory) { d.spill = dir }
}

// WithSpillFileSystem sets the file system of spill files.
func WithSpillFileSystem(fsys fs.FileSystem) Option {
	return func(d *Directory) {
		if fsys != nil {
			d.fs = fsys
		}
	}
}

// WithDeleteMarkDeletedDelta sets how long rows stay marked deleted before
// DeleteMarkedDeleted removes them.
func WithDeleteMarkDeletedDelta(delta time.Duration) Option {
	return func(d *Directory) { d.delta = delta }
}

// WithMetrics sets the metrics observer.
func WithMetrics(m store.MetricsObserver) Option {
	return func(d *Directory) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// DefaultDeleteMarkDeletedDelta is the default grace period of soft-deleted rows.
const DefaultDeleteMarkDeletedDelta = time.Hour

// NewDirectory returns a directory over table in db. The table must exist;
// see Table.Create.
func NewDirectory(db DB, table *Table, opts ...Option) *Directory {
	d := &Directory{
		db:      db,
		table:   table,
		files:   NewFileConfigs(DefaultFileConfig()),
		fs:      fs.Default,
		delta:   DefaultDeleteMarkDeletedDelta,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
		metrics: store.NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if table.now != nil {
		d.now = table.now
	}
	return d
}

// Table returns the underlying table.
func (d *Directory) Table() *Table { return d.table }

// querier returns the transaction bound to ctx or the pool.
func (d *Directory) querier(ctx context.Context) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return d.db
}

func (d *Directory) check() error {
	if d.closed.Load() {
		return store.ErrDirectoryClosed
	}
	return nil
}

func (d *Directory) ListAll(ctx context.Context) ([]string, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.table.List(ctx, d.querier(ctx))
}

// stat returns the row of a visible file.
func (d *Directory) stat(ctx context.Context, name string) (FileInfo, error) {
	if err := d.check(); err != nil {
		return FileInfo{}, err
	}
	info, err := d.table.Stat(ctx, d.querier(ctx), name)
	if err != nil {
		return FileInfo{}, err
	}
	if info.Deleted {
		return FileInfo{}, fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	return info, nil
}

func (d *Directory) FileExists(ctx context.Context, name string) (bool, error) {
	_, err := d.stat(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Directory) FileLength(ctx context.Context, name string) (int64, error) {
	info, err := d.stat(ctx, name)
	return info.Size, err
}

func (d *Directory) FileModified(ctx context.Context, name string) (time.Time, error) {
	info, err := d.stat(ctx, name)
	return info.Modified, err
}

// DeleteFile removes the row or marks it deleted, per the file's DeleteMode.
func (d *Directory) DeleteFile(ctx context.Context, name string) error {
	if err := d.check(); err != nil {
		return err
	}
	var err error
	if d.files.For(name).DeleteMode == DeleteMark {
		err = d.table.MarkDeleted(ctx, d.querier(ctx), name)
	} else {
		err = d.table.Delete(ctx, d.querier(ctx), name)
	}
	d.invalidate(name)
	d.metrics.OnDelete(name, err)
	return err
}

// DeleteMarkedDeleted purges rows that were marked deleted longer than the
// configured delta ago.
func (d *Directory) DeleteMarkedDeleted(ctx context.Context) (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	n, err := d.table.PurgeMarkedDeleted(ctx, d.querier(ctx), d.now().Add(-d.delta))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.InfoContext(ctx, "purged deleted files", "table", d.table.Name(), "count", n)
	}
	return n, nil
}

func (d *Directory) RenameFile(ctx context.Context, from, to string) error {
	if err := d.check(); err != nil {
		return err
	}
	err := d.table.Rename(ctx, d.querier(ctx), from, to)
	d.invalidate(from)
	d.invalidate(to)
	return err
}

// CreateOutput returns a spilling output whose Close inserts the payload.
// ctx bounds the insert and may carry a transaction (ContextWithTx).
func (d *Directory) CreateOutput(ctx context.Context, name string) (store.Output, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	cfg := d.files.For(name)
	publish := func(r io.Reader, length int64) error {
		if cfg.Codec != codec.None {
			// Block codecs need the whole payload on the heap.
			if err := d.rc.AcquireMemory(length); err != nil {
				return store.WrapIO("encode", name, err)
			}
			defer d.rc.ReleaseMemory(length)
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			encoded, err := cfg.Codec.Encode(data)
			if err != nil {
				return err
			}
			r = bytes.NewReader(encoded)
		}
		err := d.table.Insert(ctx, d.querier(ctx), name, length, r)
		d.invalidate(name)
		if err != nil {
			d.logger.ErrorContext(ctx, "insert failed", "file", name, "size", length, "error", err)
			return err
		}
		d.logger.DebugContext(ctx, "file written", "file", name, "size", length)
		return nil
	}
	out := store.NewSpillingOutput(name, cfg.BufferConfig, publish,
		store.WithSpillFileSystem(d.fs),
		store.WithSpillDir(d.spill),
		store.WithResources(d.rc),
		store.WithSpillMetrics(d.metrics),
	)
	return store.NewRateLimitedOutput(ctx, name, out, d.rc), nil
}

// OpenInput opens a visible file. ctx bounds every backend read of the input.
func (d *Directory) OpenInput(ctx context.Context, name string) (store.Input, error) {
	info, err := d.stat(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg := d.files.For(name)

	var src store.Source
	if cfg.FetchMode == FetchOnOpen {
		data, err := d.table.ReadAll(ctx, d.querier(ctx), name)
		if err != nil {
			return nil, err
		}
		if data, err = cfg.Codec.Decode(data); err != nil {
			return nil, store.WrapIO("decode", name, err)
		}
		src = payloadSource{data: data, size: info.Size}
	} else {
		src = &rangeSource{dir: d, ctx: ctx, name: name, size: info.Size}
	}
	return store.NewBufferedInput(name, src, cfg.InputBufferSize, store.WithInputMetrics(d.metrics)), nil
}

// MakeLock returns a lock backed by a marker row.
func (d *Directory) MakeLock(name string) store.Lock {
	return &rowLock{dir: d, name: name}
}

// Close marks the directory closed. The database pool stays open.
func (d *Directory) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *Directory) invalidate(name string) {
	if d.cache != nil {
		d.cache.InvalidateFile(name)
	}
}

// payloadSource serves a payload read at open. size is the declared length.
type payloadSource struct {
	data []byte
	size int64
}

func (s payloadSource) ReadAt(p []byte, off int64) (int, error) {
	return store.BytesSource(s.data).ReadAt(p, off)
}

func (s payloadSource) Size() int64  { return s.size }
func (s payloadSource) Close() error { return nil }

// rangeSource selects the requested range on every read, through the block
// cache when one is configured.
type rangeSource struct {
	dir  *Directory
	ctx  context.Context
	name string
	size int64
}

func (s *rangeSource) ReadAt(p []byte, off int64) (int, error) {
	key := cache.Key{Name: s.name, Offset: off}
	if c := s.dir.cache; c != nil {
		if b, ok := c.Get(key); ok && len(b) >= len(p) {
			return copy(p, b), nil
		}
	}
	data, err := s.dir.table.ReadRange(s.ctx, s.dir.querier(s.ctx), s.name, off, len(p))
	if err != nil {
		return 0, err
	}
	if c := s.dir.cache; c != nil && len(data) == len(p) {
		c.Set(key, data)
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *rangeSource) Size() int64  { return s.size }
func (s *rangeSource) Close() error { return nil }

// DefaultMaxMergeMB caps merged segments written to a row.
const DefaultMaxMergeMB = 256

// SuggestRetention keeps commits for the mark-deleted grace period. Readers
// that opened an older commit hold no lock on its rows, so commits expire by
// age instead of by count.
func (d *Directory) SuggestRetention() retention.Suggestion {
	return retention.Suggestion{
		Type: retention.NameExpirationTime,
		Settings: map[string]string{
			retention.KeyExpirationTimeInSeconds: strconv.FormatInt(int64(d.delta/time.Second), 10),
		},
	}
}

// MergeDefaults bounds merged segments so each file fits a single row write.
func (d *Directory) MergeDefaults() merge.Defaults {
	return merge.Defaults{merge.KeyMaxMergeMB: strconv.Itoa(DefaultMaxMergeMB)}
}
