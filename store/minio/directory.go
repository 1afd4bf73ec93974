package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/sqldir/internal/resource"
	"github.com/hupe1980/sqldir/store"
)

// Directory implements store.Directory for MinIO.
type Directory struct {
	client  *minio.Client
	bucket  string
	prefix  string
	buffers store.BufferConfig
	spill   string
	rc      *resource.Controller
	metrics store.MetricsObserver
	logger  *slog.Logger

	closed atomic.Bool
}

var _ store.Directory = (*Directory)(nil)

// Option configures a Directory.
type Option func(*Directory)

// WithPrefix sets the key prefix of all objects (e.g. "my-index/").
func WithPrefix(prefix string) Option {
	return func(d *Directory) { d.prefix = prefix }
}

// WithBufferConfig sets the stream buffers and the spill threshold.
func WithBufferConfig(cfg store.BufferConfig) Option {
	return func(d *Directory) { d.buffers = cfg.WithDefaults() }
}

// WithSpillDir sets the directory of spill files.
func WithSpillDir(dir string) Option {
	return func(d *Directory) { d.spill = dir }
}

// WithResources accounts output memory and throttles uploads through rc.
func WithResources(rc *resource.Controller) Option {
	return func(d *Directory) { d.rc = rc }
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

// NewDirectory creates a directory over bucket.
func NewDirectory(client *minio.Client, bucket string, opts ...Option) *Directory {
	d := &Directory{
		client:  client,
		bucket:  bucket,
		buffers: store.DefaultBufferConfig(),
		metrics: store.NoopMetricsObserver{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bucket returns the bucket name.
func (d *Directory) Bucket() string { return d.bucket }

func (d *Directory) key(name string) string {
	return path.Join(d.prefix, name)
}

// listPrefix is the prefix of direct children, with a trailing slash.
func (d *Directory) listPrefix() string {
	p := strings.Trim(d.prefix, "/")
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

func (d *Directory) check() error {
	if d.closed.Load() {
		return store.ErrDirectoryClosed
	}
	return nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func wrap(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	return store.WrapIO(op, name, err)
}

func (d *Directory) stat(ctx context.Context, name string) (minio.ObjectInfo, error) {
	if err := d.check(); err != nil {
		return minio.ObjectInfo{}, err
	}
	info, err := d.client.StatObject(ctx, d.bucket, d.key(name), minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, wrap("stat", name, err)
	}
	return info, nil
}

func (d *Directory) ListAll(ctx context.Context) ([]string, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	prefix := d.listPrefix()

	var names []string
	for obj := range d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	}) {
		if obj.Err != nil {
			return nil, store.WrapIO("list", prefix, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		// Common prefixes end in a slash and belong to nested directories.
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
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
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (d *Directory) FileModified(ctx context.Context, name string) (time.Time, error) {
	info, err := d.stat(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return info.LastModified, nil
}

// DeleteFile removes the object. RemoveObject succeeds for missing keys, so
// the object is looked up first.
func (d *Directory) DeleteFile(ctx context.Context, name string) error {
	if _, err := d.stat(ctx, name); err != nil {
		d.metrics.OnDelete(name, err)
		return err
	}
	err := wrap("delete", name, d.client.RemoveObject(ctx, d.bucket, d.key(name), minio.RemoveObjectOptions{}))
	d.metrics.OnDelete(name, err)
	return err
}

// RenameFile copies from to to on the server and removes from.
func (d *Directory) RenameFile(ctx context.Context, from, to string) error {
	if _, err := d.stat(ctx, from); err != nil {
		return err
	}
	_, err := d.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: d.bucket, Object: d.key(to)},
		minio.CopySrcOptions{Bucket: d.bucket, Object: d.key(from)},
	)
	if err != nil {
		return wrap("rename", from, err)
	}
	return wrap("rename", from, d.client.RemoveObject(ctx, d.bucket, d.key(from), minio.RemoveObjectOptions{}))
}

// CreateOutput buffers and spills locally and uploads the object on close.
// ctx bounds the upload.
func (d *Directory) CreateOutput(ctx context.Context, name string) (store.Output, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	publish := func(r io.Reader, length int64) error {
		_, err := d.client.PutObject(ctx, d.bucket, d.key(name), r, length, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			d.logger.ErrorContext(ctx, "upload failed", "file", name, "size", length, "error", err)
			return err
		}
		d.logger.DebugContext(ctx, "file uploaded", "file", name, "size", length)
		return nil
	}
	out := store.NewSpillingOutput(name, d.buffers, publish,
		store.WithSpillDir(d.spill),
		store.WithResources(d.rc),
		store.WithSpillMetrics(d.metrics),
	)
	return store.NewRateLimitedOutput(ctx, name, out, d.rc), nil
}

// OpenInput opens an object. Each buffer refill is one ranged GET bounded
// by ctx.
func (d *Directory) OpenInput(ctx context.Context, name string) (store.Input, error) {
	info, err := d.stat(ctx, name)
	if err != nil {
		return nil, err
	}
	src := &objectSource{
		ctx:    ctx,
		client: d.client,
		bucket: d.bucket,
		key:    d.key(name),
		name:   name,
		size:   info.Size,
	}
	return store.NewBufferedInput(name, src, d.buffers.InputBufferSize, store.WithInputMetrics(d.metrics)), nil
}

// MakeLock returns a marker object lock.
func (d *Directory) MakeLock(name string) store.Lock {
	return store.NewMarkerLock(d, name)
}

// Close marks the directory closed. The client stays usable.
func (d *Directory) Close() error {
	d.closed.Store(true)
	return nil
}

type objectSource struct {
	ctx    context.Context
	client *minio.Client
	bucket string
	key    string
	name   string
	size   int64
}

func (s *objectSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), s.size) - 1

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return 0, store.WrapIO("read", s.name, err)
	}
	obj, err := s.client.GetObject(s.ctx, s.bucket, s.key, opts)
	if err != nil {
		return 0, wrap("read", s.name, err)
	}
	defer func() { _ = obj.Close() }()

	n, err := io.ReadFull(obj, p[:end-off+1])
	if err != nil {
		return n, wrap("read", s.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *objectSource) Size() int64  { return s.size }
func (s *objectSource) Close() error { return nil }
