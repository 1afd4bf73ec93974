package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/sqldir/internal/resource"
	"github.com/hupe1980/sqldir/store"
)

// Directory implements store.Directory for S3. Every file is one object
// below the configured prefix.
type Directory struct {
	client   Client
	bucket   string
	prefix   string
	upload   UploadConfig
	uploader *manager.Uploader
	buffers  store.BufferConfig
	spill    string
	rc       *resource.Controller
	metrics  store.MetricsObserver
	logger   *slog.Logger

	ddb       DDBClient
	lockTable string
	owner     string

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

// WithUploadConfig configures the multipart uploader.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(d *Directory) { d.upload = cfg }
}

// WithDynamoDBLock stores locks as items of table instead of marker objects.
// The table needs a string partition key named lock_key.
func WithDynamoDBLock(client DDBClient, table string) Option {
	return func(d *Directory) {
		d.ddb = client
		d.lockTable = table
	}
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
func NewDirectory(client Client, bucket string, opts ...Option) *Directory {
	d := &Directory{
		client:  client,
		bucket:  bucket,
		upload:  DefaultUploadConfig(),
		buffers: store.DefaultBufferConfig(),
		metrics: store.NoopMetricsObserver{},
		logger:  slog.New(slog.DiscardHandler),
		owner:   newOwnerID(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.uploader = newUploader(client, d.upload)
	return d
}

// Config locates a bucket for New.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint for S3-compatible services and
	// switches to path-style addressing.
	Endpoint string
	// LockTable is the DynamoDB table of locks. Empty uses marker objects.
	LockTable string
}

// New creates a directory from the default AWS configuration chain.
func New(ctx context.Context, cfg Config, opts ...Option) (*Directory, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	base := []Option{WithPrefix(cfg.Prefix)}
	if cfg.LockTable != "" {
		base = append(base, WithDynamoDBLock(dynamodb.NewFromConfig(awsCfg), cfg.LockTable))
	}
	return NewDirectory(client, cfg.Bucket, append(base, opts...)...), nil
}

// Bucket returns the bucket name.
func (d *Directory) Bucket() string { return d.bucket }

func (d *Directory) key(name string) string {
	return path.Join(d.prefix, name)
}

func (d *Directory) check() error {
	if d.closed.Load() {
		return store.ErrDirectoryClosed
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// wrap maps missing objects to store.ErrNotFound and everything else to an
// IOError.
func wrap(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	return store.WrapIO(op, name, err)
}

func (d *Directory) head(ctx context.Context, name string) (*s3.HeadObjectOutput, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
	})
	if err != nil {
		return nil, wrap("head", name, err)
	}
	return head, nil
}

func (d *Directory) ListAll(ctx context.Context) ([]string, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	root := d.key("")
	fullPrefix := root
	if fullPrefix != "" && fullPrefix != "." {
		fullPrefix = strings.TrimSuffix(fullPrefix, "/") + "/"
	} else {
		fullPrefix = ""
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, store.WrapIO("list", fullPrefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), fullPrefix)
			// Nested keys belong to other directories.
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Directory) FileExists(ctx context.Context, name string) (bool, error) {
	_, err := d.head(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Directory) FileLength(ctx context.Context, name string) (int64, error) {
	head, err := d.head(ctx, name)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (d *Directory) FileModified(ctx context.Context, name string) (time.Time, error) {
	head, err := d.head(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(head.LastModified), nil
}

// DeleteFile removes the object. S3 deletes are idempotent, so the object
// is looked up first to report missing files.
func (d *Directory) DeleteFile(ctx context.Context, name string) error {
	if _, err := d.head(ctx, name); err != nil {
		d.metrics.OnDelete(name, err)
		return err
	}
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
	})
	err = wrap("delete", name, err)
	d.metrics.OnDelete(name, err)
	return err
}

// RenameFile copies from to to and deletes from.
func (d *Directory) RenameFile(ctx context.Context, from, to string) error {
	if _, err := d.head(ctx, from); err != nil {
		return err
	}
	source := (&url.URL{Path: d.bucket + "/" + d.key(from)}).EscapedPath()
	if _, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(d.key(to)),
		CopySource: aws.String(source),
	}); err != nil {
		return wrap("rename", from, err)
	}
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(from)),
	})
	return wrap("rename", from, err)
}

// CreateOutput buffers and spills locally and uploads the object on close.
// ctx bounds the upload.
func (d *Directory) CreateOutput(ctx context.Context, name string) (store.Output, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	publish := func(r io.Reader, length int64) error {
		input := &s3.PutObjectInput{
			Bucket:        aws.String(d.bucket),
			Key:           aws.String(d.key(name)),
			Body:          r,
			ContentLength: aws.Int64(length),
		}
		if d.upload.EnableChecksum {
			input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
		}
		if _, err := d.uploader.Upload(ctx, input); err != nil {
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
	head, err := d.head(ctx, name)
	if err != nil {
		return nil, err
	}
	src := &objectSource{
		ctx:    ctx,
		client: d.client,
		bucket: d.bucket,
		key:    d.key(name),
		name:   name,
		size:   aws.ToInt64(head.ContentLength),
	}
	return store.NewBufferedInput(name, src, d.buffers.InputBufferSize, store.WithInputMetrics(d.metrics)), nil
}

// MakeLock returns a DynamoDB lock when a lock table is configured and a
// marker object lock otherwise.
func (d *Directory) MakeLock(name string) store.Lock {
	if d.ddb != nil {
		return &dynamoLock{
			dir:   d,
			key:   "s3://" + d.bucket + "/" + d.key(name),
			owner: d.owner,
		}
	}
	return store.NewMarkerLock(d, name)
}

// Close marks the directory closed. The client stays usable.
func (d *Directory) Close() error {
	d.closed.Store(true)
	return nil
}

// objectSource reads ranges of one object.
type objectSource struct {
	ctx    context.Context
	client Client
	bucket string
	key    string
	name   string
	size   int64
}

func (s *objectSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= s.size {
		end = s.size - 1
	}

	resp, err := s.client.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, wrap("read", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	want := int(end - off + 1)
	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, store.WrapIO("read", s.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *objectSource) Size() int64  { return s.size }
func (s *objectSource) Close() error { return nil }
