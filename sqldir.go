package sqldir

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sqldir/commit"
	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/internal/cache"
	"github.com/hupe1980/sqldir/internal/resource"
	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/retention"
	"github.com/hupe1980/sqldir/sqlstore"
	"github.com/hupe1980/sqldir/store"
)

const (
	// WriteLockName is the lock a writable Store holds while open.
	WriteLockName = "write.lock"

	// DefaultDialect is used when store.dialect is unset.
	DefaultDialect = "sqlite"

	// DefaultTable is used when store.table is unset.
	DefaultTable = "index_files"
)

// Store is an index directory together with its commit history and the
// retention and merge policies resolved for it.
//
// A writable Store holds the directory write lock until it is closed. All
// methods are safe for concurrent use.
type Store struct {
	dir       store.Directory
	ownsDir   bool
	commits   *commit.Store
	deleter   *commit.Deleter // nil when read-only
	lock      store.Lock      // nil when read-only
	retention retention.Policy
	merge     merge.Policy
	logger    *Logger

	mu     sync.Mutex
	closed bool
}

// Open builds a database-backed directory over db from the store.* settings
// and opens it like OpenDirectory. The directory is closed with the Store;
// db is not.
//
// Recognized settings: store.dialect (sqlite, postgres, mysql), store.table,
// store.autoCreate (default true), the default and per-pattern file
// configuration, store.deleteMarkDeletedDelta, store.blockCacheBytes,
// store.memoryLimitBytes and store.ioLimitBytesPerSec.
//
// Every setting, including the retention and merge policies, is validated
// before the table is created.
func Open(ctx context.Context, db sqlstore.DB, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns)

	dir, table, autoCreate, err := newSQLDirectory(db, o)
	if err != nil {
		o.logger.LogOpen(ctx, 0, "", "", err)
		return nil, err
	}
	// Policies depend only on settings and the directory's suggestions,
	// so a bad setting fails before any DDL runs.
	rp, mp, err := resolvePolicies(dir, o)
	if err != nil {
		o.logger.LogOpen(ctx, 0, "", "", err)
		return nil, errors.Join(err, dir.Close())
	}
	if err := ensureTable(ctx, db, table, autoCreate); err != nil {
		o.logger.LogOpen(ctx, 0, "", "", err)
		return nil, errors.Join(err, dir.Close())
	}
	s, err := open(ctx, dir, rp, mp, o)
	if err != nil {
		_ = dir.Close()
		return nil, err
	}
	s.ownsDir = true
	return s, nil
}

// OpenDirectory opens a Store over any directory. It resolves the retention
// and merge policies from the retention.* and merge.* settings, falling back
// to the directory's suggestions, takes the write lock and lets the
// retention policy inspect the existing commits.
//
// Configuration errors are returned before the directory is touched.
func OpenDirectory(ctx context.Context, dir store.Directory, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns)
	rp, mp, err := resolvePolicies(dir, o)
	if err != nil {
		o.logger.LogOpen(ctx, 0, "", "", err)
		return nil, err
	}
	return open(ctx, dir, rp, mp, o)
}

// newSQLDirectory validates the store.* settings and builds the directory
// without touching the database.
func newSQLDirectory(db sqlstore.DB, o options) (*sqlstore.Directory, *sqlstore.Table, bool, error) {
	s := o.settings

	dialect, err := sqlstore.LookupDialect(s.GetString(config.KeyDialect, DefaultDialect))
	if err != nil {
		return nil, nil, false, err
	}
	var tableOpts []sqlstore.TableOption
	if o.clock != nil {
		tableOpts = append(tableOpts, sqlstore.WithClock(o.clock))
	}
	table, err := sqlstore.NewTable(s.GetString(config.KeyTable, DefaultTable), dialect, tableOpts...)
	if err != nil {
		return nil, nil, false, err
	}
	files, err := sqlstore.FileConfigsFromSettings(s)
	if err != nil {
		return nil, nil, false, err
	}
	autoCreate, err := s.GetBool(config.KeyAutoCreate, true)
	if err != nil {
		return nil, nil, false, err
	}
	delta, err := s.GetDuration(config.KeyDeleteMarkDeletedDelta, sqlstore.DefaultDeleteMarkDeletedDelta)
	if err != nil {
		return nil, nil, false, err
	}
	memLimit, err := s.GetBytes(config.KeyMemoryLimitBytes, 0)
	if err != nil {
		return nil, nil, false, err
	}
	ioLimit, err := s.GetBytes(config.KeyIOLimitBytesPerSec, 0)
	if err != nil {
		return nil, nil, false, err
	}
	cacheBytes, err := s.GetBytes(config.KeyBlockCacheBytes, 0)
	if err != nil {
		return nil, nil, false, err
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   memLimit,
		IOLimitBytesPerSec: ioLimit,
	})
	dirOpts := []sqlstore.Option{
		sqlstore.WithFileConfigs(files),
		sqlstore.WithResources(rc),
		sqlstore.WithDeleteMarkDeletedDelta(delta),
		sqlstore.WithMetrics(o.metrics),
		sqlstore.WithLogger(o.logger.WithTable(table.Name()).Logger),
		sqlstore.WithSpillDir(o.spillDir),
	}
	if cacheBytes > 0 {
		dirOpts = append(dirOpts, sqlstore.WithBlockCache(cache.NewShardedLRUBlockCache(cacheBytes, rc)))
	}
	return sqlstore.NewDirectory(db, table, dirOpts...), table, autoCreate, nil
}

func ensureTable(ctx context.Context, db sqlstore.DB, table *sqlstore.Table, autoCreate bool) error {
	if autoCreate {
		return table.Create(ctx, db)
	}
	exists, err := table.Exists(ctx, db)
	if err != nil {
		return err
	}
	if !exists {
		return config.Errorf(config.KeyAutoCreate, "table %s does not exist", table.Name()).WithValue("false")
	}
	return nil
}

func resolvePolicies(dir store.Directory, o options) (retention.Policy, merge.Policy, error) {
	var suggestion retention.Suggestion
	if sg, ok := dir.(retention.Suggester); ok {
		suggestion = sg.SuggestRetention()
	}
	rp, err := o.retentionRegistry.New(o.settings.Sub(config.KeyRetention), suggestion)
	if err != nil {
		return nil, nil, err
	}
	var defaults merge.Defaults
	if sg, ok := dir.(merge.Suggester); ok {
		defaults = sg.MergeDefaults()
	}
	mp, err := o.mergeRegistry.New(o.settings.Sub(config.KeyMerge), defaults)
	if err != nil {
		return nil, nil, err
	}
	return rp, mp, nil
}

func open(ctx context.Context, dir store.Directory, rp retention.Policy, mp merge.Policy, o options) (*Store, error) {
	s := &Store{dir: dir, logger: o.logger, retention: rp, merge: mp}

	storeOpts := []commit.StoreOption{commit.WithStoreLogger(o.logger.Logger)}
	if o.clock != nil {
		storeOpts = append(storeOpts, commit.WithClock(o.clock))
	}
	s.commits = commit.NewStore(dir, storeOpts...)

	if o.readOnly {
		commits, err := s.commits.List(ctx)
		s.logger.LogOpen(ctx, len(commits), fmt.Sprint(rp), fmt.Sprint(mp), err)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	lock := dir.MakeLock(WriteLockName)
	if err := obtain(ctx, lock, o.lockTimeout); err != nil {
		err = translateError(err)
		s.logger.LogOpen(ctx, 0, "", "", err)
		return nil, err
	}
	s.lock = lock

	s.deleter = commit.NewDeleter(s.commits, rp,
		commit.WithLogger(o.logger.Logger),
		commit.WithDeleteConcurrency(o.deleteConcurrency),
	)
	if err := s.deleter.Init(ctx); err != nil {
		s.logger.LogOpen(ctx, 0, "", "", err)
		return nil, errors.Join(err, lock.Release(ctx))
	}
	s.logger.LogOpen(ctx, len(s.deleter.Commits()), fmt.Sprint(rp), fmt.Sprint(mp), nil)
	return s, nil
}

func obtain(ctx context.Context, lock store.Lock, timeout time.Duration) error {
	if timeout > 0 {
		return store.ObtainWithin(ctx, lock, timeout)
	}
	ok, err := lock.Obtain(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrLockObtainFailed
	}
	return nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) writable() error {
	if err := s.check(); err != nil {
		return err
	}
	if s.deleter == nil {
		return fmt.Errorf("%w: store is read-only", store.ErrInvalidState)
	}
	return nil
}

// Directory returns the underlying directory.
func (s *Store) Directory() store.Directory { return s.dir }

// RetentionPolicy returns the resolved retention policy.
func (s *Store) RetentionPolicy() retention.Policy { return s.retention }

// MergePolicy returns the resolved merge policy.
func (s *Store) MergePolicy() merge.Policy { return s.merge }

// Commit records a new commit point referencing files and segments. Every
// file must already be closed in the directory. Older commits are then
// offered to the retention policy; its failures are logged, not returned.
func (s *Store) Commit(ctx context.Context, files []string, segments []merge.SegmentInfo) (*commit.Commit, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	c, err := s.deleter.Commit(ctx, files, segments)
	if err != nil {
		s.logger.LogCommit(ctx, 0, len(files), err)
		return nil, err
	}
	s.logger.LogCommit(ctx, c.Generation(), len(files), nil)
	return c, nil
}

// Commits returns the live commit points, oldest first.
func (s *Store) Commits(ctx context.Context) ([]*commit.Commit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.deleter == nil {
		return s.commits.List(ctx)
	}
	return s.deleter.Commits(), nil
}

// Latest returns the newest commit point or ErrNoCommit.
func (s *Store) Latest(ctx context.Context) (*commit.Commit, error) {
	commits, err := s.Commits(ctx)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, ErrNoCommit
	}
	return commits[len(commits)-1], nil
}

// FindMerges asks the merge policy which segments of the newest commit
// should be merged. It returns nil without a commit or when nothing needs
// merging.
func (s *Store) FindMerges(ctx context.Context) (*merge.Specification, error) {
	latest, err := s.Latest(ctx)
	if errors.Is(err, ErrNoCommit) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	segments := latest.Segments()
	spec := s.merge.FindMerges(segments)
	n := 0
	if spec != nil {
		n = len(spec.Merges)
	}
	s.logger.LogMerges(ctx, len(segments), n)
	return spec, nil
}

// Purger is implemented by directories that soft-delete files.
type Purger interface {
	// DeleteMarkedDeleted removes soft-deleted files older than the
	// directory's grace period and returns how many were removed.
	DeleteMarkedDeleted(ctx context.Context) (int64, error)
}

// Purge physically removes soft-deleted files whose grace period elapsed.
// It returns 0 for directories that delete files immediately.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	p, ok := s.dir.(Purger)
	if !ok {
		return 0, nil
	}
	n, err := p.DeleteMarkedDeleted(ctx)
	s.logger.LogPurge(ctx, n, err)
	return n, err
}

// Close releases the write lock and, for stores created by Open, closes the
// directory. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx := context.Background()
	var errs []error
	if s.lock != nil {
		errs = append(errs, s.lock.Release(ctx))
	}
	if s.ownsDir {
		errs = append(errs, s.dir.Close())
	}
	err := errors.Join(errs...)
	s.logger.LogClose(ctx, err)
	return err
}
