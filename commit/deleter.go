package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/retention"
	"github.com/hupe1980/sqldir/store"
)

// DefaultDeleteConcurrency bounds the concurrent file deletions.
const DefaultDeleteConcurrency = 8

// DefaultIndexFilePattern matches segment files eligible for removal when
// no commit references them at Init.
const DefaultIndexFilePattern = "_*"

// DeleterOption configures a Deleter.
type DeleterOption func(*Deleter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DeleterOption {
	return func(d *Deleter) {
		d.logger = l
	}
}

// WithDeleteConcurrency bounds concurrent deletions. Values below 1 are ignored.
func WithDeleteConcurrency(n int) DeleterOption {
	return func(d *Deleter) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithIndexFilePattern sets the doublestar pattern of files that Init
// removes when no commit references them. An empty pattern disables the
// cleanup.
func WithIndexFilePattern(pattern string) DeleterOption {
	return func(d *Deleter) {
		d.pattern = pattern
	}
}

// Deleter keeps a reference count per file over the live commits and
// removes a file once no commit references it. The retention policy is
// consulted when the deleter starts and after every commit; its failures
// are logged and never fail the commit.
//
// A Deleter expects to be the only writer of commits to its directory;
// callers hold the directory write lock.
type Deleter struct {
	store       *Store
	policy      retention.Policy
	logger      *slog.Logger
	concurrency int
	pattern     string

	mu      sync.Mutex
	refs    map[string]int
	commits []*Commit
	// pending holds files whose deletion failed; retried on the next commit.
	pending []string
}

// NewDeleter returns a deleter over the commits in s.
func NewDeleter(s *Store, policy retention.Policy, opts ...DeleterOption) *Deleter {
	d := &Deleter{
		store:       s,
		policy:      policy,
		logger:      slog.New(slog.DiscardHandler),
		concurrency: DefaultDeleteConcurrency,
		pattern:     DefaultIndexFilePattern,
		refs:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init loads every commit, removes unreferenced segment files and lets the
// policy drop commits. Only a failure to list the directory is returned.
func (d *Deleter) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	commits, err := d.store.List(ctx)
	if err != nil {
		return err
	}
	d.commits = commits
	clear(d.refs)
	for _, c := range commits {
		d.incRef(c.Files())
	}

	// Without a commit nothing proves a file abandoned.
	if d.pattern != "" && len(commits) > 0 {
		names, err := d.store.Directory().ListAll(ctx)
		if err != nil {
			return err
		}
		var unreferenced []string
		for _, name := range names {
			if ok, _ := doublestar.Match(d.pattern, name); ok && d.refs[name] == 0 {
				unreferenced = append(unreferenced, name)
			}
		}
		if len(unreferenced) > 0 {
			d.logger.InfoContext(ctx, "removing unreferenced files", "count", len(unreferenced))
			d.deleteFiles(ctx, unreferenced)
		}
	}

	d.applyPolicy(ctx, "init", d.policy.OnInit)
	d.logger.InfoContext(ctx, "deleter initialized", "commits", len(d.commits), "policy", fmt.Sprint(d.policy))
	return nil
}

// Commit writes a new commit referencing files and segments, then lets the
// policy drop older commits. Only a failure to write the commit is returned.
func (d *Deleter) Commit(ctx context.Context, files []string, segments []merge.SegmentInfo) (*Commit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.store.Write(ctx, files, segments)
	if err != nil {
		return nil, err
	}
	d.incRef(c.Files())
	d.commits = append(d.commits, c)

	if len(d.pending) > 0 {
		var retry []string
		for _, name := range d.pending {
			if d.refs[name] == 0 {
				retry = append(retry, name)
			}
		}
		d.pending = nil
		d.deleteFiles(ctx, retry)
	}
	d.applyPolicy(ctx, "commit", d.policy.OnCommit)
	return c, nil
}

// Commits returns the live commits, oldest first.
func (d *Deleter) Commits() []*Commit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.commits)
}

// RefCount returns the number of live commits referencing name.
func (d *Deleter) RefCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs[name]
}

// Pending returns the files whose deletion failed and will be retried.
func (d *Deleter) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.pending)
}

// applyPolicy runs one policy callback and removes the commits it flagged.
// Policy errors and panics are logged.
func (d *Deleter) applyPolicy(ctx context.Context, event string, fn func(context.Context, []retention.CommitPoint) error) {
	points := make([]retention.CommitPoint, len(d.commits))
	for i, c := range d.commits {
		points[i] = c
	}

	if err := safeCall(ctx, fn, points); err != nil {
		d.logger.WarnContext(ctx, "retention policy failed", "event", event, "policy", fmt.Sprint(d.policy), "error", err)
	}
	d.deleteCommits(ctx)
}

func safeCall(ctx context.Context, fn func(context.Context, []retention.CommitPoint) error, points []retention.CommitPoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, points)
}

// deleteCommits decrements the files of every flagged commit and deletes
// files that are no longer referenced.
func (d *Deleter) deleteCommits(ctx context.Context) {
	var (
		live []*Commit
		dead []string
	)
	for _, c := range d.commits {
		if !c.IsDeleted() {
			live = append(live, c)
			continue
		}
		d.logger.DebugContext(ctx, "deleting commit", "name", c.Name())
		dead = append(dead, d.decRef(c.Files())...)
	}
	d.commits = live
	d.deleteFiles(ctx, dead)
}

func (d *Deleter) incRef(files []string) {
	for _, f := range files {
		d.refs[f]++
	}
}

// decRef returns the files whose count dropped to zero.
func (d *Deleter) decRef(files []string) []string {
	var zero []string
	for _, f := range files {
		n, ok := d.refs[f]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(d.refs, f)
			zero = append(zero, f)
			continue
		}
		d.refs[f] = n - 1
	}
	return zero
}

// deleteFiles removes files concurrently. Failures other than a missing
// file are logged and queued for retry.
func (d *Deleter) deleteFiles(ctx context.Context, files []string) {
	if len(files) == 0 {
		return
	}
	dir := d.store.Directory()

	var (
		mu     sync.Mutex
		failed []string
		g      errgroup.Group
	)
	g.SetLimit(d.concurrency)
	for _, name := range files {
		g.Go(func() error {
			err := dir.DeleteFile(ctx, name)
			if err == nil || errors.Is(err, store.ErrNotFound) {
				return nil
			}
			d.logger.WarnContext(ctx, "failed to delete file", "file", name, "error", err)
			mu.Lock()
			failed = append(failed, name)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	d.pending = append(d.pending, failed...)
}
