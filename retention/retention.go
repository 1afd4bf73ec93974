package retention

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CommitPoint is one commit as seen by a Policy.
type CommitPoint interface {
	// Generation identifies the commit. Generations grow with every commit.
	Generation() int64
	// Files returns the names of the files the commit references.
	Files() []string
	// LastModified returns the modification time of the commit descriptor.
	LastModified(ctx context.Context) (time.Time, error)
	// Delete flags the commit for removal.
	Delete()
	// IsDeleted reports whether Delete was called.
	IsDeleted() bool
}

// Policy flags stale commit points. Errors are advisory: the caller logs
// them and the commit that triggered the call still succeeds.
type Policy interface {
	OnInit(ctx context.Context, commits []CommitPoint) error
	OnCommit(ctx context.Context, commits []CommitPoint) error
}

// deleteOldest flags all but the newest keep commits.
func deleteOldest(commits []CommitPoint, keep int) {
	for i := 0; i < len(commits)-keep; i++ {
		commits[i].Delete()
	}
}

// KeepAll never deletes a commit point.
type KeepAll struct{}

func (KeepAll) OnInit(context.Context, []CommitPoint) error   { return nil }
func (KeepAll) OnCommit(context.Context, []CommitPoint) error { return nil }
func (KeepAll) String() string                                { return NameKeepAll }

// KeepLastCommit keeps only the newest commit point. It is the default.
type KeepLastCommit struct{}

func (p KeepLastCommit) OnInit(ctx context.Context, commits []CommitPoint) error {
	return p.OnCommit(ctx, commits)
}

func (KeepLastCommit) OnCommit(_ context.Context, commits []CommitPoint) error {
	deleteOldest(commits, 1)
	return nil
}

func (KeepLastCommit) String() string { return NameKeepLastCommit }

// KeepNoneOnInit deletes every commit point when the directory opens and
// otherwise behaves like KeepLastCommit.
//
// OnInit deletes the newest commit point too: an index opened under this
// policy always starts empty.
type KeepNoneOnInit struct{}

func (KeepNoneOnInit) OnInit(_ context.Context, commits []CommitPoint) error {
	deleteOldest(commits, 0)
	return nil
}

func (KeepNoneOnInit) OnCommit(_ context.Context, commits []CommitPoint) error {
	deleteOldest(commits, 1)
	return nil
}

func (KeepNoneOnInit) String() string { return NameKeepNoneOnInit }

// KeepLastN keeps the newest N commit points.
type KeepLastN struct {
	n int
}

// NewKeepLastN returns a policy keeping n commit points. n must be at least 1.
func NewKeepLastN(n int) (*KeepLastN, error) {
	if n < 1 {
		return nil, fmt.Errorf("numToKeep must be at least 1, got %d", n)
	}
	return &KeepLastN{n: n}, nil
}

// NumToKeep returns the number of retained commit points.
func (p *KeepLastN) NumToKeep() int { return p.n }

func (p *KeepLastN) OnInit(ctx context.Context, commits []CommitPoint) error {
	return p.OnCommit(ctx, commits)
}

func (p *KeepLastN) OnCommit(_ context.Context, commits []CommitPoint) error {
	deleteOldest(commits, p.n)
	return nil
}

func (p *KeepLastN) String() string { return fmt.Sprintf("%s(%d)", NameKeepLastN, p.n) }

// ExpirationTime deletes commit points whose descriptor is older than the
// newest descriptor by more than a fixed duration. The newest commit point is
// always kept.
type ExpirationTime struct {
	ttl time.Duration
}

// NewExpirationTime returns a policy expiring commits ttl before the newest.
func NewExpirationTime(ttl time.Duration) (*ExpirationTime, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("expiration time must not be negative, got %s", ttl)
	}
	return &ExpirationTime{ttl: ttl}, nil
}

// TTL returns the expiration time.
func (p *ExpirationTime) TTL() time.Duration { return p.ttl }

func (p *ExpirationTime) OnInit(ctx context.Context, commits []CommitPoint) error {
	return p.OnCommit(ctx, commits)
}

// OnCommit flags commits modified strictly before latest.LastModified - ttl.
// A commit whose time cannot be read is kept; its error is returned after the
// remaining commits have been evaluated.
func (p *ExpirationTime) OnCommit(ctx context.Context, commits []CommitPoint) error {
	if len(commits) < 2 {
		return nil
	}
	latest, err := commits[len(commits)-1].LastModified(ctx)
	if err != nil {
		return fmt.Errorf("latest commit: %w", err)
	}
	cutoff := latest.Add(-p.ttl)

	var errs []error
	for _, c := range commits[:len(commits)-1] {
		modified, err := c.LastModified(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("commit %d: %w", c.Generation(), err))
			continue
		}
		if modified.Before(cutoff) {
			c.Delete()
		}
	}
	return errors.Join(errs...)
}

func (p *ExpirationTime) String() string { return fmt.Sprintf("%s(%s)", NameExpirationTime, p.ttl) }
