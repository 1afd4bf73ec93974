package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultLockPollInterval is the initial interval between lock attempts.
const DefaultLockPollInterval = 10 * time.Millisecond

// ObtainWithin polls lock.Obtain with exponential backoff until it succeeds,
// timeout elapses or ctx is done. It returns ErrLockObtainFailed on timeout.
func ObtainWithin(ctx context.Context, lock Lock, timeout time.Duration) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = DefaultLockPollInterval
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = timeout

	errBusy := errors.New("lock busy")
	err := backoff.Retry(func() error {
		ok, err := lock.Obtain(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errBusy
		}
		return nil
	}, backoff.WithContext(eb, ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errBusy):
		return fmt.Errorf("%w after %s", ErrLockObtainFailed, timeout)
	default:
		return err
	}
}

// MarkerLock is a lock over any Directory. Holding the lock means a marker
// file named after the lock exists.
//
// The existence check and the marker creation are two round-trips, so two
// processes racing on an empty directory may both succeed. Backends with an
// atomic conditional create provide their own Lock instead.
type MarkerLock struct {
	dir  Directory
	name string
	held bool
}

// NewMarkerLock returns a marker-file lock named name in dir.
func NewMarkerLock(dir Directory, name string) *MarkerLock {
	return &MarkerLock{dir: dir, name: name}
}

func (l *MarkerLock) Obtain(ctx context.Context) (bool, error) {
	exists, err := l.dir.FileExists(ctx, l.name)
	if err != nil || exists {
		return false, err
	}
	out, err := l.dir.CreateOutput(ctx, l.name)
	if err != nil {
		return false, err
	}
	if err := out.WriteByte(1); err != nil {
		return false, errors.Join(err, out.Close())
	}
	if err := out.Close(); err != nil {
		return false, err
	}
	l.held = true
	return true, nil
}

func (l *MarkerLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	err := l.dir.DeleteFile(ctx, l.name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (l *MarkerLock) IsLocked(ctx context.Context) (bool, error) {
	return l.dir.FileExists(ctx, l.name)
}
