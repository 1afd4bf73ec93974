package sqldir

import (
	"errors"
	"fmt"

	"github.com/hupe1980/sqldir/commit"
	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/store"
)

var (
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = fmt.Errorf("%w: store closed", store.ErrInvalidState)

	// ErrConfiguration matches every invalid or unresolvable setting.
	ErrConfiguration = config.ErrConfiguration

	// ErrNotFound matches missing files.
	ErrNotFound = store.ErrNotFound

	// ErrNoCommit is returned when the directory holds no commit.
	ErrNoCommit = commit.ErrNoCommit
)

// ErrLockHeld indicates that another writer holds the directory write lock.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrLockHeld struct {
	Lock  string
	cause error
}

func (e *ErrLockHeld) Error() string {
	return fmt.Sprintf("write lock %q is held by another writer", e.Lock)
}

func (e *ErrLockHeld) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrLockObtainFailed) {
		return &ErrLockHeld{Lock: WriteLockName, cause: err}
	}

	return err
}
