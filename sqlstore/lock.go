package sqlstore

import (
	"context"
	"errors"

	"github.com/hupe1980/sqldir/store"
)

// rowLock holds a lock by owning a marker row. The insert is conditional,
// so exactly one caller obtains a free lock.
type rowLock struct {
	dir  *Directory
	name string
	held bool
}

func (l *rowLock) Obtain(ctx context.Context) (bool, error) {
	if err := l.dir.check(); err != nil {
		return false, err
	}
	ok, err := l.dir.table.InsertMarker(ctx, l.dir.querier(ctx), l.name)
	if err != nil {
		return false, err
	}
	l.held = ok
	return ok, nil
}

func (l *rowLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	err := l.dir.table.Delete(ctx, l.dir.querier(ctx), l.name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (l *rowLock) IsLocked(ctx context.Context) (bool, error) {
	_, err := l.dir.table.Stat(ctx, l.dir.querier(ctx), l.name)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
