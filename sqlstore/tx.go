package sqlstore

import (
	"context"
	"database/sql"
)

type txKey struct{}

// ContextWithTx binds tx to ctx. Directory operations started with the
// returned context run inside tx instead of opening their own transaction,
// so index files can commit atomically with application rows.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}
