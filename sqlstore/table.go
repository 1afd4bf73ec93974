package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hupe1980/sqldir/store"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner is satisfied by *sql.DB and *sql.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// FileInfo is the metadata of one stored file.
type FileInfo struct {
	Name     string
	Size     int64
	Modified time.Time
	Deleted  bool
}

// Table is the relational layout of one directory: one row per file with
// the columns file_name, payload, size, deleted and modified.
//
// Every operation runs against the Querier it is given. Operations that
// need several statements open a transaction when the Querier can begin one
// and otherwise run inside the caller's transaction.
type Table struct {
	name    string
	dialect Dialect
	now     func() time.Time

	sqlList, sqlStat, sqlRange, sqlAll      string
	sqlInsert, sqlDelete, sqlMark, sqlPurge string
	sqlRename, sqlAppend, sqlMarker         string
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithClock stamps modification times from now instead of the database clock.
func WithClock(now func() time.Time) TableOption {
	return func(t *Table) { t.now = now }
}

// NewTable returns the table name in dialect d.
func NewTable(name string, d Dialect, opts ...TableOption) (*Table, error) {
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	t := &Table{name: name, dialect: d}
	for _, opt := range opts {
		opt(t)
	}

	modified := d.NowMillisSQL()
	if t.now != nil {
		modified = "?"
	}
	t.sqlList = t.rebind("SELECT file_name FROM " + name + " WHERE deleted = ? ORDER BY file_name")
	t.sqlStat = t.rebind("SELECT size, modified, deleted FROM " + name + " WHERE file_name = ?")
	t.sqlRange = t.rebind("SELECT " + d.SubstringSQL("payload", "?", "?") + " FROM " + name + " WHERE file_name = ?")
	t.sqlAll = t.rebind("SELECT payload FROM " + name + " WHERE file_name = ?")
	t.sqlInsert = t.rebind("INSERT INTO " + name + " (file_name, payload, size, deleted, modified) VALUES (?, ?, ?, ?, " + modified + ")")
	t.sqlDelete = t.rebind("DELETE FROM " + name + " WHERE file_name = ?")
	t.sqlMark = t.rebind("UPDATE " + name + " SET deleted = ?, modified = " + modified + " WHERE file_name = ? AND deleted = ?")
	t.sqlPurge = t.rebind("DELETE FROM " + name + " WHERE deleted = ? AND modified < ?")
	t.sqlRename = t.rebind("UPDATE " + name + " SET file_name = ? WHERE file_name = ? AND deleted = ?")
	t.sqlAppend = d.AppendSQL(name)
	t.sqlMarker = d.InsertIgnoreSQL(name)
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Dialect returns the table's dialect.
func (t *Table) Dialect() Dialect { return t.dialect }

// rebind replaces each ? with the dialect's placeholder.
func (t *Table) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(t.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// stamp appends the Go clock to args when the table does not use the
// database clock. The modified value is always the last bind of an insert.
func (t *Table) stamp(args ...any) []any {
	if t.now != nil {
		return append(args, t.now().UnixMilli())
	}
	return args
}

// Create creates the table if it does not exist.
func (t *Table) Create(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, t.dialect.CreateTableSQL(t.name))
	return wrap("create table", t.name, err)
}

// Drop drops the table.
func (t *Table) Drop(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+t.name)
	return wrap("drop table", t.name, err)
}

// Exists reports whether the table exists.
func (t *Table) Exists(ctx context.Context, q Querier) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, t.dialect.TableExistsSQL(), t.name).Scan(&n); err != nil {
		return false, wrap("table exists", t.name, err)
	}
	return n > 0, nil
}

// List returns the names of all files not marked deleted, sorted.
func (t *Table) List(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, t.sqlList, false)
	if err != nil {
		return nil, wrap("list", t.name, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrap("list", t.name, err)
		}
		names = append(names, name)
	}
	return names, wrap("list", t.name, rows.Err())
}

// Stat returns the metadata of a file, including files marked deleted.
func (t *Table) Stat(ctx context.Context, q Querier, name string) (FileInfo, error) {
	var (
		info     = FileInfo{Name: name}
		modified int64
	)
	err := q.QueryRowContext(ctx, t.sqlStat, name).Scan(&info.Size, &modified, &info.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return FileInfo{}, fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return FileInfo{}, wrap("stat", name, err)
	}
	info.Modified = time.UnixMilli(modified)
	return info, nil
}

// ReadRange returns up to n stored payload bytes starting at off.
func (t *Table) ReadRange(ctx context.Context, q Querier, name string, off int64, n int) ([]byte, error) {
	var data []byte
	err := q.QueryRowContext(ctx, t.sqlRange, off+1, n, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	return data, wrap("read", name, err)
}

// ReadAll returns the whole stored payload.
func (t *Table) ReadAll(ctx context.Context, q Querier, name string) ([]byte, error) {
	var data []byte
	err := q.QueryRowContext(ctx, t.sqlAll, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	return data, wrap("read", name, err)
}

// Insert replaces the row of name with payload in one transaction.
// size is the logical file length recorded in the size column; it differs
// from the payload length for compressed file types.
func (t *Table) Insert(ctx context.Context, q Querier, name string, size int64, payload io.Reader) error {
	return wrap("insert", name, inTx(ctx, q, func(q Querier) error {
		if _, err := q.ExecContext(ctx, t.sqlDelete, name); err != nil {
			return err
		}
		chunk := t.dialect.BlobChunkSize()
		if chunk <= 0 {
			data, err := io.ReadAll(payload)
			if err != nil {
				return err
			}
			if data == nil {
				data = []byte{}
			}
			_, err = q.ExecContext(ctx, t.sqlInsert, t.stamp(name, data, size, false)...)
			return err
		}

		if _, err := q.ExecContext(ctx, t.sqlInsert, t.stamp(name, []byte{}, size, false)...); err != nil {
			return err
		}
		buf := make([]byte, chunk)
		for {
			n, err := io.ReadFull(payload, buf)
			if n > 0 {
				if _, err := q.ExecContext(ctx, t.sqlAppend, buf[:n], name); err != nil {
					return err
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}))
}

// InsertMarker inserts an empty row unless one named name exists.
// It reports whether the row was inserted.
func (t *Table) InsertMarker(ctx context.Context, q Querier, name string) (bool, error) {
	modified := time.Now().UnixMilli()
	if t.now != nil {
		modified = t.now().UnixMilli()
	}
	res, err := q.ExecContext(ctx, t.sqlMarker, name, 0, false, modified)
	if err != nil {
		return false, wrap("insert marker", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("insert marker", name, err)
	}
	return n == 1, nil
}

// MarkDeleted flags a file as deleted without removing its payload.
func (t *Table) MarkDeleted(ctx context.Context, q Querier, name string) error {
	args := []any{true}
	if t.now != nil {
		args = append(args, t.now().UnixMilli())
	}
	res, err := q.ExecContext(ctx, t.sqlMark, append(args, name, false)...)
	return affected("mark deleted", name, res, err)
}

// Delete removes the row of name.
func (t *Table) Delete(ctx context.Context, q Querier, name string) error {
	res, err := q.ExecContext(ctx, t.sqlDelete, name)
	return affected("delete", name, res, err)
}

// Rename renames from to to, replacing an existing row named to.
func (t *Table) Rename(ctx context.Context, q Querier, from, to string) error {
	return inTx(ctx, q, func(q Querier) error {
		if _, err := q.ExecContext(ctx, t.sqlDelete, to); err != nil {
			return wrap("rename", from, err)
		}
		res, err := q.ExecContext(ctx, t.sqlRename, to, from, false)
		return affected("rename", from, res, err)
	})
}

// PurgeMarkedDeleted removes rows marked deleted before olderThan and
// returns how many were removed.
func (t *Table) PurgeMarkedDeleted(ctx context.Context, q Querier, olderThan time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, t.sqlPurge, true, olderThan.UnixMilli())
	if err != nil {
		return 0, wrap("purge", t.name, err)
	}
	n, err := res.RowsAffected()
	return n, wrap("purge", t.name, err)
}

// inTx runs fn in a new transaction when q can begin one, else directly on q.
func inTx(ctx context.Context, q Querier, fn func(Querier) error) error {
	b, ok := q.(TxBeginner)
	if !ok {
		return fn(q)
	}
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

func affected(op, name string, res sql.Result, err error) error {
	if err != nil {
		return wrap(op, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", name, store.ErrNotFound)
	}
	return nil
}

func wrap(op, name string, err error) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return store.WrapIO(op, name, err)
}
