package sqlstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hupe1980/sqldir/config"
)

// Dialect captures what differs between databases: placeholder syntax,
// DDL, how large payloads are inserted and how time and byte ranges are
// expressed in SQL.
type Dialect interface {
	// Name is the registry key of the dialect.
	Name() string
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string
	// CreateTableSQL returns the DDL for a file table.
	CreateTableSQL(table string) string
	// TableExistsSQL returns a query counting tables named by its single argument.
	TableExistsSQL() string
	// BlobChunkSize is the size of the chunks appended after the initial
	// insert. Zero means the whole payload is bound in one INSERT.
	BlobChunkSize() int
	// AppendSQL returns an UPDATE appending argument 1 to the payload of the
	// row named by argument 2.
	AppendSQL(table string) string
	// InsertIgnoreSQL returns an INSERT that affects no row when a row with the
	// same file_name exists. Arguments are file_name, size, deleted, modified.
	InsertIgnoreSQL(table string) string
	// NowMillisSQL returns an expression for the current time in Unix milliseconds.
	NowMillisSQL() string
	// SubstringSQL returns an expression for length bytes of column starting
	// at the 1-based position from.
	SubstringSQL(column, from, length string) string
}

// LookupDialect returns a built-in dialect by name.
// Unknown names are configuration errors.
func LookupDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	default:
		return nil, config.Errorf(config.KeyDialect, "unknown dialect").WithValue(name)
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTableName rejects names that are not plain SQL identifiers.
func ValidateTableName(name string) error {
	if !identifier.MatchString(name) {
		return config.Errorf(config.KeyTable, "not a valid table name").WithValue(name)
	}
	return nil
}

// SQLite binds the whole payload in one INSERT.
type SQLite struct{}

func (SQLite) Name() string           { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) BlobChunkSize() int     { return 0 }
func (SQLite) NowMillisSQL() string {
	return "CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)"
}
func (SQLite) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}
func (SQLite) AppendSQL(t string) string {
	return "UPDATE " + t + " SET payload = payload || ? WHERE file_name = ?"
}

func (SQLite) CreateTableSQL(t string) string {
	return "CREATE TABLE IF NOT EXISTS " + t + ` (
	file_name VARCHAR(255) NOT NULL PRIMARY KEY,
	payload BLOB,
	size BIGINT NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0,
	modified BIGINT NOT NULL DEFAULT 0
)`
}

func (SQLite) InsertIgnoreSQL(t string) string {
	return "INSERT INTO " + t + " (file_name, payload, size, deleted, modified) VALUES (?, X'', ?, ?, ?) ON CONFLICT (file_name) DO NOTHING"
}

func (SQLite) SubstringSQL(column, from, length string) string {
	return fmt.Sprintf("substr(%s, %s, %s)", column, from, length)
}

// Postgres inserts an empty payload and appends fixed-size chunks inside
// the same transaction so no single bind holds the whole file.
type Postgres struct{}

// DefaultPostgresChunkSize is the append chunk size for PostgreSQL.
const DefaultPostgresChunkSize = 4 << 20

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (Postgres) BlobChunkSize() int       { return DefaultPostgresChunkSize }
func (Postgres) NowMillisSQL() string {
	return "CAST(EXTRACT(EPOCH FROM clock_timestamp()) * 1000 AS BIGINT)"
}
func (Postgres) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
}
func (Postgres) AppendSQL(t string) string {
	return "UPDATE " + t + " SET payload = payload || $1 WHERE file_name = $2"
}

func (Postgres) CreateTableSQL(t string) string {
	return "CREATE TABLE IF NOT EXISTS " + t + ` (
	file_name VARCHAR(255) NOT NULL PRIMARY KEY,
	payload BYTEA,
	size BIGINT NOT NULL DEFAULT 0,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	modified BIGINT NOT NULL DEFAULT 0
)`
}

func (Postgres) InsertIgnoreSQL(t string) string {
	return "INSERT INTO " + t + " (file_name, payload, size, deleted, modified) VALUES ($1, ''::bytea, $2, $3, $4) ON CONFLICT (file_name) DO NOTHING"
}

func (Postgres) SubstringSQL(column, from, length string) string {
	return fmt.Sprintf("substring(%s from %s for %s)", column, from, length)
}

// MySQL appends chunks like Postgres; max_allowed_packet bounds a single bind.
type MySQL struct{}

// DefaultMySQLChunkSize stays below the default max_allowed_packet.
const DefaultMySQLChunkSize = 1 << 20

func (MySQL) Name() string           { return "mysql" }
func (MySQL) Placeholder(int) string { return "?" }
func (MySQL) BlobChunkSize() int     { return DefaultMySQLChunkSize }
func (MySQL) NowMillisSQL() string   { return "CAST(UNIX_TIMESTAMP(NOW(3)) * 1000 AS SIGNED)" }
func (MySQL) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
}
func (MySQL) AppendSQL(t string) string {
	return "UPDATE " + t + " SET payload = CONCAT(payload, ?) WHERE file_name = ?"
}

func (MySQL) CreateTableSQL(t string) string {
	return "CREATE TABLE IF NOT EXISTS " + t + ` (
	file_name VARCHAR(255) NOT NULL PRIMARY KEY,
	payload LONGBLOB,
	size BIGINT NOT NULL DEFAULT 0,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	modified BIGINT NOT NULL DEFAULT 0
)`
}

func (MySQL) InsertIgnoreSQL(t string) string {
	return "INSERT IGNORE INTO " + t + " (file_name, payload, size, deleted, modified) VALUES (?, '', ?, ?, ?)"
}

func (MySQL) SubstringSQL(column, from, length string) string {
	return fmt.Sprintf("SUBSTRING(%s, %s, %s)", column, from, length)
}
