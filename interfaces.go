// interfaces.go
// Persistence SPI: DBAdapter, Tx, Dialector and CacheClient.
// Drivers under drivers/ implement these; the session layer only talks to them.

package persistlab

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// Executor is the statement surface shared by DBAdapter and Tx.
// Statements use `?` bind variables; implementations rebind them for their dialect.
type Executor interface {
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DBAdapter defines the interface for database drivers.
type DBAdapter interface {
	Executor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	// TableColumns lists the columns of an existing table, used by schema validation.
	TableColumns(ctx context.Context, table string) ([]string, error)
	Dialect() Dialector
	DB() *sql.DB
	Close() error
}

// Tx defines the interface for transaction operations.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Dialector describes the SQL differences between databases.
type Dialector interface {
	Name() string                   // "sqlite", "postgres" or "mysql"
	Quote(identifier string) string // Quote a SQL identifier (table/column name)
	// LockClause renders the row lock suffix of a SELECT, or "" when the
	// database has no row level locks.
	LockClause(mode LockMode, timeout LockTimeout) string
	// ReturningClause renders the suffix that makes an INSERT return the
	// generated key, or "" when the driver reports it through LastInsertId.
	ReturningClause(column string) string
	// IsLockTimeout reports whether err means a row lock could not be acquired.
	IsLockTimeout(err error) bool
}

// CacheClient is the storage behind second-level cache regions.
// Entries are disassembled entity states keyed by column name.
type CacheClient interface {
	GetModel(ctx context.Context, key string) (map[string]interface{}, error) // ErrNotFound on miss
	SetModel(ctx context.Context, key string, state map[string]interface{}, expiration time.Duration) error
	DeleteModel(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error

	// AcquireLock never blocks: it reports false while another holder owns the key.
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error

	GetCacheStats(ctx context.Context) CacheStats
	Close() error
}

// CacheStats holds cache operation counters for monitoring.
type CacheStats struct {
	Counters map[string]int // Operation name to count
}
