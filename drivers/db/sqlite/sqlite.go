// Package sqlite provides the SQLite DBAdapter over mattn/go-sqlite3.
// Importing it registers the "sqlite" data source driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-sqlite3"

	"github.com/goomon/persistlab"
	"github.com/goomon/persistlab/drivers/db/internal/sqlxadapter"
)

func init() {
	persistlab.RegisterDataSource("sqlite", func(cfg persistlab.DataSourceConfig) (persistlab.DBAdapter, error) {
		return NewSQLiteAdapter(cfg.DSN, cfg)
	})
}

// SQLiteDialector implements persistlab.Dialector for SQLite.
type SQLiteDialector struct{}

var lockWarning sync.Once

func (SQLiteDialector) Name() string { return "sqlite" }

func (SQLiteDialector) Quote(identifier string) string {
	return `"` + identifier + `"`
}

// LockClause returns "": SQLite locks the whole database on write and has no
// FOR UPDATE / FOR SHARE.
func (SQLiteDialector) LockClause(mode persistlab.LockMode, _ persistlab.LockTimeout) string {
	if mode != persistlab.LockNone {
		lockWarning.Do(func() {
			log.Warn("SQLite has no row level locks; pessimistic lock clauses are not rendered")
		})
	}
	return ""
}

func (SQLiteDialector) ReturningClause(string) string { return "" }

// IsLockTimeout reports SQLITE_BUSY and SQLITE_LOCKED.
func (SQLiteDialector) IsLockTimeout(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// SQLiteAdapter implements persistlab.DBAdapter for SQLite.
type SQLiteAdapter struct {
	*sqlxadapter.Adapter
	dsn string
}

// NewSQLiteAdapter opens a SQLite database. For concurrent sessions pass a
// DSN with a busy timeout, e.g. "file:lab.db?_busy_timeout=5000&_journal_mode=WAL".
func NewSQLiteAdapter(dsn string, cfg ...persistlab.DataSourceConfig) (*SQLiteAdapter, error) {
	var c persistlab.DataSourceConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	base, err := sqlxadapter.Open("sqlite3", dsn, c, SQLiteDialector{})
	if err != nil {
		return nil, err
	}
	log.Debug("SQLite adapter initialized", "dsn", dsn)
	return &SQLiteAdapter{Adapter: base, dsn: dsn}, nil
}

// TableColumns lists the columns of table, or none when it does not exist.
func (a *SQLiteAdapter) TableColumns(ctx context.Context, table string) ([]string, error) {
	var cols []string
	if err := a.Sqlx().SelectContext(ctx, &cols, "SELECT name FROM pragma_table_info(?)", table); err != nil {
		return nil, fmt.Errorf("sqlite table_info %s: %w", table, err)
	}
	return cols, nil
}
