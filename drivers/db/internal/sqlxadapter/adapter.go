// Package sqlxadapter holds the sqlx-backed DBAdapter shared by the
// sqlite, postgres and mysql drivers. Each driver adds its Dialector and
// table introspection.
package sqlxadapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"

	"github.com/goomon/persistlab"
)

// ErrClosed is returned by an adapter after Close.
var ErrClosed = errors.New("adapter is closed")

// Adapter implements the statement half of persistlab.DBAdapter over *sqlx.DB.
// Statements arrive with `?` bind variables and are rebound for the driver.
type Adapter struct {
	db      *sqlx.DB
	dialect persistlab.Dialector
	closeMx sync.Mutex
	closed  bool
}

// Open opens and pings a pool for driverName.
func Open(driverName, dsn string, cfg persistlab.DataSourceConfig, dialect persistlab.Dialector) (*Adapter, error) {
	cfg = cfg.WithDefaults()
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect.Name(), err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect.Name(), err)
	}
	log.Debug("Database pool opened", "dialect", dialect.Name(),
		"max_open_conns", cfg.MaxOpenConns, "max_idle_conns", cfg.MaxIdleConns)
	return &Adapter{db: db, dialect: dialect}, nil
}

// New wraps an existing pool.
func New(db *sqlx.DB, dialect persistlab.Dialector) *Adapter {
	return &Adapter{db: db, dialect: dialect}
}

func (a *Adapter) isClosed() bool {
	a.closeMx.Lock()
	defer a.closeMx.Unlock()
	return a.closed
}

func logStatement(op, query string, args []interface{}, start time.Time, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Error("SQL failed", "op", op, "query", query, "args", args, "took", time.Since(start), "error", err)
		return
	}
	log.Debug("SQL", "op", op, "query", query, "args", args, "took", time.Since(start))
}

func (a *Adapter) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if a.isClosed() {
		return ErrClosed
	}
	query = a.db.Rebind(query)
	start := time.Now()
	err := a.db.GetContext(ctx, dest, query, args...)
	logStatement("get", query, args, start, err)
	return err
}

func (a *Adapter) Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	query = a.db.Rebind(query)
	start := time.Now()
	rows, err := a.db.QueryxContext(ctx, query, args...)
	logStatement("query", query, args, start, err)
	return rows, err
}

func (a *Adapter) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	query = a.db.Rebind(query)
	start := time.Now()
	res, err := a.db.ExecContext(ctx, query, args...)
	logStatement("exec", query, args, start, err)
	return res, err
}

// BeginTx starts a new database transaction.
func (a *Adapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (persistlab.Tx, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	tx, err := a.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%s begin: %w", a.dialect.Name(), err)
	}
	return &Tx{tx: tx}, nil
}

func (a *Adapter) Dialect() persistlab.Dialector { return a.dialect }

func (a *Adapter) DB() *sql.DB { return a.db.DB }

// Sqlx returns the underlying pool.
func (a *Adapter) Sqlx() *sqlx.DB { return a.db }

// Close closes the pool. Closing twice is a no-op.
func (a *Adapter) Close() error {
	a.closeMx.Lock()
	defer a.closeMx.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

// Tx wraps *sqlx.Tx to implement persistlab.Tx.
type Tx struct {
	tx *sqlx.Tx
}

func (t *Tx) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query = t.tx.Rebind(query)
	start := time.Now()
	err := t.tx.GetContext(ctx, dest, query, args...)
	logStatement("tx get", query, args, start, err)
	return err
}

func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	query = t.tx.Rebind(query)
	start := time.Now()
	rows, err := t.tx.QueryxContext(ctx, query, args...)
	logStatement("tx query", query, args, start, err)
	return rows, err
}

func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	query = t.tx.Rebind(query)
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, query, args...)
	logStatement("tx exec", query, args, start, err)
	return res, err
}

func (t *Tx) Commit() error {
	log.Debug("SQL", "op", "commit")
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	log.Debug("SQL", "op", "rollback")
	return t.tx.Rollback()
}
