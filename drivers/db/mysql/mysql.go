// Package mysql provides the MySQL DBAdapter over go-sql-driver/mysql.
// Importing it registers the "mysql" data source driver.
package mysql

import (
	"errors"

	"github.com/charmbracelet/log"
	"github.com/go-sql-driver/mysql"

	"github.com/goomon/persistlab"
	"github.com/goomon/persistlab/drivers/db/internal/sqlxadapter"
)

// MySQL error numbers for a lock that could not be acquired.
const (
	errLockWaitTimeout = 1205
	errLockNoWait      = 3572
)

func init() {
	persistlab.RegisterDataSource("mysql", func(cfg persistlab.DataSourceConfig) (persistlab.DBAdapter, error) {
		return NewMySQLAdapter(cfg.DSN, cfg)
	})
}

// MySQLDialector implements persistlab.Dialector for MySQL 8.
type MySQLDialector struct{}

func (MySQLDialector) Name() string { return "mysql" }

func (MySQLDialector) Quote(identifier string) string {
	return "`" + identifier + "`"
}

func (MySQLDialector) LockClause(mode persistlab.LockMode, timeout persistlab.LockTimeout) string {
	var clause string
	switch mode {
	case persistlab.PessimisticRead:
		clause = "FOR SHARE"
	case persistlab.PessimisticWrite:
		clause = "FOR UPDATE"
	default:
		return ""
	}
	switch timeout {
	case persistlab.LockNoWait:
		clause += " NOWAIT"
	case persistlab.LockSkipLocked:
		clause += " SKIP LOCKED"
	}
	return clause
}

func (MySQLDialector) ReturningClause(string) string { return "" }

func (MySQLDialector) IsLockTimeout(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errLockNoWait || myErr.Number == errLockWaitTimeout
	}
	return false
}

// MySQLAdapter implements persistlab.DBAdapter for MySQL.
type MySQLAdapter struct {
	*sqlxadapter.Adapter
}

// NewMySQLAdapter opens a MySQL pool. The DSN needs parseTime=true for
// time.Time columns, e.g. "lab:lab@tcp(localhost:3306)/lab?parseTime=true".
func NewMySQLAdapter(dsn string, cfg ...persistlab.DataSourceConfig) (*MySQLAdapter, error) {
	var c persistlab.DataSourceConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	base, err := sqlxadapter.Open("mysql", dsn, c, MySQLDialector{})
	if err != nil {
		return nil, err
	}
	log.Debug("MySQL adapter initialized")
	return &MySQLAdapter{Adapter: base}, nil
}
