package persistlab

import (
	"fmt"
	"strings"
)

// SQLBuilder renders the statements the session issues, quoting identifiers
// for one dialect. Statements use `?` bind variables.
type SQLBuilder struct {
	dialect Dialector
}

// NewSQLBuilder returns a builder for dialect.
func NewSQLBuilder(dialect Dialector) *SQLBuilder {
	return &SQLBuilder{dialect: dialect}
}

func (b *SQLBuilder) quoteAll(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = b.dialect.Quote(c)
	}
	return quoted
}

// BuildSelectSQL constructs a SELECT of columns with an optional WHERE clause.
func (b *SQLBuilder) BuildSelectSQL(tableName string, columns []string, where string) string {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(b.quoteAll(columns), ", "), b.dialect.Quote(tableName))
	if where != "" {
		query += " WHERE " + where
	}
	return query
}

// BuildInsertSQL constructs an INSERT of rows rows. More than one row renders
// a multi-row VALUES list, which is how inserts are batched.
func (b *SQLBuilder) BuildInsertSQL(tableName string, columns []string, rows int) string {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	values := make([]string, rows)
	for i := range values {
		values[i] = placeholders
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		b.dialect.Quote(tableName), strings.Join(b.quoteAll(columns), ", "), strings.Join(values, ", "))
}

// BuildUpdateSQL constructs an UPDATE of setColumns for one primary key.
func (b *SQLBuilder) BuildUpdateSQL(tableName string, setColumns []string, pkName string) string {
	sets := make([]string, len(setColumns))
	for i, c := range setColumns {
		sets[i] = b.dialect.Quote(c) + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", b.dialect.Quote(tableName), strings.Join(sets, ", "), b.dialect.Quote(pkName))
}

// BuildDeleteSQL constructs a DELETE for one primary key.
func (b *SQLBuilder) BuildDeleteSQL(tableName, pkName string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", b.dialect.Quote(tableName), b.dialect.Quote(pkName))
}

// BuildCountSQL constructs a SELECT COUNT(*) with an optional WHERE clause.
func (b *SQLBuilder) BuildCountSQL(tableName string, where string) string {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", b.dialect.Quote(tableName))
	if where != "" {
		query += " WHERE " + where
	}
	return query
}

// AppendLock adds the dialect's row lock clause. It returns ok=false when
// a lock was requested but the dialect cannot express it.
func (b *SQLBuilder) AppendLock(query string, mode LockMode, timeout LockTimeout) (string, bool) {
	if mode == LockNone {
		return query, true
	}
	clause := b.dialect.LockClause(mode, timeout)
	if clause == "" {
		return query, false
	}
	return query + " " + clause, true
}

// formatSQL breaks a statement before its main clauses for format_sql logging.
func formatSQL(query string) string {
	for _, kw := range []string{" FROM ", " WHERE ", " ORDER BY ", " LIMIT ", " SET ", " VALUES ", " FOR "} {
		query = strings.ReplaceAll(query, kw, "\n    "+strings.TrimSpace(kw)+" ")
	}
	return query
}
