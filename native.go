package persistlab

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// NativeQuery runs hand-written SQL on the session's connection. It bypasses
// entity listeners and the persistence context.
type NativeQuery struct {
	s      *Session
	query  string
	args   []interface{}
	spaces []string
}

// NativeQuery prepares a SQL statement with `?` bind variables.
func (s *Session) NativeQuery(query string, args ...interface{}) *NativeQuery {
	return &NativeQuery{s: s, query: query, args: args}
}

// Synchronize declares the tables the statement touches. In AUTO flush mode
// the session then flushes only when those tables have pending changes;
// without it a native query always flushes first.
func (q *NativeQuery) Synchronize(tables ...string) *NativeQuery {
	q.spaces = append(q.spaces, tables...)
	return q
}

func (q *NativeQuery) prepare(ctx context.Context) error {
	if err := q.s.checkOpen(); err != nil {
		return err
	}
	return q.s.autoFlush(ctx, q.spaces)
}

// Scalar scans the first column of the first row into dest.
func (q *NativeQuery) Scalar(ctx context.Context, dest interface{}) error {
	if err := q.prepare(ctx); err != nil {
		return err
	}
	if err := q.s.getValue(ctx, dest, q.query, q.args...); err != nil {
		return fmt.Errorf("native query: %w", err)
	}
	return nil
}

// Select scans every row into dest, a pointer to a slice of structs tagged
// with `db` column names.
func (q *NativeQuery) Select(ctx context.Context, dest interface{}) error {
	if err := q.prepare(ctx); err != nil {
		return err
	}
	rows, err := q.s.queryRows(ctx, q.query, q.args...)
	if err != nil {
		return fmt.Errorf("native query: %w", err)
	}
	defer rows.Close()
	if err := sqlx.StructScan(rows, dest); err != nil {
		return fmt.Errorf("native query: %w", q.s.translate(err))
	}
	return nil
}

// Exec runs a statement and returns the affected row count. Entities of the
// synchronized tables (all, when none are declared) are evicted from the
// second-level cache since the statement may have changed them.
func (q *NativeQuery) Exec(ctx context.Context) (int64, error) {
	if err := q.prepare(ctx); err != nil {
		return 0, err
	}
	res, err := q.s.execStmt(ctx, q.query, q.args...)
	if err != nil {
		return 0, fmt.Errorf("native statement: %w", err)
	}
	q.invalidate(ctx)
	return res.RowsAffected()
}

func (q *NativeQuery) invalidate(ctx context.Context) {
	tables := make(map[string]bool, len(q.spaces))
	for _, t := range q.spaces {
		tables[t] = true
	}
	for _, p := range q.s.f.persisters {
		if p.region == nil || (len(tables) > 0 && !tables[p.table()]) {
			continue
		}
		if err := p.region.evictAll(ctx); err != nil {
			q.s.logger.Warn("Region eviction after native statement failed", "region", p.region.name, "error", err)
		}
	}
}
