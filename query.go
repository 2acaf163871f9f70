package persistlab

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/goomon/persistlab/internal/schema"
)

// Query selects entities of type T. Conditions are SQL fragments over the
// entity's columns with `?` bind variables; a slice argument expands an
// `IN (?)` list.
//
//	posts, err := persistlab.From[Post](s).Where("title LIKE ?", "High%").OrderBy("id").List(ctx)
type Query[T any] struct {
	s        *Session
	p        *entityPersister
	err      error
	where    []string
	args     []interface{}
	orderBy  string
	limit    int
	offset   int
	fetch    []string
	lock     LockMode
	timeout  LockTimeout
	readOnly bool
}

// From starts a query over entities of type T.
func From[T any](s *Session) *Query[T] {
	q := &Query[T]{s: s}
	q.p, q.err = s.f.persister(reflect.TypeOf((*T)(nil)).Elem())
	return q
}

// Where adds a condition; conditions are combined with AND.
func (q *Query[T]) Where(cond string, args ...interface{}) *Query[T] {
	if q.err != nil {
		return q
	}
	expanded, expandedArgs, err := sqlx.In(cond, args...)
	if err != nil {
		q.err = fmt.Errorf("where %q: %w", cond, err)
		return q
	}
	q.where = append(q.where, "("+expanded+")")
	q.args = append(q.args, expandedArgs...)
	return q
}

// OrderBy sets the ORDER BY clause.
func (q *Query[T]) OrderBy(order string) *Query[T] {
	q.orderBy = order
	return q
}

// Limit caps the number of rows.
func (q *Query[T]) Limit(n int) *Query[T] {
	q.limit = n
	return q
}

// Offset skips rows; it needs Limit on most databases.
func (q *Query[T]) Offset(n int) *Query[T] {
	q.offset = n
	return q
}

// Fetch initializes the named association (Go field name) of every result
// with one batched select, instead of one select per result.
func (q *Query[T]) Fetch(association string) *Query[T] {
	q.fetch = append(q.fetch, association)
	return q
}

// Lock takes a pessimistic lock on the selected rows.
func (q *Query[T]) Lock(mode LockMode) *Query[T] {
	q.lock = mode
	return q
}

// LockTimeout sets NOWAIT or SKIP LOCKED for Lock.
func (q *Query[T]) LockTimeout(timeout LockTimeout) *Query[T] {
	q.timeout = timeout
	return q
}

// ReadOnly loads the results without dirty checking snapshots.
func (q *Query[T]) ReadOnly() *Query[T] {
	q.readOnly = true
	return q
}

func (q *Query[T]) whereClause() string {
	return strings.Join(q.where, " AND ")
}

// SQL renders the SELECT the query runs, with its arguments.
func (q *Query[T]) SQL() (string, []interface{}) {
	if q.err != nil {
		return "", nil
	}
	query := q.s.f.builder.BuildSelectSQL(q.p.table(), q.p.columns, q.whereClause())
	if q.orderBy != "" {
		query += " ORDER BY " + q.orderBy
	}
	if q.limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.limit)
	}
	if q.offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.offset)
	}
	if locked, ok := q.s.f.builder.AppendLock(query, q.lock, q.timeout); ok {
		query = locked
	}
	return query, q.args
}

func (q *Query[T]) fetchAssociations() ([]schema.Association, error) {
	var out []schema.Association
	bags := 0
	for _, name := range q.fetch {
		a, ok := q.p.meta.Association(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAssociation, q.p.name(), name)
		}
		if a.Collection() {
			bags++
		}
		out = append(out, a)
	}
	if bags > 1 {
		return nil, fmt.Errorf("%w: %s", ErrMultipleBagFetch, strings.Join(q.fetch, ", "))
	}
	return out, nil
}

// spaces lists the tables the query reads, for auto flush.
func (q *Query[T]) spaces(fetches []schema.Association) []string {
	spaces := []string{q.p.table()}
	for _, a := range fetches {
		spaces = append(spaces, q.p.targets[a.Name].table())
	}
	return spaces
}

// List runs the query and returns managed entities in row order.
func (q *Query[T]) List(ctx context.Context) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	s := q.s
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	fetches, err := q.fetchAssociations()
	if err != nil {
		return nil, err
	}
	if q.lock != LockNone && !s.inTransaction() {
		return nil, ErrNoTransaction
	}
	if err := s.autoFlush(ctx, q.spaces(fetches)); err != nil {
		return nil, err
	}

	query, args := q.SQL()
	if q.lock != LockNone && s.f.db.Dialect().LockClause(q.lock, q.timeout) == "" {
		s.logger.Warn("Dialect has no row locks, lock request ignored",
			"dialect", s.f.db.Dialect().Name(), "mode", q.lock, "timeout", q.timeout)
	}
	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.p.name(), err)
	}
	all, fresh, err := s.hydrate(ctx, q.p, rows, q.readOnly)
	if err != nil {
		return nil, err
	}
	for _, a := range fetches {
		if err := s.fetchAssociation(ctx, q.p, all, a); err != nil {
			return nil, err
		}
	}
	if err := s.initializeEager(ctx, fresh); err != nil {
		return nil, err
	}

	out := make([]*T, len(all))
	for i, e := range all {
		out[i] = e.entity().(*T)
	}
	return out, nil
}

// First returns the first result or ErrNotFound.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	if q.limit == 0 || q.limit > 1 {
		q.limit = 1
	}
	list, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		if q.err != nil {
			return nil, q.err
		}
		return nil, fmt.Errorf("%w: no %s matches", ErrNotFound, q.p.name())
	}
	return list[0], nil
}

// Count returns the number of matching rows.
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	s := q.s
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := s.autoFlush(ctx, q.spaces(nil)); err != nil {
		return 0, err
	}
	var n int64
	if err := s.getValue(ctx, &n, s.f.builder.BuildCountSQL(q.p.table(), q.whereClause()), q.args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.p.name(), err)
	}
	return n, nil
}
