package persistlab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/goomon/persistlab/internal/schema"
)

// Session is a unit of work: it owns a persistence context (the first-level
// cache), the queue of pending inserts and deletes, and at most one active
// transaction. A Session must not be shared between goroutines.
type Session struct {
	id     string
	f      *Factory
	logger *log.Logger
	pc     *persistenceContext

	inserts []*entityEntry
	deletes []*entityEntry
	// writes counts entity statements executed; a flush that leaves it
	// unchanged is not counted.
	writes int

	cacheActions map[entityKey]*cacheAction
	cacheOrder   []entityKey

	tx              *Transaction
	flushMode       FlushMode
	defaultReadOnly bool
	closed          bool
}

// cacheAction is a second-level cache write applied when the transaction completes.
type cacheAction struct {
	region *Region
	id     int64
	entry  map[string]interface{} // nil evicts
	locked bool
}

func newSession(f *Factory) *Session {
	id := uuid.NewString()
	return &Session{
		id:              id,
		f:               f,
		logger:          f.logger.With("session", id[:8]),
		pc:              newPersistenceContext(),
		cacheActions:    make(map[entityKey]*cacheAction),
		flushMode:       f.flushMode,
		defaultReadOnly: f.defaultReadOnly,
	}
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string { return s.id }

// Factory returns the factory that opened the session.
func (s *Session) Factory() *Factory { return s.f }

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.f.closed.Load() {
		return ErrFactoryClosed
	}
	return nil
}

// SetFlushMode changes when pending changes are written.
func (s *Session) SetFlushMode(mode FlushMode) { s.flushMode = mode }

func (s *Session) FlushMode() FlushMode { return s.flushMode }

// SetDefaultReadOnly makes entities loaded from now on read-only: they are
// never dirty checked and keep no snapshot.
func (s *Session) SetDefaultReadOnly(readOnly bool) { s.defaultReadOnly = readOnly }

func (s *Session) IsDefaultReadOnly() bool { return s.defaultReadOnly }

// SetReadOnly switches dirty checking off or on for one managed entity.
func (s *Session) SetReadOnly(entity interface{}, readOnly bool) error {
	e := s.pc.lookup(entity)
	if e == nil {
		return ErrNotManaged
	}
	if e.readOnly == readOnly {
		return nil
	}
	e.readOnly = readOnly
	if readOnly {
		e.loaded = nil
		return nil
	}
	state, err := e.persister.dehydrate(e.instance)
	if err != nil {
		return err
	}
	e.loaded = state
	return nil
}

// IsReadOnly reports whether a managed entity is excluded from dirty checking.
func (s *Session) IsReadOnly(entity interface{}) (bool, error) {
	e := s.pc.lookup(entity)
	if e == nil {
		return false, ErrNotManaged
	}
	return e.readOnly, nil
}

// Contains reports whether entity is managed by this session.
func (s *Session) Contains(entity interface{}) bool {
	e := s.pc.lookup(entity)
	return e != nil && e.status == statusManaged
}

// Detach stops managing entity. Its pending insert or delete is discarded.
func (s *Session) Detach(entity interface{}) error {
	e := s.pc.lookup(entity)
	if e == nil {
		return ErrNotManaged
	}
	s.inserts = withoutEntry(s.inserts, e)
	s.deletes = withoutEntry(s.deletes, e)
	s.pc.remove(e)
	return nil
}

// Clear detaches every managed entity and discards pending inserts and deletes.
func (s *Session) Clear() {
	s.pc.clear()
	s.inserts = nil
	s.deletes = nil
}

// Close ends the session. An active transaction is rolled back. Lazy
// associations of entities loaded by the session can no longer be initialized.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx != nil && s.tx.active {
		s.logger.Warn("Closing session with an active transaction, rolling back")
		err = s.tx.Rollback(context.Background())
	}
	s.closed = true
	s.Clear()
	return err
}

// IsOpen reports whether Close has not been called yet.
func (s *Session) IsOpen() bool { return !s.closed }

// Begin starts a database transaction on the session.
func (s *Session) Begin(ctx context.Context) (*Transaction, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx != nil && s.tx.active {
		return nil, ErrTransactionActive
	}
	dbTx, err := s.f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = &Transaction{s: s, tx: dbTx, active: true}
	s.f.stats.inc(&s.f.stats.transactionCount)
	return s.tx, nil
}

// Transaction returns the current transaction, or nil before Begin.
func (s *Session) Transaction() *Transaction { return s.tx }

func (s *Session) inTransaction() bool {
	return s.tx != nil && s.tx.active
}

// --- Statements ---

func (s *Session) executor() Executor {
	if s.inTransaction() {
		return s.tx.tx
	}
	return s.f.db
}

func (s *Session) beforeStatement(query string) {
	s.f.stats.inc(&s.f.stats.prepareStatementCount)
	if s.f.formatSQL {
		s.logger.Info("\n" + formatSQL(query))
	}
}

// translate maps lock acquisition failures to ErrLockTimeout.
func (s *Session) translate(err error) error {
	if err != nil && s.f.db.Dialect().IsLockTimeout(err) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

func (s *Session) queryRows(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	s.beforeStatement(query)
	rows, err := s.executor().Query(ctx, query, args...)
	return rows, s.translate(err)
}

func (s *Session) execStmt(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	s.beforeStatement(query)
	res, err := s.executor().Exec(ctx, query, args...)
	return res, s.translate(err)
}

func (s *Session) getValue(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	s.beforeStatement(query)
	return s.translate(s.executor().Get(ctx, dest, query, args...))
}

// --- Persist ---

// Persist makes a transient entity managed. Entities with a database
// generated identifier are inserted immediately; the others are inserted at
// flush. Cascading associations are persisted along with it.
func (s *Session) Persist(ctx context.Context, entity interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.persist(ctx, entity, make(map[interface{}]bool))
}

func (s *Session) entityValue(entity interface{}) (reflect.Value, *entityPersister, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, nil, fmt.Errorf("%w: expected a non-nil pointer, got %T", ErrUnknownEntity, entity)
	}
	p, err := s.f.persister(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, p, nil
}

func (s *Session) persist(ctx context.Context, entity interface{}, visited map[interface{}]bool) error {
	v, p, err := s.entityValue(entity)
	if err != nil {
		return err
	}
	if visited[entity] {
		return nil
	}
	visited[entity] = true

	if e := s.pc.lookup(entity); e != nil {
		if e.status == statusDeleted {
			e.status = statusManaged
			s.deletes = withoutEntry(s.deletes, e)
		}
		return s.cascadePersist(ctx, e, visited)
	}

	id := p.idOf(v)
	if p.identity() && id != 0 {
		return fmt.Errorf("%w: %s#%d", ErrDetachedEntity, p.name(), id)
	}
	if !p.identity() {
		if existing := s.pc.get(entityKey{p.meta.Type, id}); existing != nil {
			return fmt.Errorf("%w: %s#%d", ErrEntityExists, p.name(), id)
		}
	}

	// To-one targets first so the foreign key is known at insert time.
	for _, a := range p.owning {
		if !a.CascadePersist {
			continue
		}
		if target := p.ref(v, a).refTarget(); target != nil && s.pc.lookup(target) == nil {
			if err := s.persist(ctx, target, visited); err != nil {
				return err
			}
		}
	}

	if err := s.f.listeners.trigger(ctx, EventPrePersist, entity, nil); err != nil {
		return err
	}

	e := &entityEntry{
		key:       entityKey{p.meta.Type, id},
		instance:  v,
		persister: p,
	}
	s.bindIDRefs(e)
	if p.identity() {
		if err := s.executeInserts(ctx); err != nil {
			return err
		}
		if err := s.insertIdentity(ctx, e); err != nil {
			return err
		}
	} else {
		s.pc.add(e)
		s.inserts = append(s.inserts, e)
	}
	return s.cascadePersist(ctx, e, visited)
}

// cascadePersist persists the transient elements of cascading collections.
func (s *Session) cascadePersist(ctx context.Context, e *entityEntry, visited map[interface{}]bool) error {
	p := e.persister
	for _, a := range p.meta.Associations {
		if !a.CascadePersist {
			continue
		}
		if a.Collection() {
			bag := p.bag(e.instance, a)
			if !bag.bagLoaded() {
				continue
			}
			for _, item := range bag.bagItems() {
				if ie := s.pc.lookup(item); ie != nil && ie.status == statusManaged {
					continue
				}
				if err := s.persist(ctx, item, visited); err != nil {
					return err
				}
			}
			continue
		}
		if target := p.ref(e.instance, a).refTarget(); target != nil && s.pc.lookup(target) == nil {
			if err := s.persist(ctx, target, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertIdentity inserts one entity whose key the database generates.
func (s *Session) insertIdentity(ctx context.Context, e *entityEntry) error {
	p := e.persister
	state, err := p.dehydrate(e.instance)
	if err != nil {
		return err
	}
	query := s.f.builder.BuildInsertSQL(p.table(), p.columns[1:], 1)

	var id int64
	if returning := s.f.db.Dialect().ReturningClause(p.meta.PK.Column); returning != "" {
		if err := s.getValue(ctx, &id, query+" "+returning, state[1:]...); err != nil {
			return fmt.Errorf("insert %s: %w", p.name(), err)
		}
	} else {
		res, err := s.execStmt(ctx, query, state[1:]...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", p.name(), err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert %s: reading generated key: %w", p.name(), err)
		}
	}

	p.setID(e.instance, id)
	state[0] = snapshotValue(e.instance.Elem().FieldByIndex(p.meta.PK.Index))
	e.key.id = id
	s.pc.add(e)
	return s.afterInsert(ctx, e, state, false)
}

// afterInsert records an executed insert. Only assigned identifiers reach the
// second-level cache: the entry is put when the transaction commits.
func (s *Session) afterInsert(ctx context.Context, e *entityEntry, state []interface{}, cacheable bool) error {
	p := e.persister
	e.existsInDB = true
	if !p.immutable {
		e.loaded = state
	}
	s.writes++
	s.f.stats.inc(&s.f.stats.entityInsertCount)
	if cacheable && p.region != nil && p.cache != CacheNonStrictReadWrite {
		s.scheduleCache(ctx, p, e.key.id, p.disassemble(state), false)
	}
	return s.f.listeners.trigger(ctx, EventPostPersist, e.entity(), nil)
}

// --- Find ---

type loadOptions struct {
	lock     LockMode
	timeout  LockTimeout
	readOnly bool
	fetch    bool // loading an association, counted as a fetch
}

// FindOption customizes Find.
type FindOption func(*loadOptions)

// WithLock takes a pessimistic row lock while loading. It bypasses the
// second-level cache and requires an active transaction.
func WithLock(mode LockMode) FindOption {
	return func(o *loadOptions) { o.lock = mode }
}

// WithLockTimeout sets NOWAIT or SKIP LOCKED for WithLock.
func WithLockTimeout(timeout LockTimeout) FindOption {
	return func(o *loadOptions) { o.timeout = timeout }
}

// WithReadOnly loads the entity without a dirty checking snapshot.
func WithReadOnly() FindOption {
	return func(o *loadOptions) { o.readOnly = true }
}

// Find returns the entity of type T with the given identifier, looking in the
// persistence context, then the second-level cache, then the database.
// It returns ErrNotFound when no row exists.
func Find[T any](ctx context.Context, s *Session, id int64, opts ...FindOption) (*T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.f.persister(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.lock != LockNone && !s.inTransaction() {
		return nil, ErrNoTransaction
	}
	e, err := s.find(ctx, p, id, o)
	if err != nil {
		return nil, err
	}
	return e.entity().(*T), nil
}

func (s *Session) find(ctx context.Context, p *entityPersister, id int64, o loadOptions) (*entityEntry, error) {
	if e := s.pc.get(entityKey{p.meta.Type, id}); e != nil {
		if e.status != statusManaged {
			return nil, fmt.Errorf("%w: %s#%d was removed", ErrNotFound, p.name(), id)
		}
		if o.lock != LockNone && e.existsInDB {
			if err := s.lockRow(ctx, p, id, o); err != nil {
				return nil, err
			}
		}
		return e, nil
	}

	if o.lock == LockNone && p.region != nil {
		if entry, ok := p.region.get(ctx, id); ok {
			inst, fks, err := p.assemble(entry)
			if err == nil {
				e, err := s.register(p, inst, fks, o.readOnly)
				if err != nil {
					return nil, err
				}
				if err := s.f.listeners.trigger(ctx, EventPostLoad, e.entity(), nil); err != nil {
					return nil, err
				}
				return e, s.initializeEager(ctx, []*entityEntry{e})
			}
			s.logger.Warn("Discarding unreadable cache entry", "region", p.region.name, "id", id, "error", err)
			p.region.evict(ctx, id)
		}
	}

	query := s.f.builder.BuildSelectSQL(p.table(), p.columns, s.f.db.Dialect().Quote(p.meta.PK.Column)+" = ?")
	query = s.withLock(query, o)
	rows, err := s.queryRows(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load %s#%d: %w", p.name(), id, err)
	}
	all, fresh, err := s.hydrate(ctx, p, rows, o.readOnly)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s#%d", ErrNotFound, p.name(), id)
	}
	if o.fetch {
		s.f.stats.inc(&s.f.stats.entityFetchCount)
	}
	if err := s.initializeEager(ctx, fresh); err != nil {
		return nil, err
	}
	return all[0], nil
}

func (s *Session) withLock(query string, o loadOptions) string {
	locked, ok := s.f.builder.AppendLock(query, o.lock, o.timeout)
	if !ok {
		s.logger.Warn("Dialect has no row locks, lock request ignored",
			"dialect", s.f.db.Dialect().Name(), "mode", o.lock, "timeout", o.timeout)
	}
	return locked
}

// lockRow takes a row lock on an entity that is already managed.
func (s *Session) lockRow(ctx context.Context, p *entityPersister, id int64, o loadOptions) error {
	pk := p.meta.PK.Column
	query := s.withLock(s.f.builder.BuildSelectSQL(p.table(), []string{pk}, s.f.db.Dialect().Quote(pk)+" = ?"), o)
	rows, err := s.queryRows(ctx, query, id)
	if err != nil {
		return fmt.Errorf("lock %s#%d: %w", p.name(), id, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return s.translate(rows.Err())
}

// hydrate reads rows into managed entities. Rows whose entity is already
// managed resolve to the managed instance. It returns every entity in row
// order and, separately, the ones registered by this call. Eager
// associations of the fresh entities are left to the caller.
func (s *Session) hydrate(ctx context.Context, p *entityPersister, rows *sqlx.Rows, readOnly bool) (all, fresh []*entityEntry, err error) {
	type loaded struct {
		inst reflect.Value
		fks  []int64
	}
	var scanned []loaded
	for rows.Next() {
		inst, fks, err := p.scan(rows)
		if err != nil {
			rows.Close()
			return nil, nil, err
		}
		scanned = append(scanned, loaded{inst, fks})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, s.translate(err)
	}
	if err := rows.Close(); err != nil {
		return nil, nil, err
	}

	for _, l := range scanned {
		key := entityKey{p.meta.Type, p.idOf(l.inst)}
		if e := s.pc.get(key); e != nil {
			if e.status == statusManaged {
				all = append(all, e)
			}
			continue
		}
		e, err := s.register(p, l.inst, l.fks, readOnly)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, e)
		fresh = append(fresh, e)
	}

	for _, e := range fresh {
		s.f.stats.inc(&s.f.stats.entityLoadCount)
		if p.region != nil {
			state, err := p.dehydrate(e.instance)
			if err != nil {
				return nil, nil, err
			}
			p.region.putFromLoad(ctx, e.key.id, p.disassemble(state))
		}
		if err := s.f.listeners.trigger(ctx, EventPostLoad, e.entity(), nil); err != nil {
			return nil, nil, err
		}
	}
	return all, fresh, nil
}

// register adds a loaded instance to the persistence context and binds its
// associations to this session.
func (s *Session) register(p *entityPersister, inst reflect.Value, fks []int64, readOnly bool) (*entityEntry, error) {
	e := &entityEntry{
		key:        entityKey{p.meta.Type, p.idOf(inst)},
		instance:   inst,
		persister:  p,
		existsInDB: true,
		readOnly:   readOnly || s.defaultReadOnly,
	}
	s.bindAssociations(e, fks)
	if !e.readOnly && !p.immutable {
		loaded, err := p.dehydrate(inst)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s#%d: %w", p.name(), e.key.id, err)
		}
		e.loaded = loaded
	}
	s.pc.add(e)
	return e, nil
}

func (s *Session) bindAssociations(e *entityEntry, fks []int64) {
	p := e.persister
	owning := 0
	for _, a := range p.meta.Associations {
		target := p.targets[a.Name]
		switch {
		case a.Collection():
			p.bag(e.instance, a).bindLoader(s.bagLoader(e, a))
		case a.Owning():
			id := fks[owning]
			owning++
			if id == 0 {
				p.ref(e.instance, a).bind(0, nil)
				continue
			}
			p.ref(e.instance, a).bind(id, s.refLoader(target, id))
		default:
			p.ref(e.instance, a).bind(0, s.inverseLoader(e, a))
		}
	}
}

// bindIDRefs gives owning references that hold only an identifier a loader
// in this session, so Get returns the referenced row.
func (s *Session) bindIDRefs(e *entityEntry) {
	p := e.persister
	for _, a := range p.owning {
		r := p.ref(e.instance, a)
		if id := r.refID(); id != 0 && r.refTarget() == nil && r.refLoaded() {
			r.bind(id, s.refLoader(p.targets[a.Name], id))
		}
	}
}

func (s *Session) refLoader(target *entityPersister, id int64) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		if s.closed {
			return nil, fmt.Errorf("%w: %s#%d", ErrLazyInitialization, target.name(), id)
		}
		e, err := s.find(ctx, target, id, loadOptions{fetch: true})
		if err != nil {
			return nil, err
		}
		return e.entity(), nil
	}
}

// loadChildren selects the target rows whose foreign key points at owner.
func (s *Session) loadChildren(ctx context.Context, owner *entityEntry, name string, column string, target *entityPersister) ([]*entityEntry, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: %s.%s", ErrLazyInitialization, owner.persister.name(), name)
	}
	query := s.f.builder.BuildSelectSQL(target.table(), target.columns, s.f.db.Dialect().Quote(column)+" = ?")
	rows, err := s.queryRows(ctx, query, owner.key.id)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", owner.persister.name(), name, err)
	}
	all, fresh, err := s.hydrate(ctx, target, rows, false)
	if err != nil {
		return nil, err
	}
	for range fresh {
		s.f.stats.inc(&s.f.stats.entityFetchCount)
	}
	if err := s.initializeEager(ctx, fresh); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Session) bagLoader(owner *entityEntry, a schema.Association) func(ctx context.Context) ([]interface{}, error) {
	return func(ctx context.Context) ([]interface{}, error) {
		all, err := s.loadChildren(ctx, owner, a.Name, a.Column, owner.persister.targets[a.Name])
		if err != nil {
			return nil, err
		}
		items := make([]interface{}, len(all))
		for i, e := range all {
			items[i] = e.entity()
		}
		return items, nil
	}
}

func (s *Session) inverseLoader(owner *entityEntry, a schema.Association) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		all, err := s.loadChildren(ctx, owner, a.Name, a.Column, owner.persister.targets[a.Name])
		if err != nil || len(all) == 0 {
			return nil, err
		}
		return all[0].entity(), nil
	}
}

// initializeEager loads the eager associations of freshly loaded entities
// with one secondary select each.
func (s *Session) initializeEager(ctx context.Context, entries []*entityEntry) error {
	for _, e := range entries {
		p := e.persister
		for _, a := range p.meta.Associations {
			if !a.Eager {
				continue
			}
			if a.Collection() {
				if bag := p.bag(e.instance, a); !bag.bagLoaded() {
					if err := bag.load(ctx); err != nil {
						return err
					}
				}
				continue
			}
			if ref := p.ref(e.instance, a); !ref.refLoaded() {
				if err := ref.load(ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// --- Merge ---

// Merge copies the state of a detached entity onto the managed instance with
// the same identifier, loading it if needed, and returns the managed
// instance. A transient entity is copied into a new instance that is persisted.
// Collections are not merged.
func Merge[T any](ctx context.Context, s *Session, detached *T) (*T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	merged, err := s.merge(ctx, detached)
	if err != nil {
		return nil, err
	}
	return merged.(*T), nil
}

func (s *Session) merge(ctx context.Context, entity interface{}) (interface{}, error) {
	v, p, err := s.entityValue(entity)
	if err != nil {
		return nil, err
	}
	if e := s.pc.lookup(entity); e != nil && e.status == statusManaged {
		return entity, nil
	}

	id := p.idOf(v)
	var managed *entityEntry
	if id != 0 || !p.identity() {
		managed, err = s.find(ctx, p, id, loadOptions{})
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if managed == nil {
		copied := p.newInstance()
		s.copyState(p, copied, v, !p.identity())
		if err := s.Persist(ctx, copied.Interface()); err != nil {
			return nil, err
		}
		return copied.Interface(), nil
	}
	s.copyState(p, managed.instance, v, false)
	return managed.entity(), nil
}

func (s *Session) copyState(p *entityPersister, dst, src reflect.Value, withPK bool) {
	for _, f := range p.meta.Fields {
		if f.PK && !withPK {
			continue
		}
		dst.Elem().FieldByIndex(f.Index).Set(src.Elem().FieldByIndex(f.Index))
	}
	for _, a := range p.owning {
		from, to := p.ref(src, a), p.ref(dst, a)
		if target := from.refTarget(); target != nil {
			to.initialize(target)
			continue
		}
		if id := from.refID(); id != to.refID() {
			if id == 0 {
				to.bind(0, nil)
			} else {
				to.bind(id, s.refLoader(p.targets[a.Name], id))
			}
		}
	}
}

// --- Remove ---

// Remove schedules a managed entity for deletion at flush. Cascading and
// orphan-removing collections are removed first.
func (s *Session) Remove(ctx context.Context, entity interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	e := s.pc.lookup(entity)
	if e == nil {
		return fmt.Errorf("%w: %T", ErrNotManaged, entity)
	}
	return s.remove(ctx, e, make(map[interface{}]bool))
}

func (s *Session) remove(ctx context.Context, e *entityEntry, visited map[interface{}]bool) error {
	if visited[e.entity()] || e.status != statusManaged {
		return nil
	}
	visited[e.entity()] = true
	p := e.persister

	if err := s.f.listeners.trigger(ctx, EventPreRemove, e.entity(), nil); err != nil {
		return err
	}
	// Children referencing this row go first, cascaded parents after it.
	var parents []schema.Association
	for _, a := range p.meta.Associations {
		if !(a.CascadeRemove || a.OrphanRemoval) {
			continue
		}
		if a.Owning() {
			if a.CascadeRemove {
				parents = append(parents, a)
			}
			continue
		}
		if err := s.removeAssociated(ctx, e, a, visited); err != nil {
			return err
		}
	}

	if !e.existsInDB {
		s.inserts = withoutEntry(s.inserts, e)
		s.pc.remove(e)
	} else {
		e.status = statusDeleted
		s.deletes = append(s.deletes, e)
	}
	for _, a := range parents {
		if err := s.removeAssociated(ctx, e, a, visited); err != nil {
			return err
		}
	}
	return nil
}

// removeAssociated removes the managed entities association a of e points at.
func (s *Session) removeAssociated(ctx context.Context, e *entityEntry, a schema.Association, visited map[interface{}]bool) error {
	p := e.persister
	var targets []interface{}
	if a.Collection() {
		bag := p.bag(e.instance, a)
		if err := bag.load(ctx); err != nil {
			return err
		}
		targets = bag.bagItems()
	} else {
		ref := p.ref(e.instance, a)
		if err := ref.load(ctx); err != nil {
			return err
		}
		if t := ref.refTarget(); t != nil {
			targets = append(targets, t)
		}
	}
	for _, t := range targets {
		if te := s.pc.lookup(t); te != nil {
			if err := s.remove(ctx, te, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func withoutEntry(entries []*entityEntry, e *entityEntry) []*entityEntry {
	out := entries[:0]
	for _, x := range entries {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}

// --- Second-level cache bookkeeping ---

// scheduleCache records the cache write for an entity; a later write for the
// same entity in the transaction replaces it.
func (s *Session) scheduleCache(ctx context.Context, p *entityPersister, id int64, entry map[string]interface{}, lock bool) {
	key := entityKey{p.meta.Type, id}
	a, ok := s.cacheActions[key]
	if !ok {
		a = &cacheAction{region: p.region, id: id}
		s.cacheActions[key] = a
		s.cacheOrder = append(s.cacheOrder, key)
	}
	a.entry = entry
	if lock && !a.locked {
		a.locked = p.region.softLock(ctx, id)
	}
}

// afterCompletion applies or discards the scheduled cache writes.
func (s *Session) afterCompletion(ctx context.Context, committed bool) {
	for _, key := range s.cacheOrder {
		a := s.cacheActions[key]
		switch {
		case committed && a.entry != nil:
			a.region.put(ctx, a.id, a.entry)
		case a.entry == nil, a.region.strategy == CacheNonStrictReadWrite:
			a.region.evict(ctx, a.id)
		}
		if a.locked {
			a.region.unlock(ctx, a.id)
		}
	}
	s.cacheActions = make(map[entityKey]*cacheAction)
	s.cacheOrder = nil
}
