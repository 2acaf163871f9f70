package persistlab

import (
	"context"
	"fmt"
	"strings"
)

// FlushMode decides when pending changes are written to the database.
type FlushMode int

const (
	// FlushAuto flushes at commit and before a query whose tables overlap pending
	// changes. Native queries always flush.
	FlushAuto FlushMode = iota
	// FlushCommit flushes only at commit.
	FlushCommit
	// FlushAlways flushes before every query and at commit.
	FlushAlways
	// FlushManual flushes only on an explicit Session.Flush; commit does not flush.
	FlushManual
)

func (m FlushMode) String() string {
	switch m {
	case FlushAuto:
		return "AUTO"
	case FlushCommit:
		return "COMMIT"
	case FlushAlways:
		return "ALWAYS"
	case FlushManual:
		return "MANUAL"
	}
	return fmt.Sprintf("FlushMode(%d)", int(m))
}

// ParseFlushMode parses the flush_mode property.
func ParseFlushMode(s string) (FlushMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AUTO":
		return FlushAuto, nil
	case "COMMIT":
		return FlushCommit, nil
	case "ALWAYS":
		return FlushAlways, nil
	case "MANUAL":
		return FlushManual, nil
	}
	return FlushAuto, fmt.Errorf("unknown flush mode %q", s)
}

// Flush writes pending changes: cascades, queued inserts, dirty entities and
// deletes, in that order. It requires an active transaction.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.inTransaction() {
		return ErrNoTransaction
	}
	return s.flush(ctx)
}

func (s *Session) flush(ctx context.Context) error {
	writes := s.writes
	if err := s.cascadeOnFlush(ctx); err != nil {
		return err
	}
	if err := s.executeInserts(ctx); err != nil {
		return err
	}
	for _, e := range s.pc.entries() {
		if err := s.flushEntity(ctx, e); err != nil {
			return err
		}
	}
	if err := s.executeDeletes(ctx); err != nil {
		return err
	}
	if s.writes == writes {
		return nil
	}
	s.f.stats.inc(&s.f.stats.flushCount)
	return nil
}

// cascadeOnFlush persists transient elements added to cascading associations
// and removes orphans taken out of orphan-removing collections.
func (s *Session) cascadeOnFlush(ctx context.Context) error {
	visited := make(map[interface{}]bool)
	for _, e := range s.pc.entries() {
		if e.status != statusManaged || e.readOnly {
			continue
		}
		p := e.persister
		for _, a := range p.meta.Associations {
			if !a.Collection() {
				continue
			}
			orphans := p.bag(e.instance, a).takeOrphans()
			if !a.OrphanRemoval {
				continue
			}
			for _, o := range orphans {
				if oe := s.pc.lookup(o); oe != nil {
					if err := s.remove(ctx, oe, visited); err != nil {
						return err
					}
				}
			}
		}
		if err := s.cascadePersist(ctx, e, visited); err != nil {
			return err
		}
	}
	return nil
}

// executeInserts runs the queued inserts. With jdbc.batch_size above one,
// consecutive inserts into the same table share a multi-row statement.
func (s *Session) executeInserts(ctx context.Context) error {
	pending := make([]*entityEntry, 0, len(s.inserts))
	for _, e := range s.inserts {
		if e.status == statusManaged && !e.existsInDB {
			pending = append(pending, e)
		}
	}
	s.inserts = nil

	batch := s.f.batchSize
	if batch < 1 {
		batch = 1
	}
	for i := 0; i < len(pending); {
		p := pending[i].persister
		j := i + 1
		for j < len(pending) && j-i < batch && pending[j].persister == p {
			j++
		}
		group := pending[i:j]

		states := make([][]interface{}, len(group))
		args := make([]interface{}, 0, len(group)*len(p.columns))
		for k, e := range group {
			state, err := p.dehydrate(e.instance)
			if err != nil {
				s.inserts = pending[i:]
				return err
			}
			states[k] = state
			args = append(args, state...)
		}
		query := s.f.builder.BuildInsertSQL(p.table(), p.columns, len(group))
		if _, err := s.execStmt(ctx, query, args...); err != nil {
			s.inserts = pending[i:]
			return fmt.Errorf("insert %s: %w", p.name(), err)
		}
		for k, e := range group {
			if err := s.afterInsert(ctx, e, states[k], true); err != nil {
				s.inserts = pending[j:]
				return err
			}
		}
		i = j
	}
	return nil
}

// flushEntity dirty checks one entity and updates its changed columns.
func (s *Session) flushEntity(ctx context.Context, e *entityEntry) error {
	p := e.persister
	if e.status != statusManaged || !e.existsInDB || e.readOnly || e.loaded == nil || p.immutable {
		return nil
	}
	current, err := p.dehydrate(e.instance)
	if err != nil {
		return err
	}
	dirty := dirtyColumns(e.loaded, current)
	if len(dirty) == 0 {
		return nil
	}
	if p.region != nil && p.cache == CacheReadOnly {
		return fmt.Errorf("%w: %s#%d", ErrReadOnlyCacheUpdate, p.name(), e.key.id)
	}

	changed := make(map[string]interface{}, len(dirty))
	for _, i := range dirty {
		changed[p.columns[i]] = current[i]
	}
	if err := s.f.listeners.trigger(ctx, EventPreUpdate, e.entity(), changed); err != nil {
		return err
	}
	// PreUpdate listeners may have changed the entity again.
	if current, err = p.dehydrate(e.instance); err != nil {
		return err
	}
	if dirty = dirtyColumns(e.loaded, current); len(dirty) == 0 {
		return nil
	}

	cols := make([]string, len(dirty))
	args := make([]interface{}, 0, len(dirty)+1)
	for k, i := range dirty {
		cols[k] = p.columns[i]
		args = append(args, current[i])
	}
	args = append(args, e.key.id)
	if _, err := s.execStmt(ctx, s.f.builder.BuildUpdateSQL(p.table(), cols, p.meta.PK.Column), args...); err != nil {
		return fmt.Errorf("update %s#%d: %w", p.name(), e.key.id, err)
	}
	e.loaded = current
	s.writes++
	s.f.stats.inc(&s.f.stats.entityUpdateCount)

	if r := p.region; r != nil {
		switch p.cache {
		case CacheReadWrite:
			s.scheduleCache(ctx, p, e.key.id, p.disassemble(current), true)
			r.evict(ctx, e.key.id)
		case CacheNonStrictReadWrite:
			s.scheduleCache(ctx, p, e.key.id, nil, false)
		}
	}
	return s.f.listeners.trigger(ctx, EventPostUpdate, e.entity(), nil)
}

func (s *Session) executeDeletes(ctx context.Context) error {
	pending := s.deletes
	s.deletes = nil
	for i, e := range pending {
		if e.status != statusDeleted {
			continue
		}
		p := e.persister
		if _, err := s.execStmt(ctx, s.f.builder.BuildDeleteSQL(p.table(), p.meta.PK.Column), e.key.id); err != nil {
			s.deletes = pending[i:]
			return fmt.Errorf("delete %s#%d: %w", p.name(), e.key.id, err)
		}
		s.writes++
		s.f.stats.inc(&s.f.stats.entityDeleteCount)
		if r := p.region; r != nil {
			s.scheduleCache(ctx, p, e.key.id, nil, p.cache == CacheReadWrite)
			r.evict(ctx, e.key.id)
		}
		s.pc.remove(e)
		if err := s.f.listeners.trigger(ctx, EventPostRemove, e.entity(), nil); err != nil {
			return err
		}
	}
	return nil
}

// autoFlush runs before a query. spaces are the tables the query reads; nil
// means unknown, as for native SQL.
func (s *Session) autoFlush(ctx context.Context, spaces []string) error {
	if !s.inTransaction() {
		return nil
	}
	switch s.flushMode {
	case FlushAlways:
		return s.flush(ctx)
	case FlushAuto:
		if spaces == nil {
			return s.flush(ctx)
		}
		dirty := s.dirtySpaces()
		for _, t := range spaces {
			if dirty[t] {
				s.logger.Debug("Auto flush before query", "table", t)
				return s.flush(ctx)
			}
		}
	}
	return nil
}

// dirtySpaces returns the tables a flush would write to.
func (s *Session) dirtySpaces() map[string]bool {
	spaces := make(map[string]bool)
	for _, e := range s.inserts {
		spaces[e.persister.table()] = true
	}
	for _, e := range s.deletes {
		spaces[e.persister.table()] = true
	}
	for _, e := range s.pc.entries() {
		p := e.persister
		if e.status != statusManaged || e.readOnly {
			continue
		}
		for _, a := range p.meta.Associations {
			if !a.Collection() || !(a.CascadePersist || a.OrphanRemoval) {
				continue
			}
			bag := p.bag(e.instance, a)
			if !bag.bagLoaded() {
				continue
			}
			for _, item := range bag.bagItems() {
				if s.pc.lookup(item) == nil {
					spaces[p.targets[a.Name].table()] = true
					break
				}
			}
		}
		if spaces[p.table()] || !e.existsInDB || e.loaded == nil || p.immutable {
			continue
		}
		if current, err := p.dehydrate(e.instance); err != nil || len(dirtyColumns(e.loaded, current)) > 0 {
			spaces[p.table()] = true
		}
	}
	return spaces
}
