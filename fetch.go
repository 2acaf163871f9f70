package persistlab

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx"

	"github.com/goomon/persistlab/internal/schema"
)

// --- Association Fetching ---

// fetchAssociation initializes association a on every owner with a single
// select over the collected keys, the way a join fetch does.
func (s *Session) fetchAssociation(ctx context.Context, p *entityPersister, owners []*entityEntry, a schema.Association) error {
	if len(owners) == 0 {
		return nil
	}
	target := p.targets[a.Name]
	if a.Owning() {
		return s.fetchToOne(ctx, p, owners, a, target)
	}
	return s.fetchToMany(ctx, p, owners, a, target)
}

// fetchToOne loads the targets of an owning to-one association by primary key.
func (s *Session) fetchToOne(ctx context.Context, p *entityPersister, owners []*entityEntry, a schema.Association, target *entityPersister) error {
	var ids []int64
	seen := make(map[int64]bool)
	for _, o := range owners {
		ref := p.ref(o.instance, a)
		if ref.refLoaded() {
			continue
		}
		id := ref.refID()
		if seen[id] {
			continue
		}
		seen[id] = true
		if e := s.pc.get(entityKey{target.meta.Type, id}); e != nil {
			continue
		}
		ids = append(ids, id)
	}

	var fresh []*entityEntry
	if len(ids) > 0 {
		var err error
		if fresh, err = s.selectIn(ctx, target, target.meta.PK.Column, ids); err != nil {
			return fmt.Errorf("fetch %s.%s: %w", p.name(), a.Name, err)
		}
	}
	for _, o := range owners {
		ref := p.ref(o.instance, a)
		if ref.refLoaded() {
			continue
		}
		if e := s.pc.get(entityKey{target.meta.Type, ref.refID()}); e != nil && e.status == statusManaged {
			ref.initialize(e.entity())
		}
	}
	return s.initializeEager(ctx, fresh)
}

// fetchToMany loads the children of every owner with one IN select on the
// foreign key and distributes them to the owners' bags.
func (s *Session) fetchToMany(ctx context.Context, p *entityPersister, owners []*entityEntry, a schema.Association, target *entityPersister) error {
	ids := make([]int64, 0, len(owners))
	for _, o := range owners {
		ids = append(ids, o.key.id)
	}
	fresh, err := s.selectIn(ctx, target, a.Column, ids)
	if err != nil {
		return fmt.Errorf("fetch %s.%s: %w", p.name(), a.Name, err)
	}

	// Group every managed child by the owner its foreign key points at.
	owning, ok := target.meta.Association(a.MappedBy)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownAssociation, target.name(), a.MappedBy)
	}
	groups := make(map[int64][]interface{})
	for _, e := range s.pc.entries() {
		if e.persister != target || e.status != statusManaged {
			continue
		}
		fk := target.ref(e.instance, owning).refID()
		if t := target.ref(e.instance, owning).refTarget(); t != nil {
			fk = p.idOf(reflect.ValueOf(t))
		}
		groups[fk] = append(groups[fk], e.entity())
	}

	for _, o := range owners {
		children := groups[o.key.id]
		if a.Collection() {
			bag := p.bag(o.instance, a)
			if !bag.bagLoaded() {
				bag.setItems(children)
			}
			continue
		}
		ref := p.ref(o.instance, a)
		if ref.refLoaded() {
			continue
		}
		if len(children) > 0 {
			ref.initialize(children[0])
		} else {
			ref.initialize(nil)
		}
	}
	return s.initializeEager(ctx, fresh)
}

// selectIn loads the target rows whose column matches one of ids and
// returns the entities registered by the call.
func (s *Session) selectIn(ctx context.Context, target *entityPersister, column string, ids []int64) ([]*entityEntry, error) {
	where := s.f.db.Dialect().Quote(column) + " IN (?)"
	query, args, err := sqlx.In(s.f.builder.BuildSelectSQL(target.table(), target.columns, where), ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	_, fresh, err := s.hydrate(ctx, target, rows, false)
	if err != nil {
		return nil, err
	}
	for range fresh {
		s.f.stats.inc(&s.f.stats.entityFetchCount)
	}
	return fresh, nil
}
