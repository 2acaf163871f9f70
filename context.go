package persistlab

import "reflect"

type entityKey struct {
	typ reflect.Type
	id  int64
}

type entryStatus int

const (
	statusManaged entryStatus = iota
	statusDeleted
	statusGone
)

// entityEntry tracks one managed instance.
type entityEntry struct {
	key        entityKey
	instance   reflect.Value // pointer to the entity struct
	persister  *entityPersister
	loaded     []interface{} // state at load or last flush; nil while read-only
	status     entryStatus
	existsInDB bool
	readOnly   bool
}

func (e *entityEntry) entity() interface{} { return e.instance.Interface() }

// persistenceContext is the first-level cache: at most one instance per
// entity type and identifier.
type persistenceContext struct {
	byKey      map[entityKey]*entityEntry
	byInstance map[interface{}]*entityEntry
	order      []*entityEntry
}

func newPersistenceContext() *persistenceContext {
	return &persistenceContext{
		byKey:      make(map[entityKey]*entityEntry),
		byInstance: make(map[interface{}]*entityEntry),
	}
}

func (pc *persistenceContext) add(e *entityEntry) {
	pc.byKey[e.key] = e
	pc.byInstance[e.entity()] = e
	pc.order = append(pc.order, e)
}

func (pc *persistenceContext) get(key entityKey) *entityEntry {
	return pc.byKey[key]
}

func (pc *persistenceContext) lookup(entity interface{}) *entityEntry {
	return pc.byInstance[entity]
}

func (pc *persistenceContext) remove(e *entityEntry) {
	if pc.byKey[e.key] == e {
		delete(pc.byKey, e.key)
	}
	delete(pc.byInstance, e.entity())
	e.status = statusGone
}

// entries returns the live entries in registration order.
func (pc *persistenceContext) entries() []*entityEntry {
	live := pc.order[:0]
	for _, e := range pc.order {
		if e.status != statusGone {
			live = append(live, e)
		}
	}
	pc.order = live
	return append([]*entityEntry(nil), live...)
}

func (pc *persistenceContext) clear() {
	for _, e := range pc.order {
		e.status = statusGone
	}
	pc.byKey = make(map[entityKey]*entityEntry)
	pc.byInstance = make(map[interface{}]*entityEntry)
	pc.order = nil
}
