package persistlab

import (
	"bytes"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goomon/persistlab/internal/schema"
)

// entityPersister holds everything the session needs to read and write one
// entity type: its metadata, cache strategy and association targets.
type entityPersister struct {
	meta      *schema.EntityMeta
	columns   []string
	owning    []schema.Association
	cache     CacheConcurrency
	immutable bool
	region    *Region // nil when the entity is not cached
	targets   map[string]*entityPersister
}

func newPersister(t reflect.Type) (*entityPersister, error) {
	meta, err := schema.Inspect(t)
	if err != nil {
		return nil, err
	}
	if err := schema.ResolveInverse(meta); err != nil {
		return nil, err
	}
	p := &entityPersister{
		meta:    meta,
		columns: meta.Columns(),
		owning:  meta.OwningAssociations(),
		targets: make(map[string]*entityPersister),
	}
	proto := reflect.New(t).Interface()
	if c, ok := proto.(Cacheable); ok {
		p.cache = c.CacheConcurrency()
	}
	if im, ok := proto.(Immutable); ok {
		p.immutable = im.Immutable()
	}
	return p, nil
}

func (p *entityPersister) name() string  { return p.meta.Name }
func (p *entityPersister) table() string { return p.meta.Table }
func (p *entityPersister) identity() bool {
	return p.meta.PK.Identity
}

func (p *entityPersister) newInstance() reflect.Value {
	return reflect.New(p.meta.Type)
}

// idOf reads the primary key of an entity pointer.
func (p *entityPersister) idOf(v reflect.Value) int64 {
	return v.Elem().FieldByIndex(p.meta.PK.Index).Int()
}

func (p *entityPersister) setID(v reflect.Value, id int64) {
	v.Elem().FieldByIndex(p.meta.PK.Index).SetInt(id)
}

func (p *entityPersister) ref(v reflect.Value, a schema.Association) refAccessor {
	return v.Elem().FieldByIndex(a.Index).Addr().Interface().(refAccessor)
}

func (p *entityPersister) bag(v reflect.Value, a schema.Association) bagAccessor {
	return v.Elem().FieldByIndex(a.Index).Addr().Interface().(bagAccessor)
}

// fkValue returns the foreign key an owning association writes, or nil.
// A transient target (no identifier yet) is reported by ok=false.
func (p *entityPersister) fkValue(v reflect.Value, a schema.Association) (fk interface{}, ok bool) {
	ref := p.ref(v, a)
	if target := ref.refTarget(); target != nil {
		id := p.targets[a.Name].idOf(reflect.ValueOf(target))
		if id == 0 && p.targets[a.Name].identity() {
			return nil, false
		}
		ref.setRefID(id)
		return id, true
	}
	if id := ref.refID(); id != 0 {
		return id, true
	}
	return nil, true
}

// dehydrate captures the column values of an entity in p.columns order.
func (p *entityPersister) dehydrate(v reflect.Value) ([]interface{}, error) {
	state := make([]interface{}, 0, len(p.columns))
	elem := v.Elem()
	for _, f := range p.meta.Fields {
		state = append(state, snapshotValue(elem.FieldByIndex(f.Index)))
	}
	for _, a := range p.owning {
		fk, ok := p.fkValue(v, a)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrTransientReference, p.name(), a.Name)
		}
		state = append(state, fk)
	}
	return state, nil
}

// snapshotValue copies a field value so later mutation of the entity cannot
// change it. Pointers are stored by value, nil pointers as nil.
func snapshotValue(field reflect.Value) interface{} {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return nil
		}
		field = field.Elem()
	}
	if b, ok := field.Interface().([]byte); ok {
		return append([]byte(nil), b...)
	}
	return field.Interface()
}

// dirtyColumns returns the indexes of columns whose value differs from the
// loaded state. The primary key never counts as dirty.
func dirtyColumns(loaded, current []interface{}) []int {
	var dirty []int
	for i := 1; i < len(current); i++ {
		if !valuesEqual(loaded[i], current[i]) {
			dirty = append(dirty, i)
		}
	}
	return dirty
}

func valuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	}
	return reflect.DeepEqual(a, b)
}

// scan reads one row selected with p.columns into a new instance.
// Foreign keys are returned separately since Ref fields are bound by the session.
func (p *entityPersister) scan(rows *sqlx.Rows) (reflect.Value, []int64, error) {
	inst := p.newInstance()
	elem := inst.Elem()
	dest := make([]interface{}, 0, len(p.columns))
	for _, f := range p.meta.Fields {
		dest = append(dest, elem.FieldByIndex(f.Index).Addr().Interface())
	}
	fks := make([]sql.NullInt64, len(p.owning))
	for i := range fks {
		dest = append(dest, &fks[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return reflect.Value{}, nil, fmt.Errorf("scan %s: %w", p.name(), err)
	}
	ids := make([]int64, len(fks))
	for i, fk := range fks {
		if fk.Valid {
			ids[i] = fk.Int64
		}
	}
	return inst, ids, nil
}

// disassemble turns a state into a cache entry keyed by column. Nil values are left out.
func (p *entityPersister) disassemble(state []interface{}) map[string]interface{} {
	entry := make(map[string]interface{}, len(state))
	for i, col := range p.columns {
		if state[i] == nil {
			continue
		}
		entry[col] = cacheValue(state[i])
	}
	return entry
}

var byteSliceType = reflect.TypeOf([]byte(nil))

// cacheValue reduces named scalar types to their underlying kind, since
// cache entries are gob encoded and only carry registered types.
func cacheValue(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice:
		if rv.Type().ConvertibleTo(byteSliceType) {
			return rv.Convert(byteSliceType).Interface()
		}
	}
	return v
}

// assemble builds a new instance from a cache entry.
func (p *entityPersister) assemble(entry map[string]interface{}) (reflect.Value, []int64, error) {
	inst := p.newInstance()
	elem := inst.Elem()
	for _, f := range p.meta.Fields {
		raw, ok := entry[f.Column]
		if !ok {
			continue
		}
		field := elem.FieldByIndex(f.Index)
		target := f.Type
		if target.Kind() == reflect.Ptr {
			target = target.Elem()
		}
		rv := reflect.ValueOf(raw)
		if !rv.Type().ConvertibleTo(target) {
			return reflect.Value{}, nil, fmt.Errorf("cache entry for %s.%s holds %T", p.name(), f.GoName, raw)
		}
		rv = rv.Convert(target)
		if f.Type.Kind() == reflect.Ptr {
			ptr := reflect.New(target)
			ptr.Elem().Set(rv)
			rv = ptr
		}
		field.Set(rv)
	}
	fks := make([]int64, len(p.owning))
	for i, a := range p.owning {
		if raw, ok := entry[a.Column]; ok {
			fks[i] = reflect.ValueOf(raw).Convert(reflect.TypeOf(int64(0))).Int()
		}
	}
	return inst, fks, nil
}
