package persistlab

import (
	"context"
	"reflect"
)

// Ref is a to-one association. A lazy Ref holds only the foreign key until
// Get is called inside the session that loaded the owner.
type Ref[T any] struct {
	id     int64
	target *T
	loaded bool
	loader func(ctx context.Context) (interface{}, error)
}

// NewRef returns a Ref pointing at target.
func NewRef[T any](target *T) Ref[T] {
	return Ref[T]{target: target, loaded: true}
}

// RefID returns a Ref holding only an identifier, for associating an
// entity without loading the target.
func RefID[T any](id int64) Ref[T] {
	return Ref[T]{id: id}
}

// Get returns the target, loading it first when the association is lazy.
// It fails with ErrLazyInitialization once the owning session is closed.
func (r *Ref[T]) Get(ctx context.Context) (*T, error) {
	if r.loaded || r.loader == nil {
		return r.target, nil
	}
	v, err := r.loader(ctx)
	if err != nil {
		return nil, err
	}
	r.initialize(v)
	return r.target, nil
}

// Set points the association at target.
func (r *Ref[T]) Set(target *T) {
	r.target = target
	r.loaded = true
	r.loader = nil
	if target == nil {
		r.id = 0
	}
}

// ID returns the identifier of the target as last known to the session.
func (r *Ref[T]) ID() int64 { return r.id }

// IsLoaded reports whether the target has been initialized.
func (r *Ref[T]) IsLoaded() bool { return r.loaded || r.loader == nil }

// TargetType implements schema.AssociationHolder.
func (Ref[T]) TargetType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// IsCollection implements schema.AssociationHolder.
func (Ref[T]) IsCollection() bool { return false }

func (r *Ref[T]) refTarget() interface{} {
	if r.target == nil {
		return nil
	}
	return r.target
}

func (r *Ref[T]) refID() int64      { return r.id }
func (r *Ref[T]) setRefID(id int64) { r.id = id }
func (r *Ref[T]) refLoaded() bool   { return r.IsLoaded() }
func (r *Ref[T]) initialize(v interface{}) {
	r.loaded = true
	r.loader = nil
	if v == nil {
		r.target = nil
		return
	}
	r.target = v.(*T)
}

// bind resets the Ref to an uninitialized association. A nil loader marks
// it as initialized and empty.
func (r *Ref[T]) bind(id int64, loader func(ctx context.Context) (interface{}, error)) {
	r.id = id
	r.target = nil
	r.loader = loader
	r.loaded = loader == nil
}

func (r *Ref[T]) load(ctx context.Context) error {
	_, err := r.Get(ctx)
	return err
}

// refAccessor lets the session manage a Ref without knowing T.
type refAccessor interface {
	refTarget() interface{}
	refID() int64
	setRefID(id int64)
	refLoaded() bool
	initialize(v interface{})
	bind(id int64, loader func(ctx context.Context) (interface{}, error))
	load(ctx context.Context) error
}

// Bag is a to-many association: an unordered collection that may hold
// duplicates. A lazy Bag loads its items on first access.
type Bag[T any] struct {
	items   []*T
	loaded  bool
	loader  func(ctx context.Context) ([]interface{}, error)
	orphans []*T
}

// NewBag returns an initialized Bag holding items.
func NewBag[T any](items ...*T) Bag[T] {
	return Bag[T]{items: items, loaded: true}
}

// Items returns the elements, loading them first when the association is lazy.
// It fails with ErrLazyInitialization once the owning session is closed.
func (b *Bag[T]) Items(ctx context.Context) ([]*T, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}
	return b.items, nil
}

// Add appends item. The item is persisted at flush when the association cascades.
func (b *Bag[T]) Add(ctx context.Context, item *T) error {
	if err := b.ensure(ctx); err != nil {
		return err
	}
	b.items = append(b.items, item)
	return nil
}

// Remove takes item out of the bag. With orphan removal the item is deleted at flush.
func (b *Bag[T]) Remove(ctx context.Context, item *T) (bool, error) {
	if err := b.ensure(ctx); err != nil {
		return false, err
	}
	for i, it := range b.items {
		if it == item {
			b.items = append(b.items[:i], b.items[i+1:]...)
			b.orphans = append(b.orphans, item)
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of initialized elements.
func (b *Bag[T]) Len() int { return len(b.items) }

// IsLoaded reports whether the elements have been initialized.
func (b *Bag[T]) IsLoaded() bool { return b.loaded || b.loader == nil }

// TargetType implements schema.AssociationHolder.
func (Bag[T]) TargetType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// IsCollection implements schema.AssociationHolder.
func (Bag[T]) IsCollection() bool { return true }

func (b *Bag[T]) ensure(ctx context.Context) error {
	if b.IsLoaded() {
		return nil
	}
	vs, err := b.loader(ctx)
	if err != nil {
		return err
	}
	b.setItems(vs)
	return nil
}

func (b *Bag[T]) load(ctx context.Context) error { return b.ensure(ctx) }

func (b *Bag[T]) bagItems() []interface{} {
	out := make([]interface{}, 0, len(b.items))
	for _, it := range b.items {
		if it != nil {
			out = append(out, it)
		}
	}
	return out
}

func (b *Bag[T]) bagLoaded() bool { return b.IsLoaded() }

func (b *Bag[T]) setItems(vs []interface{}) {
	b.items = make([]*T, 0, len(vs))
	for _, v := range vs {
		b.items = append(b.items, v.(*T))
	}
	b.loaded = true
	b.loader = nil
}

func (b *Bag[T]) bindLoader(loader func(ctx context.Context) ([]interface{}, error)) {
	b.items = nil
	b.loaded = false
	b.loader = loader
	b.orphans = nil
}

func (b *Bag[T]) takeOrphans() []interface{} {
	out := make([]interface{}, 0, len(b.orphans))
	for _, o := range b.orphans {
		out = append(out, o)
	}
	b.orphans = nil
	return out
}

// bagAccessor lets the session manage a Bag without knowing T.
type bagAccessor interface {
	bagItems() []interface{}
	bagLoaded() bool
	setItems(vs []interface{})
	bindLoader(loader func(ctx context.Context) ([]interface{}, error))
	takeOrphans() []interface{}
	load(ctx context.Context) error
}
