package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

type columnTag struct {
	Name     string
	PK       bool
	Identity bool
}

// parseColumnTag parses `db:"name[,pk][,identity]"`.
func parseColumnTag(tag string) columnTag {
	var out columnTag
	parts := strings.Split(tag, ",")
	out.Name = strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		switch strings.TrimSpace(opt) {
		case "pk", "primarykey":
			out.PK = true
		case "identity", "auto":
			out.Identity = true
		}
	}
	return out
}

// parseAssociation parses an `orm:"..."` tag such as
// `orm:"manyToOne;fk:post_id;fetch:lazy"` or
// `orm:"oneToMany;mappedBy:Post;cascade:all;orphanRemoval"`.
func parseAssociation(field reflect.StructField, index []int, tag string) (Association, error) {
	holder, ok := reflect.New(field.Type).Elem().Interface().(AssociationHolder)
	if !ok {
		return Association{}, fmt.Errorf("orm tag on %s requires a Ref or Bag field", field.Type)
	}
	assoc := Association{
		Name:   field.Name,
		Index:  index,
		Target: holder.TargetType(),
	}

	parts := strings.Split(tag, ";")
	switch strings.TrimSpace(parts[0]) {
	case "manyToOne":
		assoc.Kind = ManyToOne
		assoc.Eager = true
	case "oneToOne":
		assoc.Kind = OneToOne
		assoc.Eager = true
	case "oneToMany":
		assoc.Kind = OneToMany
	default:
		return Association{}, fmt.Errorf("unknown association kind %q", parts[0])
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, ":")
		switch strings.TrimSpace(key) {
		case "fk":
			assoc.Column = strings.TrimSpace(value)
		case "mappedBy":
			assoc.MappedBy = strings.TrimSpace(value)
		case "fetch":
			switch strings.TrimSpace(value) {
			case "eager":
				assoc.Eager = true
			case "lazy":
				assoc.Eager = false
			default:
				return Association{}, fmt.Errorf("unknown fetch type %q", value)
			}
		case "cascade":
			switch strings.TrimSpace(value) {
			case "all":
				assoc.CascadePersist, assoc.CascadeRemove = true, true
			case "persist":
				assoc.CascadePersist = true
			case "remove":
				assoc.CascadeRemove = true
			default:
				return Association{}, fmt.Errorf("unknown cascade type %q", value)
			}
		case "orphanRemoval":
			assoc.OrphanRemoval = true
		default:
			return Association{}, fmt.Errorf("unknown association option %q", key)
		}
	}

	if assoc.Collection() != holder.IsCollection() {
		return Association{}, fmt.Errorf("%s association needs a %s field", assoc.Kind, map[bool]string{true: "Bag", false: "Ref"}[assoc.Collection()])
	}
	if assoc.Kind == OneToMany && assoc.MappedBy == "" {
		return Association{}, fmt.Errorf("oneToMany requires mappedBy")
	}
	if assoc.Owning() && assoc.Column == "" {
		assoc.Column = ToSnakeCase(field.Name) + "_id"
	}
	return assoc, nil
}

var resolveMu sync.Mutex

// ResolveInverse fills in the foreign key column of inverse associations from
// the owning side on the target entity.
func ResolveInverse(meta *EntityMeta) error {
	resolveMu.Lock()
	defer resolveMu.Unlock()
	for i, a := range meta.Associations {
		if a.MappedBy == "" {
			continue
		}
		target, err := Inspect(a.Target)
		if err != nil {
			return err
		}
		owner, ok := target.Association(a.MappedBy)
		if !ok || !owner.Owning() {
			return fmt.Errorf("%s.%s: mappedBy %q is not an owning association on %s", meta.Name, a.Name, a.MappedBy, target.Name)
		}
		if owner.Target != meta.Type {
			return fmt.Errorf("%s.%s: %s.%s points at %s", meta.Name, a.Name, target.Name, owner.Name, owner.Target)
		}
		meta.Associations[i].Column = owner.Column
	}
	return nil
}
