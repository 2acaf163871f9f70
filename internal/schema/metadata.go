package schema

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// --- Entity Metadata Cache ---

// FieldInfo holds pre-computed metadata for a single mapped column.
type FieldInfo struct {
	GoName   string       // Go field name
	Column   string       // Database column name
	Index    []int        // Index for fast field access via FieldByIndex
	Type     reflect.Type // Field type, used for DDL and scanning
	PK       bool
	Identity bool // Database generates the value on insert
}

// AssociationKind describes the cardinality of a mapped association.
type AssociationKind int

const (
	ManyToOne AssociationKind = iota
	OneToOne
	OneToMany
)

func (k AssociationKind) String() string {
	switch k {
	case ManyToOne:
		return "manyToOne"
	case OneToOne:
		return "oneToOne"
	case OneToMany:
		return "oneToMany"
	}
	return fmt.Sprintf("AssociationKind(%d)", int(k))
}

// Association holds the mapping of a Ref or Bag field.
type Association struct {
	Name           string // Go field name
	Kind           AssociationKind
	Index          []int
	Target         reflect.Type // struct type the association points at
	Column         string       // foreign key column; on the target table when MappedBy is set
	MappedBy       string       // inverse side: field name on the target holding the foreign key
	Eager          bool
	CascadePersist bool
	CascadeRemove  bool
	OrphanRemoval  bool
}

// Owning reports whether the foreign key column lives on the declaring table.
func (a Association) Owning() bool {
	return a.MappedBy == "" && a.Kind != OneToMany
}

// Collection reports whether the association is a to-many Bag.
func (a Association) Collection() bool {
	return a.Kind == OneToMany
}

// AssociationHolder is implemented by association field types so metadata
// can discover the target entity type without knowing the generic parameter.
type AssociationHolder interface {
	TargetType() reflect.Type
	IsCollection() bool
}

// EntityMeta holds pre-computed metadata about an entity struct.
type EntityMeta struct {
	Type         reflect.Type
	Name         string // entity name, defaults to the struct name
	Table        string
	PK           FieldInfo
	Fields       []FieldInfo   // scalar columns, primary key first
	Associations []Association // every Ref and Bag field
}

// Columns returns the selectable columns in scan order: scalar fields followed
// by the foreign key columns of owning associations.
func (m *EntityMeta) Columns() []string {
	cols := make([]string, 0, len(m.Fields)+len(m.Associations))
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
	}
	for _, a := range m.OwningAssociations() {
		cols = append(cols, a.Column)
	}
	return cols
}

// OwningAssociations returns the to-one associations whose foreign key is a column of this table.
func (m *EntityMeta) OwningAssociations() []Association {
	var out []Association
	for _, a := range m.Associations {
		if a.Owning() {
			out = append(out, a)
		}
	}
	return out
}

// Association looks up an association by Go field name.
func (m *EntityMeta) Association(name string) (Association, bool) {
	for _, a := range m.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

// FieldByColumn looks up a scalar field by column name.
func (m *EntityMeta) FieldByColumn(column string) (FieldInfo, bool) {
	for _, f := range m.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return FieldInfo{}, false
}

// metaCache stores EntityMeta structs, keyed by reflect.Type.
var metaCache sync.Map // map[reflect.Type]*EntityMeta

// tableNamer and entityNamer are optional methods an entity may declare.
type tableNamer interface{ TableName() string }
type entityNamer interface{ EntityName() string }

// Inspect retrieves or computes the metadata for an entity type.
func Inspect(t reflect.Type) (*EntityMeta, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct type, got %s", t.Kind())
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*EntityMeta), nil
	}

	meta := &EntityMeta{
		Type:  t,
		Name:  entityNameFromType(t),
		Table: tableNameFromType(t),
	}
	pkFound := false

	var processFields func(structType reflect.Type, parentIndex []int) error
	processFields = func(structType reflect.Type, parentIndex []int) error {
		for i := 0; i < structType.NumField(); i++ {
			field := structType.Field(i)
			index := append(append([]int{}, parentIndex...), i)

			if ormTag := field.Tag.Get("orm"); ormTag != "" {
				assoc, err := parseAssociation(field, index, ormTag)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", t.Name(), field.Name, err)
				}
				meta.Associations = append(meta.Associations, assoc)
				continue
			}

			if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get("db") == "" {
				if err := processFields(field.Type, index); err != nil {
					return err
				}
				continue
			}

			dbTag := field.Tag.Get("db")
			if dbTag == "-" || !field.IsExported() {
				continue
			}
			col := parseColumnTag(dbTag)
			if col.Name == "" {
				col.Name = ToSnakeCase(field.Name)
			}
			info := FieldInfo{
				GoName:   field.Name,
				Column:   col.Name,
				Index:    index,
				Type:     field.Type,
				PK:       col.PK,
				Identity: col.Identity,
			}
			if info.PK {
				if pkFound {
					return fmt.Errorf("%s declares more than one primary key", t.Name())
				}
				pkFound = true
				meta.PK = info
				meta.Fields = append([]FieldInfo{info}, meta.Fields...)
				continue
			}
			meta.Fields = append(meta.Fields, info)
		}
		return nil
	}
	if err := processFields(t, nil); err != nil {
		return nil, err
	}

	if !pkFound {
		// Fall back to a field named ID, the way most entities are declared.
		for i, f := range meta.Fields {
			if f.GoName == "ID" {
				f.PK = true
				meta.PK = f
				meta.Fields = append(append([]FieldInfo{f}, meta.Fields[:i]...), meta.Fields[i+1:]...)
				pkFound = true
				break
			}
		}
	}
	if !pkFound {
		return nil, fmt.Errorf("%s has no primary key: tag a field with db:\"col,pk\"", t.Name())
	}
	switch meta.PK.Type.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
	default:
		return nil, fmt.Errorf("%s primary key must be an integer, got %s", t.Name(), meta.PK.Type)
	}

	actual, _ := metaCache.LoadOrStore(t, meta)
	return actual.(*EntityMeta), nil
}

// MustInspect is Inspect for package-level entity declarations.
func MustInspect(t reflect.Type) *EntityMeta {
	meta, err := Inspect(t)
	if err != nil {
		panic(err)
	}
	return meta
}

func entityNameFromType(t reflect.Type) string {
	if namer, ok := reflect.New(t).Interface().(entityNamer); ok {
		if name := namer.EntityName(); name != "" {
			return name
		}
	}
	return t.Name()
}

// tableNameFromType prefers a TableName method and falls back to the
// pluralized snake_case struct name.
func tableNameFromType(t reflect.Type) string {
	if namer, ok := reflect.New(t).Interface().(tableNamer); ok {
		if name := namer.TableName(); name != "" {
			return name
		}
	}
	name := ToSnakeCase(t.Name())
	if strings.HasSuffix(name, "s") {
		return name
	}
	return name + "s"
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// ToSnakeCase converts a CamelCase identifier to snake_case.
func ToSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}
