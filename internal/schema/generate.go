package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// TypeMapping maps Go types to SQL column types per dialect.
var TypeMapping = map[string]map[string]string{
	"mysql": {
		"int":       "INT",
		"int8":      "TINYINT",
		"int16":     "SMALLINT",
		"int32":     "INT",
		"int64":     "BIGINT",
		"uint":      "INT UNSIGNED",
		"uint8":     "TINYINT UNSIGNED",
		"uint16":    "SMALLINT UNSIGNED",
		"uint32":    "INT UNSIGNED",
		"uint64":    "BIGINT UNSIGNED",
		"float32":   "FLOAT",
		"float64":   "DOUBLE",
		"string":    "VARCHAR(255)",
		"bool":      "BOOLEAN",
		"time.Time": "DATETIME(6)",
		"[]byte":    "BLOB",
	},
	"postgres": {
		"int":       "INTEGER",
		"int8":      "SMALLINT",
		"int16":     "SMALLINT",
		"int32":     "INTEGER",
		"int64":     "BIGINT",
		"uint":      "BIGINT",
		"uint8":     "SMALLINT",
		"uint16":    "INTEGER",
		"uint32":    "BIGINT",
		"uint64":    "NUMERIC",
		"float32":   "REAL",
		"float64":   "DOUBLE PRECISION",
		"string":    "VARCHAR(255)",
		"bool":      "BOOLEAN",
		"time.Time": "TIMESTAMP",
		"[]byte":    "BYTEA",
	},
	"sqlite": {
		"int":       "INTEGER",
		"int8":      "INTEGER",
		"int16":     "INTEGER",
		"int32":     "INTEGER",
		"int64":     "INTEGER",
		"uint":      "INTEGER",
		"uint8":     "INTEGER",
		"uint16":    "INTEGER",
		"uint32":    "INTEGER",
		"uint64":    "INTEGER",
		"float32":   "REAL",
		"float64":   "REAL",
		"string":    "TEXT",
		"bool":      "BOOLEAN",
		"time.Time": "DATETIME",
		"[]byte":    "BLOB",
	},
}

func sqlTypeFor(typeMap map[string]string, t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if sqlType, ok := typeMap[t.String()]; ok {
		return sqlType
	}
	if sqlType, ok := typeMap[t.Kind().String()]; ok {
		return sqlType
	}
	return "TEXT"
}

// columnDefault keeps columns NOT NULL while still accepting inserts that omit them.
func columnDefault(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "DEFAULT ''"
	case reflect.Bool:
		return "DEFAULT FALSE"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "DEFAULT 0"
	}
	return ""
}

func pkDefinition(f FieldInfo, dialect string) string {
	switch dialect {
	case "sqlite":
		if f.Identity {
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		}
		return "INTEGER PRIMARY KEY"
	case "postgres":
		if f.Identity {
			return "BIGSERIAL PRIMARY KEY"
		}
		return "BIGINT PRIMARY KEY"
	default:
		if f.Identity {
			return "BIGINT AUTO_INCREMENT PRIMARY KEY"
		}
		return "BIGINT PRIMARY KEY"
	}
}

// GenerateCreateTableSQL generates the CREATE TABLE statement for an entity,
// followed by one CREATE INDEX statement per foreign key column.
func GenerateCreateTableSQL(meta *EntityMeta, dialect string) ([]string, error) {
	typeMap, ok := TypeMapping[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	var cols []string
	for _, f := range meta.Fields {
		if f.PK {
			cols = append(cols, fmt.Sprintf("%s %s", f.Column, pkDefinition(f, dialect)))
			continue
		}
		colDef := fmt.Sprintf("%s %s", f.Column, sqlTypeFor(typeMap, f.Type))
		if f.Type.Kind() != reflect.Ptr {
			colDef += " NOT NULL"
			if def := columnDefault(f.Type); def != "" {
				colDef += " " + def
			}
		}
		cols = append(cols, colDef)
	}

	var constraints, indexSQLs []string
	for _, a := range meta.OwningAssociations() {
		target, err := Inspect(a.Target)
		if err != nil {
			return nil, err
		}
		cols = append(cols, fmt.Sprintf("%s %s", a.Column, sqlTypeFor(typeMap, target.PK.Type)))
		constraints = append(constraints, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", a.Column, target.Table, target.PK.Column))
		indexSQLs = append(indexSQLs, generateCreateIndexSQL(meta.Table, fmt.Sprintf("idx_%s_%s", meta.Table, a.Column), []string{a.Column}, false, dialect))
	}
	sort.Strings(indexSQLs)

	body := append(cols, constraints...)
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", meta.Table, strings.Join(body, ",\n  "))}
	return append(stmts, indexSQLs...), nil
}

// GenerateDropTableSQL generates the DROP TABLE statement for an entity.
func GenerateDropTableSQL(meta *EntityMeta, dialect string) string {
	if dialect == "postgres" {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", meta.Table)
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", meta.Table)
}

func generateCreateIndexSQL(tableName, indexName string, columns []string, unique bool, dialect string) string {
	prefix := "CREATE INDEX"
	if unique {
		prefix = "CREATE UNIQUE INDEX"
	}
	if dialect == "mysql" {
		// MySQL has no IF NOT EXISTS for indexes; the table is freshly created.
		return fmt.Sprintf("%s %s ON %s (%s)", prefix, indexName, tableName, strings.Join(columns, ", "))
	}
	return fmt.Sprintf("%s IF NOT EXISTS %s ON %s (%s)", prefix, indexName, tableName, strings.Join(columns, ", "))
}

// CreationOrder sorts entities so referenced tables come before the tables
// holding foreign keys to them. Dropping uses the reverse order.
func CreationOrder(metas []*EntityMeta) ([]*EntityMeta, error) {
	byType := make(map[reflect.Type]*EntityMeta, len(metas))
	for _, m := range metas {
		byType[m.Type] = m
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[reflect.Type]int, len(metas))
	ordered := make([]*EntityMeta, 0, len(metas))

	var visit func(m *EntityMeta) error
	visit = func(m *EntityMeta) error {
		switch state[m.Type] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("foreign key cycle through %s", m.Table)
		}
		state[m.Type] = visiting
		for _, a := range m.OwningAssociations() {
			if a.Target == m.Type {
				continue
			}
			target, ok := byType[a.Target]
			if !ok {
				return fmt.Errorf("%s.%s references %s which is not part of the persistence unit", m.Name, a.Name, a.Target.Name())
			}
			if err := visit(target); err != nil {
				return err
			}
		}
		state[m.Type] = done
		ordered = append(ordered, m)
		return nil
	}
	for _, m := range metas {
		if err := visit(m); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// MissingColumns returns the mapped columns absent from an existing table.
func MissingColumns(meta *EntityMeta, existing []string) []string {
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[strings.ToLower(c)] = true
	}
	var missing []string
	for _, c := range meta.Columns() {
		if !have[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	return missing
}
