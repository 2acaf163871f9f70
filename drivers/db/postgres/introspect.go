package postgres

import (
	"context"
	"fmt"
)

// TableColumns lists the columns of table in the current schema, or none
// when it does not exist.
func (a *PostgreSQLAdapter) TableColumns(ctx context.Context, table string) ([]string, error) {
	colQuery := `SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`
	var cols []string
	if err := a.Sqlx().SelectContext(ctx, &cols, colQuery, table); err != nil {
		return nil, fmt.Errorf("information_schema.columns failed: %w", err)
	}
	return cols, nil
}
