package mysql

import (
	"context"
	"fmt"
)

// TableColumns lists the columns of table in the connected database, or
// none when it does not exist.
func (a *MySQLAdapter) TableColumns(ctx context.Context, table string) ([]string, error) {
	colQuery := `SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`
	var cols []string
	if err := a.Sqlx().SelectContext(ctx, &cols, colQuery, table); err != nil {
		return nil, fmt.Errorf("information_schema.columns failed: %w", err)
	}
	return cols, nil
}
