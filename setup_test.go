package persistlab_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab"
	"github.com/goomon/persistlab/drivers/db/sqlite"
)

// newTestFactory builds a factory over a fresh file-based SQLite database.
// The schema is created from the entities; props override the defaults.
func newTestFactory(tb testing.TB, props persistlab.Properties, entities ...interface{}) *persistlab.Factory {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", filepath.Join(tb.TempDir(), "lab.db"))
	adapter, err := sqlite.NewSQLiteAdapter(dsn)
	require.NoError(tb, err, "Failed to create SQLite adapter")

	unit := &persistlab.PersistenceUnit{
		Name:     tb.Name(),
		Entities: entities,
		Properties: persistlab.Properties{
			persistlab.PropSchemaAction:       persistlab.SchemaCreate,
			persistlab.PropGenerateStatistics: "true",
		},
		DataSource: adapter,
	}
	for k, v := range props {
		unit.Properties[k] = v
	}

	f, err := persistlab.NewFactory(context.Background(), unit)
	if err != nil {
		adapter.Close()
	}
	require.NoError(tb, err, "Failed to build factory")
	tb.Cleanup(func() {
		if err := f.Close(); err != nil {
			tb.Logf("Error closing factory: %v", err)
		}
	})
	return f
}

// doInTx runs work in its own transaction and fails the test on error.
func doInTx(tb testing.TB, f *persistlab.Factory, work func(ctx context.Context, s *persistlab.Session) error) {
	tb.Helper()
	require.NoError(tb, f.Do(context.Background(), work))
}

// countRows counts the rows of table with a native query outside any session.
func countRows(tb testing.TB, f *persistlab.Factory, table string) int {
	tb.Helper()
	var n int
	require.NoError(tb, f.DataSource().Get(context.Background(), &n, "SELECT COUNT(*) FROM "+table))
	return n
}
