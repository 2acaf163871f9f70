package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goomon/persistlab"
)

func TestSQLiteDialector(t *testing.T) {
	d := SQLiteDialector{}
	assert.Empty(t, d.LockClause(persistlab.PessimisticWrite, persistlab.LockNoWait))
	assert.Empty(t, d.ReturningClause("id"))
	assert.True(t, d.IsLockTimeout(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.False(t, d.IsLockTimeout(sqlite3.Error{Code: sqlite3.ErrConstraint}))
}

func TestSQLiteAdapter(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLiteAdapter(filepath.Join(t.TempDir(), "lab.db"))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Exec(ctx, "CREATE TABLE post (id INTEGER PRIMARY KEY, title TEXT)")
	require.NoError(t, err)

	cols, err := a.TableColumns(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, cols)

	cols, err = a.TableColumns(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, cols)

	tx, err := a.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO post (id, title) VALUES (?, ?)", 1, "draft")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, a.Get(ctx, &count, "SELECT COUNT(*) FROM post"))
	assert.Zero(t, count)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = a.Exec(ctx, "SELECT 1")
	assert.Error(t, err)
}

func TestOpenDataSourceRegistersSQLite(t *testing.T) {
	ds, err := persistlab.OpenDataSource(persistlab.DataSourceConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "lab.db"),
	})
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, "sqlite", ds.Dialect().Name())
}
