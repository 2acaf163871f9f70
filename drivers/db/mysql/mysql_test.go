package mysql

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/goomon/persistlab"
)

func TestMySQLDialector(t *testing.T) {
	d := MySQLDialector{}
	assert.Equal(t, "`post`", d.Quote("post"))
	assert.Equal(t, "FOR SHARE NOWAIT", d.LockClause(persistlab.PessimisticRead, persistlab.LockNoWait))
	assert.Equal(t, "FOR UPDATE", d.LockClause(persistlab.PessimisticWrite, persistlab.LockWait))
	assert.Empty(t, d.LockClause(persistlab.LockNone, persistlab.LockSkipLocked))
	assert.Empty(t, d.ReturningClause("id"))

	assert.True(t, d.IsLockTimeout(&mysql.MySQLError{Number: 3572}))
	assert.True(t, d.IsLockTimeout(&mysql.MySQLError{Number: 1205}))
	assert.False(t, d.IsLockTimeout(&mysql.MySQLError{Number: 1062}))
}
