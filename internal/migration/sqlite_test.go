package migration

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestApplySQLiteSchemaIsRepeatable(t *testing.T) {
	conn := openMemory(t)

	require.NoError(t, ApplySQLiteSchema(conn))
	require.NoError(t, ApplySQLiteSchema(conn))

	for _, table := range []string{"customers", "orders", "payment_transactions", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestPaymentIDUniqueOnlyWhenAssigned(t *testing.T) {
	conn := openMemory(t)
	require.NoError(t, ApplySQLiteSchema(conn))

	require.NoError(t, conn.Exec(`INSERT INTO customers (id, user_id, name, email, created_at, updated_at)
		VALUES (1, 'u1', 'A', 'a@example.com', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error)

	insert := `INSERT INTO payment_transactions
		(id, gateway_order_id, gateway_payment_id, customer_id, item_id, item_name, amount, currency, created_at, updated_at)
		VALUES (?, ?, ?, 1, 'item', 'Item', 100, 'INR', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	require.NoError(t, conn.Exec(insert, 1, "order_1", nil).Error)
	require.NoError(t, conn.Exec(insert, 2, "order_2", nil).Error)
	require.NoError(t, conn.Exec(insert, 3, "order_3", "pay_1").Error)
	assert.Error(t, conn.Exec(insert, 4, "order_4", "pay_1").Error)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
