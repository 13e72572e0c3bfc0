package migration

import (
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the postgres migrations for the embedded driver used
// in tests and local runs.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_customers_user_id ON customers (user_id)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY,
		gateway_order_id TEXT NOT NULL,
		customer_id INTEGER NOT NULL REFERENCES customers (id),
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL,
		receipt TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_gateway_order_id ON orders (gateway_order_id)`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		id INTEGER PRIMARY KEY,
		gateway_order_id TEXT NOT NULL,
		gateway_payment_id TEXT,
		gateway_signature TEXT,
		customer_id INTEGER NOT NULL REFERENCES customers (id),
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created'
			CHECK (status IN ('created', 'authorized', 'paid', 'failed')),
		payment_method TEXT,
		bank TEXT,
		wallet TEXT,
		vpa TEXT,
		email TEXT,
		contact TEXT,
		description TEXT,
		notes TEXT NOT NULL DEFAULT '{}',
		fee INTEGER NOT NULL DEFAULT 0,
		tax INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_transactions_gateway_order_id
		ON payment_transactions (gateway_order_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_transactions_gateway_payment_id
		ON payment_transactions (gateway_payment_id) WHERE gateway_payment_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS ix_payment_transactions_customer_id
		ON payment_transactions (customer_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS ix_payment_transactions_status_created_at
		ON payment_transactions (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		actor_type TEXT NOT NULL DEFAULT 'system',
		actor_id TEXT,
		request_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
}

// ApplySQLiteSchema creates the ledger tables on a sqlite connection.
func ApplySQLiteSchema(conn *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
