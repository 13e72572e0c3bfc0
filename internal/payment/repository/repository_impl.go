package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/medistore/payments/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const transactionColumns = `id, gateway_order_id, gateway_payment_id, gateway_signature, customer_id,
	item_id, item_name, amount, currency, status, payment_method, bank, wallet, vpa,
	email, contact, description, notes, fee, tax, created_at, updated_at`

func (r *repo) InsertOrder(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, gateway_order_id, customer_id, item_id, item_name, amount, currency, receipt, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		orderArgs(order)...,
	).Error
}

func (r *repo) EnsureOrder(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, gateway_order_id, customer_id, item_id, item_name, amount, currency, receipt, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gateway_order_id) DO NOTHING`,
		orderArgs(order)...,
	).Error
}

func orderArgs(order *domain.Order) []any {
	return []any{
		order.ID,
		order.GatewayOrderID,
		order.CustomerID,
		order.ItemID,
		order.ItemName,
		order.Amount,
		order.Currency,
		order.Receipt,
		order.CreatedAt,
	}
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transactionArgs(txn)...,
	).Error
}

func (r *repo) EnsureTransaction(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gateway_order_id) DO NOTHING`,
		transactionArgs(txn)...,
	).Error
}

func transactionArgs(txn *domain.PaymentTransaction) []any {
	status := txn.Status
	if status == "" {
		status = domain.StatusCreated
	}
	notes := txn.Notes
	if len(notes) == 0 {
		notes = []byte("{}")
	}
	return []any{
		txn.ID,
		txn.GatewayOrderID,
		txn.GatewayPaymentID,
		txn.GatewaySignature,
		txn.CustomerID,
		txn.ItemID,
		txn.ItemName,
		txn.Amount,
		txn.Currency,
		string(status),
		txn.PaymentMethod,
		txn.Bank,
		txn.Wallet,
		txn.VPA,
		txn.Email,
		txn.Contact,
		txn.Description,
		notes,
		txn.Fee,
		txn.Tax,
		txn.CreatedAt,
		txn.UpdatedAt,
	}
}

func (r *repo) AttachPaymentID(ctx context.Context, db *gorm.DB, gatewayOrderID, gatewayPaymentID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET gateway_payment_id = ?, updated_at = ?
		 WHERE gateway_order_id = ? AND gateway_payment_id IS NULL`,
		gatewayPaymentID,
		now,
		gatewayOrderID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateTransaction(ctx context.Context, db *gorm.DB, gatewayPaymentID string, update domain.TransactionUpdate, now time.Time) error {
	stmt := db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("gateway_payment_id = ?", gatewayPaymentID)
	if update.Status != nil {
		stmt = stmt.Where("status IN ?", statusStrings(update.Status.Predecessors()))
	}

	res := stmt.Updates(update.Columns(now))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	existing, err := r.FindByPaymentID(ctx, db, gatewayPaymentID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func (r *repo) FindOrder(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, gateway_order_id, customer_id, item_id, item_name, amount, currency, receipt, created_at
		 FROM orders
		 WHERE gateway_order_id = ?
		 LIMIT 1`,
		gatewayOrderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, "gateway_payment_id", gatewayPaymentID)
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, "gateway_order_id", gatewayOrderID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, column, value string) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE `+column+` = ?
		 LIMIT 1`,
		value,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID, filter domain.ListFilter) ([]*domain.PaymentTransaction, error) {
	var items []*domain.PaymentTransaction
	stmt := db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("customer_id = ?", customerID)
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

type balanceRow struct {
	TotalTransactions      int64
	SuccessfulTransactions int64
	TotalPaid              int64
	TotalFees              int64
	TotalTax               int64
}

func (r *repo) AggregateBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (domain.Balance, error) {
	var row balanceRow
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS total_transactions,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS successful_transactions,
			COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS total_paid,
			COALESCE(SUM(CASE WHEN status = ? THEN fee ELSE 0 END), 0) AS total_fees,
			COALESCE(SUM(CASE WHEN status = ? THEN tax ELSE 0 END), 0) AS total_tax
		 FROM payment_transactions
		 WHERE customer_id = ?`,
		domain.StatusPaid,
		domain.StatusPaid,
		domain.StatusPaid,
		domain.StatusPaid,
		customerID,
	).Scan(&row).Error
	if err != nil {
		return domain.Balance{}, err
	}

	return domain.Balance{
		TotalTransactions:      row.TotalTransactions,
		SuccessfulTransactions: row.SuccessfulTransactions,
		TotalPaid:              row.TotalPaid,
		TotalFees:              row.TotalFees,
		TotalTax:               row.TotalTax,
		NetBalance:             row.TotalPaid - row.TotalFees - row.TotalTax,
	}, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusCreated,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
