package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertOrder fails on a duplicate gateway order id.
	InsertOrder(ctx context.Context, db *gorm.DB, order *Order) error
	// EnsureOrder inserts unless the gateway order id already exists.
	EnsureOrder(ctx context.Context, db *gorm.DB, order *Order) error
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	// EnsureTransaction inserts unless a row for the gateway order id exists.
	EnsureTransaction(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	// AttachPaymentID sets gateway_payment_id only while it is null and
	// reports whether this call won.
	AttachPaymentID(ctx context.Context, db *gorm.DB, gatewayOrderID, gatewayPaymentID string, now time.Time) (bool, error)
	// UpdateTransaction applies update to the row holding gatewayPaymentID.
	// A status change is only applied from an allowed predecessor; otherwise
	// ErrInvalidTransition is returned and nothing changes.
	UpdateTransaction(ctx context.Context, db *gorm.DB, gatewayPaymentID string, update TransactionUpdate, now time.Time) error
	FindOrder(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*Order, error)
	FindByPaymentID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*PaymentTransaction, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*PaymentTransaction, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID, filter ListFilter) ([]*PaymentTransaction, error)
	AggregateBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (Balance, error)
	// ListStale returns created rows older than before, oldest first.
	ListStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]PaymentTransaction, error)
}
