package domain

import (
	"context"

	customerdomain "github.com/medistore/payments/internal/customer/domain"
	"github.com/medistore/payments/pkg/db/pagination"
)

type CreateOrderRequest struct {
	Amount        float64
	Currency      string
	ItemID        string
	ItemName      string
	UserID        string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

type OrderSummary struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type CreateOrderResult struct {
	Order    OrderSummary
	KeyID    string
	Customer customerdomain.Summary
}

type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

type VerifyResult struct {
	OrderID     string
	PaymentID   string
	Transaction PaymentTransaction
}

// Source names the path that applied a gateway payment to the ledger.
type Source string

const (
	SourceVerify  Source = "verify"
	SourceWebhook Source = "webhook"
	SourceSweeper Source = "sweeper"
)

type ApplyOptions struct {
	Source    Source
	Signature string
	// Status, when set, replaces the status derived from the payment entity.
	Status *Status
}

type CustomerTransactionsRequest struct {
	UserID string
	pagination.Pagination
}

type CustomerTransactions struct {
	Customer     customerdomain.Summary
	Balance      Balance
	Transactions []PaymentTransaction
	PageInfo     *pagination.PageInfo
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error)
	Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error)
	// ApplyPayment reconciles the gateway's view of a payment into the
	// ledger, repairing missing rows from the payment notes.
	ApplyPayment(ctx context.Context, payment GatewayPayment, opts ApplyOptions) (PaymentTransaction, error)
	GetByPaymentID(ctx context.Context, gatewayPaymentID string) (PaymentTransaction, error)
	GetByOrderID(ctx context.Context, gatewayOrderID string) (PaymentTransaction, error)
	ListCustomerTransactions(ctx context.Context, req CustomerTransactionsRequest) (CustomerTransactions, error)
}
