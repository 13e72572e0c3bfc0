package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Note keys attached to every gateway order so a webhook can rebuild the
// local rows without any other context.
const (
	NoteCustomerID    = "customer_id"
	NoteUserID        = "user_id"
	NoteCustomerName  = "customer_name"
	NoteCustomerEmail = "customer_email"
	NoteItemID        = "medicine_id"
	NoteItemName      = "medicine_name"
)

type GatewayOrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	PaymentCapture bool
	Notes          map[string]string
}

type GatewayOrder struct {
	ID        string
	Amount    int64
	Currency  string
	Receipt   string
	Status    string
	Notes     map[string]string
	CreatedAt time.Time
}

// GatewayPayment is the gateway's authoritative view of one payment.
type GatewayPayment struct {
	ID               string
	OrderID          string
	Status           string
	Amount           int64
	Currency         string
	Method           string
	Bank             string
	Wallet           string
	VPA              string
	Email            string
	Contact          string
	Description      string
	Fee              *int64
	Tax              *int64
	Notes            map[string]string
	RawNotes         json.RawMessage
	ErrorCode        string
	ErrorDescription string
	CreatedAt        time.Time
}

type Gateway interface {
	// KeyID is the publishable key handed to the checkout client.
	KeyID() string
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (GatewayPayment, error)
	ListOrderPayments(ctx context.Context, orderID string) ([]GatewayPayment, error)
}

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// WebhookEvent is a parsed gateway push event.
type WebhookEvent struct {
	ID        string
	Type      string
	AccountID string
	Payment   *GatewayPayment
	Order     *GatewayOrder
	CreatedAt time.Time
}
