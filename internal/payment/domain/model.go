package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusAuthorized Status = "authorized"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
)

// predecessors lists, for each status, the statuses a row may hold when it
// moves into it. Every status is its own predecessor so replays are no-ops.
var predecessors = map[Status][]Status{
	StatusCreated:    {StatusCreated},
	StatusAuthorized: {StatusCreated, StatusAuthorized},
	StatusPaid:       {StatusCreated, StatusAuthorized, StatusPaid},
	StatusFailed:     {StatusCreated, StatusAuthorized, StatusFailed},
}

func (s Status) Valid() bool {
	_, ok := predecessors[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Predecessors returns the statuses from which s is reachable, s included.
func (s Status) Predecessors() []Status {
	return append([]Status(nil), predecessors[s]...)
}

func CanTransition(from, to Status) bool {
	for _, p := range predecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// StatusFromGateway maps a gateway payment status onto the ledger. Statuses
// the ledger does not track (refunded, created) report false.
func StatusFromGateway(status string) (Status, bool) {
	switch status {
	case "captured":
		return StatusPaid, true
	case "authorized":
		return StatusAuthorized, true
	case "failed":
		return StatusFailed, true
	default:
		return "", false
	}
}

// StatusFromEvent maps a payment webhook event type onto the ledger status it
// asserts, independent of the status carried in the event's payment entity.
func StatusFromEvent(eventType string) (Status, bool) {
	switch eventType {
	case EventPaymentCaptured:
		return StatusPaid, true
	case EventPaymentFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// Order mirrors a gateway order. It is written once and never updated.
type Order struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	GatewayOrderID string       `gorm:"column:gateway_order_id;not null;uniqueIndex" json:"gateway_order_id"`
	CustomerID     snowflake.ID `gorm:"not null;index" json:"customer_id"`
	ItemID         string       `gorm:"not null" json:"item_id"`
	ItemName       string       `gorm:"not null" json:"item_name"`
	Amount         int64        `gorm:"not null" json:"amount"`
	Currency       string       `gorm:"not null" json:"currency"`
	Receipt        string       `gorm:"not null;size:40" json:"receipt"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Order) TableName() string { return "orders" }

// PaymentTransaction tracks one payment attempt against a gateway order.
type PaymentTransaction struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	GatewayOrderID   string         `gorm:"column:gateway_order_id;not null" json:"gateway_order_id"`
	GatewayPaymentID *string        `gorm:"column:gateway_payment_id" json:"gateway_payment_id"`
	GatewaySignature *string        `gorm:"column:gateway_signature" json:"-"`
	CustomerID       snowflake.ID   `gorm:"not null;index" json:"customer_id"`
	ItemID           string         `gorm:"not null" json:"item_id"`
	ItemName         string         `gorm:"not null" json:"item_name"`
	Amount           int64          `gorm:"not null" json:"amount"`
	Currency         string         `gorm:"not null" json:"currency"`
	Status           Status         `gorm:"not null" json:"status"`
	PaymentMethod    *string        `gorm:"column:payment_method" json:"payment_method,omitempty"`
	Bank             *string        `json:"bank,omitempty"`
	Wallet           *string        `json:"wallet,omitempty"`
	VPA              *string        `gorm:"column:vpa" json:"vpa,omitempty"`
	Email            *string        `json:"email,omitempty"`
	Contact          *string        `json:"contact,omitempty"`
	Description      *string        `json:"description,omitempty"`
	Notes            datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"notes"`
	Fee              int64          `gorm:"not null" json:"fee"`
	Tax              int64          `gorm:"not null" json:"tax"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

// PaymentID returns the attached gateway payment id or "".
func (t PaymentTransaction) PaymentID() string {
	if t.GatewayPaymentID == nil {
		return ""
	}
	return *t.GatewayPaymentID
}

// Balance aggregates a customer's transactions in minor units.
type Balance struct {
	TotalTransactions      int64 `json:"totalTransactions"`
	SuccessfulTransactions int64 `json:"successfulTransactions"`
	TotalPaid              int64 `json:"totalPaid"`
	TotalFees              int64 `json:"totalFees"`
	TotalTax               int64 `json:"totalTax"`
	NetBalance             int64 `json:"netBalance"`
}

// TransactionCursor positions keyset pagination over a customer's history.
type TransactionCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Limit  int
	Cursor *TransactionCursor
}
