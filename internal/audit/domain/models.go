package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ActionOrderCreated        = "order.created"
	ActionOrderPersistFailed  = "order.persist_failed"
	ActionPaymentVerified     = "payment.verified"
	ActionPaymentConflict     = "payment.conflict"
	ActionWebhookReconciled   = "webhook.reconciled"
	ActionWebhookUnresolved   = "webhook.unresolved"
	ActionTransactionRepaired = "transaction.repaired"
	ActionTransactionSwept    = "transaction.swept"
	TargetTypePaymentOrder    = "payment_order"
	TargetTypeTransaction     = "payment_transaction"
	ActorTypeSystem           = "system"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	Action     string            `gorm:"not null" json:"action"`
	TargetType string            `gorm:"not null" json:"target_type"`
	TargetID   string            `gorm:"not null" json:"target_id"`
	ActorType  string            `gorm:"not null" json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	RequestID  *string           `json:"request_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Entry is what callers hand to the service; actor and request id are taken
// from the context.
type Entry struct {
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}
