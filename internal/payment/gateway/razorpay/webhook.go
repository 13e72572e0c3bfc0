package razorpay

import (
	"encoding/json"
	"strings"

	"github.com/medistore/payments/internal/payment/domain"
)

type webhookEnvelope struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseWebhookEvent decodes a delivery body. eventID comes from the
// delivery header since the body does not carry one.
func ParseWebhookEvent(eventID string, body []byte) (domain.WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.WebhookEvent{}, domain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(envelope.Event)
	if eventType == "" {
		return domain.WebhookEvent{}, domain.ErrInvalidPayload
	}

	event := domain.WebhookEvent{
		ID:        strings.TrimSpace(eventID),
		Type:      eventType,
		AccountID: envelope.AccountID,
		CreatedAt: unixTime(envelope.CreatedAt),
	}
	if p := envelope.Payload.Payment; p != nil && p.Entity.ID != "" {
		payment := p.Entity.toDomain()
		event.Payment = &payment
	}
	if o := envelope.Payload.Order; o != nil && o.Entity.ID != "" {
		order := o.Entity.toDomain()
		event.Order = &order
	}

	if strings.HasPrefix(eventType, "payment.") && event.Payment == nil {
		return domain.WebhookEvent{}, domain.ErrInvalidPayload
	}
	return event, nil
}
