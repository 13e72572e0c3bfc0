package razorpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medistore/payments/internal/payment/domain"
)

type orderEntity struct {
	ID        string          `json:"id"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Receipt   string          `json:"receipt"`
	Status    string          `json:"status"`
	Notes     json.RawMessage `json:"notes"`
	CreatedAt int64           `json:"created_at"`
}

func (o orderEntity) toDomain() domain.GatewayOrder {
	return domain.GatewayOrder{
		ID:        o.ID,
		Amount:    o.Amount,
		Currency:  o.Currency,
		Receipt:   o.Receipt,
		Status:    o.Status,
		Notes:     decodeNotes(o.Notes),
		CreatedAt: unixTime(o.CreatedAt),
	}
}

type paymentEntity struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Status           string          `json:"status"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Method           string          `json:"method"`
	Bank             string          `json:"bank"`
	Wallet           string          `json:"wallet"`
	VPA              string          `json:"vpa"`
	Email            string          `json:"email"`
	Contact          string          `json:"contact"`
	Description      string          `json:"description"`
	Fee              *int64          `json:"fee"`
	Tax              *int64          `json:"tax"`
	Notes            json.RawMessage `json:"notes"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	CreatedAt        int64           `json:"created_at"`
}

func (p paymentEntity) toDomain() domain.GatewayPayment {
	notes := decodeNotes(p.Notes)
	raw := json.RawMessage("{}")
	if len(notes) > 0 {
		if encoded, err := json.Marshal(notes); err == nil {
			raw = encoded
		}
	}
	return domain.GatewayPayment{
		ID:               p.ID,
		OrderID:          p.OrderID,
		Status:           p.Status,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Method:           p.Method,
		Bank:             p.Bank,
		Wallet:           p.Wallet,
		VPA:              p.VPA,
		Email:            p.Email,
		Contact:          p.Contact,
		Description:      p.Description,
		Fee:              p.Fee,
		Tax:              p.Tax,
		Notes:            notes,
		RawNotes:         raw,
		ErrorCode:        p.ErrorCode,
		ErrorDescription: p.ErrorDescription,
		CreatedAt:        unixTime(p.CreatedAt),
	}
}

// decodeNotes accepts an object or the empty array the API sends when no
// notes were attached. Non-string values are stringified.
func decodeNotes(raw json.RawMessage) map[string]string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return map[string]string{}
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return map[string]string{}
	}
	notes := make(map[string]string, len(values))
	for k, v := range values {
		switch typed := v.(type) {
		case nil:
		case string:
			notes[k] = typed
		default:
			notes[k] = fmt.Sprint(typed)
		}
	}
	return notes
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
