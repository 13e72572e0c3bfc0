package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindConfiguration Kind = "configuration_error"
	KindGateway       Kind = "gateway_error"
	KindSignature     Kind = "signature_mismatch"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindPersistence   Kind = "persistence_error"
)

// Error carries a taxonomy kind, a stable machine code and a client-safe
// message. Err holds the underlying cause and is never shown to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind and code, so wrapped instances
// compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidAmount        = newError(KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrInvalidCurrency      = newError(KindValidation, "invalid_currency", "currency must be a three letter code")
	ErrInvalidItem          = newError(KindValidation, "invalid_item", "medicineId and medicineName are required")
	ErrInvalidUserID        = newError(KindValidation, "invalid_user_id", "userId is required")
	ErrInvalidName          = newError(KindValidation, "invalid_name", "customerName is required")
	ErrInvalidEmail         = newError(KindValidation, "invalid_email", "customerEmail is required")
	ErrInvalidVerifyRequest = newError(KindValidation, "invalid_verify_request", "orderId, paymentId and signature are required")
	ErrInvalidPaymentID     = newError(KindValidation, "invalid_payment_id", "paymentId is required")
	ErrInvalidOrderID       = newError(KindValidation, "invalid_order_id", "orderId is required")
	ErrInvalidPageToken     = newError(KindValidation, "invalid_page_token", "page token is invalid")
	ErrPaymentOrderMismatch = newError(KindValidation, "payment_order_mismatch", "payment does not belong to this order")
	ErrMissingSignature     = newError(KindValidation, "missing_signature", "signature header is required")
	ErrInvalidPayload       = newError(KindValidation, "invalid_payload", "payload is not a valid event")

	ErrGatewayNotConfigured = newError(KindConfiguration, "gateway_not_configured", "payment gateway is not configured")
	ErrWebhookNotConfigured = newError(KindConfiguration, "webhook_not_configured", "payment webhook is not configured")

	ErrSignatureMismatch = newError(KindSignature, "signature_mismatch", "signature verification failed")

	ErrNotFound         = newError(KindNotFound, "transaction_not_found", "transaction not found")
	ErrCustomerNotFound = newError(KindNotFound, "customer_not_found", "customer not found")

	ErrPaymentConflict   = newError(KindConflict, "payment_conflict", "order already has a different payment attached")
	ErrInvalidTransition = newError(KindConflict, "invalid_transition", "transaction status cannot move backwards")

	ErrGateway     = newError(KindGateway, "gateway_error", "payment gateway request failed")
	ErrPersistence = newError(KindPersistence, "persistence_error", "payment processing failed")
)

// GatewayFailure wraps an upstream failure. message is the gateway's own
// description and is shown to the client.
func GatewayFailure(message string, err error) *Error {
	if message == "" {
		message = ErrGateway.Message
	}
	return &Error{Kind: KindGateway, Code: ErrGateway.Code, Message: message, Err: err}
}

// PersistenceFailure wraps a database error with the operation that failed.
func PersistenceFailure(op string, err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Code:    ErrPersistence.Code,
		Message: ErrPersistence.Message,
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

// KindOf reports the taxonomy kind of err, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
