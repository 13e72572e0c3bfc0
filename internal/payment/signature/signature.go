// Package signature holds the two HMAC-SHA256 checks used by the payment
// flows. They are deliberately separate: the checkout check signs
// "orderId|paymentId" with the API key secret, the webhook check signs the
// raw request body with the webhook secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// PaymentSignature returns the hex digest the gateway hands the checkout
// client after a successful payment.
func PaymentSignature(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayment reports whether signature authenticates the order/payment
// pair under secret.
func VerifyPayment(orderID, paymentID, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return equal(PaymentSignature(orderID, paymentID, secret), signature)
}

// WebhookSignature returns the hex digest of body under secret.
func WebhookSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature header against the exact bytes received.
func VerifyWebhook(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return equal(WebhookSignature(body, secret), signature)
}

// equal compares the digest byte for byte. Case and whitespace are part of
// the signature.
func equal(expected, given string) bool {
	return hmac.Equal([]byte(expected), []byte(given))
}
