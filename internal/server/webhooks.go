package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/medistore/payments/internal/payment/domain"
	"github.com/medistore/payments/internal/payment/webhook"
)

const (
	headerRazorpaySignature = "X-Razorpay-Signature"
	headerRazorpayEventID   = "X-Razorpay-Event-Id"
	maxWebhookBody          = 1 << 20
)

// HandleRazorpayWebhook verifies the signature over the raw body, so the
// body must not be bound or re-encoded before it reaches the reconciler.
func (s *Server) HandleRazorpayWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, paymentdomain.ErrInvalidPayload)
			return
		}
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.reconciler.Handle(c.Request.Context(), webhook.Delivery{
		Body:      body,
		Signature: c.GetHeader(headerRazorpaySignature),
		EventID:   c.GetHeader(headerRazorpayEventID),
	})
	if res.Transaction != nil {
		c.Set("gateway_order_id", res.Transaction.GatewayOrderID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"event":   res.Event,
		"outcome": res.Outcome,
	})
}
