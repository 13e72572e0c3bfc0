package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/medistore/payments/internal/payment/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
}

var ErrInvalidRequest = &paymentdomain.Error{
	Kind:    paymentdomain.KindValidation,
	Code:    "invalid_request",
	Message: "request body is invalid",
}

// ErrorHandlingMiddleware renders the last handler error. exposeDetail adds
// the underlying cause of persistence failures and is off in production.
func ErrorHandlingMiddleware(exposeDetail bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err, exposeDetail)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Success: false, Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error, exposeDetail bool) (int, errorPayload) {
	var domainErr *paymentdomain.Error
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	payload := errorPayload{
		Type:    string(domainErr.Kind),
		Code:    domainErr.Code,
		Message: domainErr.Message,
	}

	switch domainErr.Kind {
	case paymentdomain.KindValidation, paymentdomain.KindSignature:
		return http.StatusBadRequest, payload
	case paymentdomain.KindNotFound:
		return http.StatusNotFound, payload
	case paymentdomain.KindConflict:
		return http.StatusConflict, payload
	case paymentdomain.KindGateway:
		return http.StatusBadGateway, payload
	case paymentdomain.KindPersistence:
		if exposeDetail && domainErr.Err != nil {
			payload.Detail = domainErr.Err.Error()
		}
		return http.StatusInternalServerError, payload
	default:
		return http.StatusInternalServerError, payload
	}
}

func classifyErrorForLog(err error) (string, string) {
	var domainErr *paymentdomain.Error
	if errors.As(err, &domainErr) {
		return string(domainErr.Kind), domainErr.Code
	}
	return "internal_error", "internal_error"
}
