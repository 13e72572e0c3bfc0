// Package razorpay talks to the Razorpay REST API and parses its webhooks.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/medistore/payments/internal/config"
	"github.com/medistore/payments/internal/observability/metrics"
	"github.com/medistore/payments/internal/observability/tracing"
	"github.com/medistore/payments/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	opCreateOrder       = "create_order"
	opFetchPayment      = "fetch_payment"
	opListOrderPayments = "list_order_payments"

	maxErrorBody = 64 << 10
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("razorpay %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("razorpay %d", e.StatusCode)
}

func (e *APIError) GatewayStatus() int { return e.StatusCode }

// GatewayMessage is the gateway's own description, safe to show to clients.
func (e *APIError) GatewayMessage() string { return e.Description }

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.PaymentMetrics `optional:"true"`
	HTTP    *http.Client            `optional:"true"`
}

type Client struct {
	keyID      string
	keySecret  string
	baseURL    string
	maxRetries int
	http       *http.Client
	log        *zap.Logger
	metrics    *metrics.PaymentMetrics
	tracer     trace.Tracer
}

func New(p Params) *Client {
	cfg := p.Config.Payments
	httpClient := p.HTTP
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.razorpay.com/v1"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		baseURL:    baseURL,
		maxRetries: maxRetries,
		http:       httpClient,
		log:        log.Named("razorpay.client"),
		metrics:    p.Metrics,
		tracer:     otel.Tracer("storefront/razorpay"),
	}
}

func (c *Client) KeyID() string { return c.keyID }

type orderRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt"`
	PaymentCapture int               `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

func (c *Client) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	capture := 0
	if req.PaymentCapture {
		capture = 1
	}
	body := orderRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		Receipt:        req.Receipt,
		PaymentCapture: capture,
		Notes:          req.Notes,
	}

	var out orderEntity
	if err := c.do(ctx, opCreateOrder, http.MethodPost, "/orders", body, &out); err != nil {
		return domain.GatewayOrder{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (domain.GatewayPayment, error) {
	var out paymentEntity
	path := "/payments/" + url.PathEscape(paymentID)
	if err := c.do(ctx, opFetchPayment, http.MethodGet, path, nil, &out); err != nil {
		return domain.GatewayPayment{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) ListOrderPayments(ctx context.Context, orderID string) ([]domain.GatewayPayment, error) {
	var out struct {
		Count int             `json:"count"`
		Items []paymentEntity `json:"items"`
	}
	path := "/orders/" + url.PathEscape(orderID) + "/payments"
	if err := c.do(ctx, opListOrderPayments, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	payments := make([]domain.GatewayPayment, 0, len(out.Items))
	for _, item := range out.Items {
		payments = append(payments, item.toDomain())
	}
	return payments, nil
}

// do issues one logical call. Transport failures are retried for every
// operation; 429 and 5xx only for idempotent reads.
func (c *Client) do(ctx context.Context, op, method, path string, in any, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "razorpay."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.SafeAttributes(
			attribute.String("http.method", method),
			attribute.String("payment.gateway", "razorpay"),
		)...),
	)
	start := time.Now()
	defer func() {
		c.metrics.ObserveGatewayCall(op, time.Since(start), err)
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, op+" failed")
		}
		span.End()
	}()

	var payload []byte
	if in != nil {
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	// A POST that reached the gateway may already have created the order, so
	// only requests that never got a response are sent again.
	idempotent := method == http.MethodGet
	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		if attempt > 1 {
			c.metrics.IncGatewayRetry(op)
		}
		return c.roundTrip(ctx, method, path, payload, idempotent)
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn("gateway call failed, retrying",
				zap.String("operation", op),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	span.SetAttributes(attribute.Int("razorpay.attempts", attempt))
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, idempotent bool) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody*16))
	if err != nil {
		if !idempotent {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := parseAPIError(resp.StatusCode, body)
	if idempotent && apiErr.retryable() {
		return nil, apiErr
	}
	return nil, backoff.Permanent(apiErr)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var envelope struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Description = envelope.Error.Description
	}
	return apiErr
}
