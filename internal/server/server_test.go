package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/medistore/payments/internal/config"
	"github.com/medistore/payments/internal/observability"
	"github.com/medistore/payments/internal/payment/paymenttest"
	"github.com/medistore/payments/internal/payment/signature"
	"github.com/medistore/payments/internal/payment/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h *paymenttest.Harness) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := NewEngine(observability.Config{Environment: "test"}, h.Config)
	reconciler := webhook.NewReconciler(webhook.Params{
		Log:        h.Log,
		Config:     h.Config,
		Policy:     config.NewStaticReconcilePolicyHolder(config.DefaultReconcilePolicy()),
		PaymentSvc: h.Service,
		AuditSvc:   h.Audit,
	})
	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        h.Config,
		DB:         h.DB,
		Log:        h.Log,
		PaymentSvc: h.Service,
		Reconciler: reconciler,
	})
	return srv.Engine()
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func createOrderBody() map[string]any {
	return map[string]any{
		"amount":        150.5,
		"medicineId":    "med_paracetamol_500",
		"medicineName":  "Paracetamol 500mg",
		"userId":        "user-1",
		"customerName":  "Asha Rao",
		"customerEmail": "asha@example.com",
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	out := decode(t, rec)
	assert.Equal(t, false, out["success"])
	errBody, ok := out["error"].(map[string]any)
	require.True(t, ok, "error envelope missing: %s", rec.Body.String())
	code, _ := errBody["code"].(string)
	return code
}

func TestCreateOrderEndpoint(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)

	rec := doJSON(t, engine, http.MethodPost, "/payments/create-order", createOrderBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, paymenttest.KeyID, out["keyId"])
	order := out["order"].(map[string]any)
	assert.Equal(t, float64(15050), order["amount"])
	assert.Equal(t, "INR", order["currency"])
	assert.NotEmpty(t, order["id"])
	customer := out["customer"].(map[string]any)
	assert.Equal(t, "asha@example.com", customer["email"])
}

func TestCreateOrderEndpointRejectsInvalidInput(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)

	body := createOrderBody()
	body["amount"] = -5
	rec := doJSON(t, engine, http.MethodPost, "/payments/create-order", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/payments/create-order", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))
	assert.Empty(t, h.Gateway.Requests)
}

func TestCreateOrderEndpointWithoutCredentials(t *testing.T) {
	cfg := paymenttest.Config()
	cfg.Payments.KeyID = ""
	cfg.Payments.KeySecret = ""
	h := paymenttest.NewWithConfig(t, cfg)
	engine := newTestServer(t, h)

	rec := doJSON(t, engine, http.MethodPost, "/payments/create-order", createOrderBody())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, h.Gateway.Requests)
}

func TestCreateOrderEndpointGatewayFailure(t *testing.T) {
	h := paymenttest.New(t)
	h.Gateway.CreateErr = errors.New("connection reset")
	engine := newTestServer(t, h)

	rec := doJSON(t, engine, http.MethodPost, "/payments/create-order", createOrderBody())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)
	order := h.CreateOrder(t, "user-1", 150)
	h.Gateway.Put(h.Captured(order.Order.ID, "pay_1"))

	rec := doJSON(t, engine, http.MethodPost, "/payments/verify", map[string]any{
		"orderId":   order.Order.ID,
		"paymentId": "pay_1",
		"signature": "deadbeef",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/payments/verify", map[string]any{
		"orderId":   order.Order.ID,
		"paymentId": "pay_1",
		"signature": paymenttest.Sign(order.Order.ID, "pay_1"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "pay_1", out["paymentId"])
	txn := out["transaction"].(map[string]any)
	assert.Equal(t, "paid", txn["status"])
	assert.NotContains(t, txn, "gateway_signature")

	rec = doJSON(t, engine, http.MethodGet, "/payments/payment/pay_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/payments/order/"+order.Order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLookupEndpointsNotFound(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)

	rec := doJSON(t, engine, http.MethodGet, "/payments/payment/pay_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/payments/order/order_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransactionsEndpoint(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)
	h.CreateOrder(t, "user-1", 100)
	h.CreateOrder(t, "user-1", 200)

	rec := doJSON(t, engine, http.MethodGet, "/payments/transactions?userId=user-1&page_size=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Len(t, out["transactions"], 1)
	pageInfo := out["page_info"].(map[string]any)
	assert.Equal(t, true, pageInfo["has_more"])
	assert.NotEmpty(t, pageInfo["next_page_token"])

	rec = doJSON(t, engine, http.MethodGet, "/payments/transactions?userId=nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRazorpayWebhookEndpoint(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)
	order := h.CreateOrder(t, "user-1", 150)
	p := h.Captured(order.Order.ID, "pay_1")

	body, err := json.Marshal(map[string]any{
		"entity": "event",
		"event":  "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{"entity": map[string]any{
				"id":       p.ID,
				"order_id": p.OrderID,
				"status":   p.Status,
				"amount":   p.Amount,
				"currency": p.Currency,
				"method":   p.Method,
				"notes":    p.Notes,
			}},
		},
	})
	require.NoError(t, err)

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerRazorpayEventID, "evt_1")
		if sig != "" {
			req.Header.Set(headerRazorpaySignature, sig)
		}
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec
	}

	rec := send("")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(signature.WebhookSignature([]byte("other"), paymenttest.WebhookSecret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(signature.WebhookSignature(body, paymenttest.WebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, string(webhook.OutcomeReconciled), out["outcome"])

	rec = doJSON(t, engine, http.MethodGet, "/payments/payment/pay_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)

	rec := doJSON(t, engine, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "ok", out["database"])
	assert.Equal(t, true, out["gateway"])
}

func TestCheckoutFlow(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)

	rec := doJSON(t, engine, http.MethodPost, "/payments/create-order", map[string]any{
		"amount":        100,
		"medicineId":    "tirzepatide-5mg",
		"medicineName":  "Tirzepatide 5mg",
		"userId":        "u1",
		"customerName":  "Asha Rao",
		"customerEmail": "asha@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	orderID := decode(t, rec)["order"].(map[string]any)["id"].(string)

	h.Gateway.Put(h.Captured(orderID, "pay_xyz"))
	rec = doJSON(t, engine, http.MethodPost, "/payments/verify", map[string]any{
		"orderId":   orderID,
		"paymentId": "pay_xyz",
		"signature": paymenttest.Sign(orderID, "pay_xyz"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, engine, http.MethodGet, "/payments/payment/pay_xyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txn := decode(t, rec)["transaction"].(map[string]any)
	assert.Equal(t, "paid", txn["status"])
	assert.Equal(t, float64(10000), txn["amount"])
	assert.Equal(t, orderID, txn["gateway_order_id"])

	rec = doJSON(t, engine, http.MethodGet, "/payments/transactions?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode(t, rec)["balance"].(map[string]any)
	assert.Equal(t, float64(10000), balance["totalPaid"])
	assert.Equal(t, float64(1), balance["successfulTransactions"])
}

func TestHealthEndpointReportsUnavailableDatabase(t *testing.T) {
	h := paymenttest.New(t)
	engine := newTestServer(t, h)
	sqlDB, err := h.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec := doJSON(t, engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["database"])
}
