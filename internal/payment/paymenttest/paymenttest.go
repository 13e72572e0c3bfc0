// Package paymenttest wires the payment service against sqlite and an
// in-memory gateway for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/medistore/payments/internal/audit/domain"
	auditrepo "github.com/medistore/payments/internal/audit/repository"
	auditservice "github.com/medistore/payments/internal/audit/service"
	"github.com/medistore/payments/internal/clock"
	"github.com/medistore/payments/internal/config"
	customerdomain "github.com/medistore/payments/internal/customer/domain"
	customerrepo "github.com/medistore/payments/internal/customer/repository"
	customerservice "github.com/medistore/payments/internal/customer/service"
	"github.com/medistore/payments/internal/payment/domain"
	paymentrepo "github.com/medistore/payments/internal/payment/repository"
	paymentservice "github.com/medistore/payments/internal/payment/service"
	"github.com/medistore/payments/internal/payment/signature"
	"github.com/medistore/payments/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	KeyID         = "rzp_test_key"
	KeySecret     = "test_key_secret"
	WebhookSecret = "test_webhook_secret"
)

var Epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type Harness struct {
	DB           *gorm.DB
	Log          *zap.Logger
	Node         *snowflake.Node
	Clock        *clock.FakeClock
	Config       config.Config
	Gateway      *Gateway
	Repo         domain.Repository
	CustomerRepo customerdomain.Repository
	Audit        auditdomain.Service
	Service      domain.Service
}

// New builds a harness with gateway credentials configured.
func New(t testing.TB) *Harness {
	t.Helper()
	return NewWithConfig(t, Config())
}

func Config() config.Config {
	return config.Config{
		Environment: "test",
		Payments: config.PaymentsConfig{
			KeyID:         KeyID,
			KeySecret:     KeySecret,
			WebhookSecret: WebhookSecret,
			Currency:      "INR",
		},
	}
}

func NewWithConfig(t testing.TB, cfg config.Config) *Harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	conn := dbtest.Open(t)
	clk := clock.NewFakeClock(Epoch)
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	customerRepo := customerrepo.Provide()
	customers := customerservice.New(customerservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk, Repo: customerRepo,
	})
	gateway := NewGateway(cfg.Payments.KeyID)
	repo := paymentrepo.Provide()

	svc := paymentservice.NewService(paymentservice.Params{
		DB:           conn,
		Log:          log,
		GenID:        node,
		Clock:        clk,
		Config:       cfg,
		Gateway:      gateway,
		Repo:         repo,
		CustomerSvc:  customers,
		CustomerRepo: customerRepo,
		AuditSvc:     audit,
	})

	return &Harness{
		DB:           conn,
		Log:          log,
		Node:         node,
		Clock:        clk,
		Config:       cfg,
		Gateway:      gateway,
		Repo:         repo,
		CustomerRepo: customerRepo,
		Audit:        audit,
		Service:      svc,
	}
}

// CreateOrder opens an order for user through the service.
func (h *Harness) CreateOrder(t testing.TB, userID string, amount float64) domain.CreateOrderResult {
	t.Helper()
	res, err := h.Service.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Amount:        amount,
		ItemID:        "med_paracetamol_500",
		ItemName:      "Paracetamol 500mg",
		UserID:        userID,
		CustomerName:  "Asha Rao",
		CustomerEmail: "asha@example.com",
		CustomerPhone: "+919800000000",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res
}

func Sign(orderID, paymentID string) string {
	return signature.PaymentSignature(orderID, paymentID, KeySecret)
}

func i64(v int64) *int64 { return &v }

// Captured builds a captured payment for orderID carrying the order notes.
func (h *Harness) Captured(orderID, paymentID string) domain.GatewayPayment {
	p := h.Gateway.paymentFor(orderID, paymentID, "captured")
	p.Method = "upi"
	p.VPA = "asha@upi"
	p.Fee = i64(354)
	p.Tax = i64(54)
	return p
}

func (h *Harness) Failed(orderID, paymentID string) domain.GatewayPayment {
	p := h.Gateway.paymentFor(orderID, paymentID, "failed")
	p.Method = "card"
	p.ErrorCode = "BAD_REQUEST_ERROR"
	p.ErrorDescription = "Payment failed"
	return p
}

// Gateway is an in-memory gateway. Orders it creates keep their notes so
// payments built against them look like real deliveries.
type Gateway struct {
	mu       sync.Mutex
	keyID    string
	seq      int
	orders   map[string]domain.GatewayOrder
	payments map[string]domain.GatewayPayment
	byOrder  map[string][]string
	Requests []domain.GatewayOrderRequest

	CreateErr error
	FetchErr  error
	ListErr   error
}

func NewGateway(keyID string) *Gateway {
	return &Gateway{
		keyID:    keyID,
		orders:   map[string]domain.GatewayOrder{},
		payments: map[string]domain.GatewayPayment{},
		byOrder:  map[string][]string{},
	}
}

func (g *Gateway) KeyID() string { return g.keyID }

func (g *Gateway) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.CreateErr != nil {
		return domain.GatewayOrder{}, g.CreateErr
	}
	g.seq++
	notes := make(map[string]string, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	order := domain.GatewayOrder{
		ID:       fmt.Sprintf("order_test%04d", g.seq),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		Notes:    notes,
	}
	g.orders[order.ID] = order
	return order, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FetchErr != nil {
		return domain.GatewayPayment{}, g.FetchErr
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return domain.GatewayPayment{}, fmt.Errorf("payment %s not found", paymentID)
	}
	return p, nil
}

func (g *Gateway) ListOrderPayments(ctx context.Context, orderID string) ([]domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ListErr != nil {
		return nil, g.ListErr
	}
	out := make([]domain.GatewayPayment, 0, len(g.byOrder[orderID]))
	for _, id := range g.byOrder[orderID] {
		out = append(out, g.payments[id])
	}
	return out, nil
}

// Put stores p so FetchPayment and ListOrderPayments return it.
func (g *Gateway) Put(p domain.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.payments[p.ID]; !exists {
		g.byOrder[p.OrderID] = append(g.byOrder[p.OrderID], p.ID)
	}
	g.payments[p.ID] = p
}

func (g *Gateway) Order(orderID string) (domain.GatewayOrder, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	return o, ok
}

func (g *Gateway) paymentFor(orderID, paymentID, status string) domain.GatewayPayment {
	g.mu.Lock()
	order, ok := g.orders[orderID]
	g.mu.Unlock()

	p := domain.GatewayPayment{
		ID:       paymentID,
		OrderID:  orderID,
		Status:   status,
		Amount:   order.Amount,
		Currency: order.Currency,
		Email:    "asha@example.com",
		Contact:  "+919800000000",
		Notes:    map[string]string{},
		RawNotes: []byte("{}"),
	}
	if ok {
		p.Notes = order.Notes
		p.RawNotes, _ = json.Marshal(order.Notes)
	}
	if p.Amount == 0 {
		p.Amount = 15000
		p.Currency = "INR"
	}
	return p
}
