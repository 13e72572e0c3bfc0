package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	auditdomain "github.com/medistore/payments/internal/audit/domain"
	"github.com/medistore/payments/internal/payment/domain"
	"github.com/medistore/payments/internal/payment/paymenttest"
	"github.com/medistore/payments/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderConvertsToMinorUnitsAndPersists(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	res := h.CreateOrder(t, "user-1", 150.00)

	assert.Equal(t, int64(15000), res.Order.Amount)
	assert.Equal(t, "INR", res.Order.Currency)
	assert.Equal(t, paymenttest.KeyID, res.KeyID)
	assert.Equal(t, "Asha Rao", res.Customer.Name)
	assert.NotEmpty(t, res.Customer.ID)
	assert.LessOrEqual(t, len(res.Order.Receipt), 40)
	assert.True(t, strings.HasPrefix(res.Order.Receipt, "rcpt_med_paracetamol_"), res.Order.Receipt)
	assert.NotContains(t, res.Order.Receipt, "__")

	require.Len(t, h.Gateway.Requests, 1)
	sent := h.Gateway.Requests[0]
	assert.True(t, sent.PaymentCapture)
	assert.Equal(t, res.Customer.ID, sent.Notes[domain.NoteCustomerID])
	assert.Equal(t, "user-1", sent.Notes[domain.NoteUserID])
	assert.Equal(t, "med_paracetamol_500", sent.Notes[domain.NoteItemID])

	txn, err := h.Service.GetByOrderID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, txn.Status)
	assert.Equal(t, int64(15000), txn.Amount)
	assert.Nil(t, txn.GatewayPaymentID)
	require.NotNil(t, txn.Contact)
	assert.Equal(t, "+919800000000", *txn.Contact)

	var notes map[string]string
	require.NoError(t, json.Unmarshal(txn.Notes, &notes))
	assert.Equal(t, "Paracetamol 500mg", notes[domain.NoteItemName])

	logs, err := h.Audit.ListByTarget(ctx, auditdomain.TargetTypePaymentOrder, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionOrderCreated, logs[0].Action)
}

func TestCreateOrderRoundsFractionalAmounts(t *testing.T) {
	h := paymenttest.New(t)

	res := h.CreateOrder(t, "user-1", 19.999)
	assert.Equal(t, int64(2000), res.Order.Amount)
}

func TestCreateOrderValidates(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	valid := domain.CreateOrderRequest{
		Amount: 10, ItemID: "m1", ItemName: "Med", UserID: "u1",
		CustomerName: "Asha", CustomerEmail: "asha@example.com",
	}

	cases := []struct {
		name   string
		mutate func(*domain.CreateOrderRequest)
		want   error
	}{
		{"zero amount", func(r *domain.CreateOrderRequest) { r.Amount = 0 }, domain.ErrInvalidAmount},
		{"negative amount", func(r *domain.CreateOrderRequest) { r.Amount = -5 }, domain.ErrInvalidAmount},
		{"sub paisa amount", func(r *domain.CreateOrderRequest) { r.Amount = 0.001 }, domain.ErrInvalidAmount},
		{"bad currency", func(r *domain.CreateOrderRequest) { r.Currency = "RUPEES" }, domain.ErrInvalidCurrency},
		{"missing item", func(r *domain.CreateOrderRequest) { r.ItemName = "" }, domain.ErrInvalidItem},
		{"missing user", func(r *domain.CreateOrderRequest) { r.UserID = " " }, domain.ErrInvalidUserID},
		{"missing name", func(r *domain.CreateOrderRequest) { r.CustomerName = "" }, domain.ErrInvalidName},
		{"bad email", func(r *domain.CreateOrderRequest) { r.CustomerEmail = "asha" }, domain.ErrInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := h.Service.CreateOrder(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, h.Gateway.Requests)
}

func TestCreateOrderWithoutCredentials(t *testing.T) {
	cfg := paymenttest.Config()
	cfg.Payments.KeySecret = ""
	h := paymenttest.NewWithConfig(t, cfg)

	_, err := h.Service.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Amount: 10, ItemID: "m1", ItemName: "Med", UserID: "u1",
		CustomerName: "Asha", CustomerEmail: "asha@example.com",
	})
	assert.ErrorIs(t, err, domain.ErrGatewayNotConfigured)
	assert.Empty(t, h.Gateway.Requests)
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	h := paymenttest.New(t)
	h.Gateway.CreateErr = errors.New("connection reset")

	_, err := h.Service.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Amount: 10, ItemID: "m1", ItemName: "Med", UserID: "u1",
		CustomerName: "Asha", CustomerEmail: "asha@example.com",
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindGateway, domain.KindOf(err))
}

func TestCreateOrderSurvivesPersistenceFailure(t *testing.T) {
	h := paymenttest.New(t)
	require.NoError(t, h.DB.Exec(`DROP TABLE payment_transactions`).Error)

	res := h.CreateOrder(t, "user-1", 150)
	assert.NotEmpty(t, res.Order.ID)

	logs, err := h.Audit.ListByTarget(context.Background(), auditdomain.TargetTypePaymentOrder, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionOrderPersistFailed, logs[0].Action)

	var orders int64
	require.NoError(t, h.DB.Table("orders").Count(&orders).Error)
	assert.Zero(t, orders)
}

func TestVerifyMarksTransactionPaid(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	res := h.CreateOrder(t, "user-1", 150)
	h.Gateway.Put(h.Captured(res.Order.ID, "pay_1"))
	h.Clock.Advance(time.Minute)

	out, err := h.Service.Verify(ctx, domain.VerifyRequest{
		OrderID:   res.Order.ID,
		PaymentID: "pay_1",
		Signature: paymenttest.Sign(res.Order.ID, "pay_1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_1", out.PaymentID)
	assert.Equal(t, domain.StatusPaid, out.Transaction.Status)
	assert.Equal(t, int64(354), out.Transaction.Fee)
	assert.Equal(t, int64(54), out.Transaction.Tax)
	require.NotNil(t, out.Transaction.PaymentMethod)
	assert.Equal(t, "upi", *out.Transaction.PaymentMethod)
	require.NotNil(t, out.Transaction.GatewaySignature)
	assert.True(t, out.Transaction.UpdatedAt.Equal(paymenttest.Epoch.Add(time.Minute)))

	byPayment, err := h.Service.GetByPaymentID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, out.Transaction.ID, byPayment.ID)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	res := h.CreateOrder(t, "user-1", 150)
	h.Gateway.Put(h.Captured(res.Order.ID, "pay_1"))

	good := paymenttest.Sign(res.Order.ID, "pay_1")
	bad := "0" + good[1:]
	if bad == good {
		bad = "1" + good[1:]
	}

	_, err := h.Service.Verify(ctx, domain.VerifyRequest{
		OrderID: res.Order.ID, PaymentID: "pay_1", Signature: bad,
	})
	assert.ErrorIs(t, err, domain.ErrSignatureMismatch)

	for _, variant := range []string{strings.ToUpper(good), " " + good, good + "\n"} {
		_, err = h.Service.Verify(ctx, domain.VerifyRequest{
			OrderID: res.Order.ID, PaymentID: "pay_1", Signature: variant,
		})
		assert.ErrorIs(t, err, domain.ErrSignatureMismatch, "signature %q", variant)
	}

	txn, err := h.Service.GetByOrderID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, txn.Status)
	assert.Nil(t, txn.GatewayPaymentID)
}

func TestVerifyRejectsPaymentFromAnotherOrder(t *testing.T) {
	h := paymenttest.New(t)
	first := h.CreateOrder(t, "user-1", 150)
	second := h.CreateOrder(t, "user-1", 75)
	h.Gateway.Put(h.Captured(second.Order.ID, "pay_2"))

	_, err := h.Service.Verify(context.Background(), domain.VerifyRequest{
		OrderID:   first.Order.ID,
		PaymentID: "pay_2",
		Signature: paymenttest.Sign(first.Order.ID, "pay_2"),
	})
	assert.ErrorIs(t, err, domain.ErrPaymentOrderMismatch)
}

func TestVerifyRequiresFields(t *testing.T) {
	h := paymenttest.New(t)
	_, err := h.Service.Verify(context.Background(), domain.VerifyRequest{OrderID: "order_1"})
	assert.ErrorIs(t, err, domain.ErrInvalidVerifyRequest)
}

func TestApplyPaymentRepairsMissingRows(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	payment := h.Captured("order_unknown", "pay_9")
	payment.Notes = map[string]string{
		domain.NoteUserID:        "user-9",
		domain.NoteCustomerName:  "Ravi",
		domain.NoteCustomerEmail: "ravi@example.com",
		domain.NoteItemID:        "med_9",
		domain.NoteItemName:      "Cetirizine",
	}
	payment.RawNotes, _ = json.Marshal(payment.Notes)

	txn, err := h.Service.ApplyPayment(ctx, payment, domain.ApplyOptions{Source: domain.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, txn.Status)
	assert.Equal(t, "med_9", txn.ItemID)
	assert.Equal(t, "pay_9", txn.PaymentID())

	order, err := h.Repo.FindOrder(ctx, h.DB, "order_unknown")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "repair_order_unknown", order.Receipt)

	customer, err := h.CustomerRepo.FindByUserID(ctx, h.DB, "user-9")
	require.NoError(t, err)
	require.NotNil(t, customer)
	assert.Equal(t, customer.ID, txn.CustomerID)

	logs, err := h.Audit.ListByTarget(ctx, auditdomain.TargetTypeTransaction, txn.ID.String())
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, auditdomain.ActionTransactionRepaired, logs[0].Action)
}

func TestApplyPaymentRebuildsTransactionFromSurvivingOrder(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	res := h.CreateOrder(t, "user-1", 150)
	require.NoError(t, h.DB.Exec("DELETE FROM payment_transactions WHERE gateway_order_id = ?", res.Order.ID).Error)

	payment := h.Captured(res.Order.ID, "pay_1")
	payment.Notes = map[string]string{}
	payment.RawNotes = []byte("{}")

	txn, err := h.Service.ApplyPayment(ctx, payment, domain.ApplyOptions{Source: domain.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, txn.Status)
	assert.Equal(t, res.Customer.ID, txn.CustomerID.String())
	assert.Equal(t, "med_paracetamol_500", txn.ItemID)
	assert.Equal(t, int64(15000), txn.Amount)

	order, err := h.Repo.FindOrder(ctx, h.DB, res.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, res.Order.Receipt, order.Receipt)

	logs, err := h.Audit.ListByTarget(ctx, auditdomain.TargetTypeTransaction, txn.ID.String())
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, auditdomain.ActionTransactionRepaired, logs[0].Action)
	assert.Equal(t, false, logs[0].Metadata["order_rebuilt"])
}

func TestApplyPaymentWithoutCustomerNotes(t *testing.T) {
	h := paymenttest.New(t)

	_, err := h.Service.ApplyPayment(context.Background(), h.Captured("order_orphan", "pay_x"),
		domain.ApplyOptions{Source: domain.SourceWebhook})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	_, err = h.Service.GetByOrderID(context.Background(), "order_orphan")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyPaymentRefusesSecondPaymentID(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	res := h.CreateOrder(t, "user-1", 150)

	_, err := h.Service.ApplyPayment(ctx, h.Captured(res.Order.ID, "pay_1"), domain.ApplyOptions{Source: domain.SourceWebhook})
	require.NoError(t, err)

	_, err = h.Service.ApplyPayment(ctx, h.Captured(res.Order.ID, "pay_2"), domain.ApplyOptions{Source: domain.SourceWebhook})
	assert.ErrorIs(t, err, domain.ErrPaymentConflict)

	txn, err := h.Service.GetByOrderID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", txn.PaymentID())

	logs, err := h.Audit.ListByTarget(ctx, auditdomain.TargetTypePaymentOrder, res.Order.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Contains(t, actions, auditdomain.ActionPaymentConflict)
}

func TestApplyPaymentNeverMovesBackwards(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	res := h.CreateOrder(t, "user-1", 150)

	_, err := h.Service.ApplyPayment(ctx, h.Captured(res.Order.ID, "pay_1"), domain.ApplyOptions{Source: domain.SourceWebhook})
	require.NoError(t, err)

	txn, err := h.Service.ApplyPayment(ctx, h.Failed(res.Order.ID, "pay_1"), domain.ApplyOptions{Source: domain.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, txn.Status)
	require.NotNil(t, txn.PaymentMethod)
	assert.Equal(t, "upi", *txn.PaymentMethod)
}

func TestListCustomerTransactions(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	paid := h.CreateOrder(t, "user-1", 150)
	h.Clock.Advance(time.Second)
	failed := h.CreateOrder(t, "user-1", 99)
	h.Clock.Advance(time.Second)
	h.CreateOrder(t, "user-1", 10)
	h.CreateOrder(t, "user-2", 500)

	_, err := h.Service.ApplyPayment(ctx, h.Captured(paid.Order.ID, "pay_1"), domain.ApplyOptions{Source: domain.SourceWebhook})
	require.NoError(t, err)
	_, err = h.Service.ApplyPayment(ctx, h.Failed(failed.Order.ID, "pay_2"), domain.ApplyOptions{Source: domain.SourceWebhook})
	require.NoError(t, err)

	all, err := h.Service.ListCustomerTransactions(ctx, domain.CustomerTransactionsRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Nil(t, all.PageInfo)
	require.Len(t, all.Transactions, 3)
	assert.Equal(t, int64(1000), all.Transactions[0].Amount)
	assert.Equal(t, domain.Balance{
		TotalTransactions:      3,
		SuccessfulTransactions: 1,
		TotalPaid:              15000,
		TotalFees:              354,
		TotalTax:               54,
		NetBalance:             14592,
	}, all.Balance)

	page, err := h.Service.ListCustomerTransactions(ctx, domain.CustomerTransactionsRequest{
		UserID:     "user-1",
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	require.NotNil(t, page.PageInfo)
	assert.True(t, page.PageInfo.HasMore)

	rest, err := h.Service.ListCustomerTransactions(ctx, domain.CustomerTransactionsRequest{
		UserID:     "user-1",
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, rest.Transactions, 1)
	assert.Equal(t, paid.Order.ID, rest.Transactions[0].GatewayOrderID)
	assert.False(t, rest.PageInfo.HasMore)

	_, err = h.Service.ListCustomerTransactions(ctx, domain.CustomerTransactionsRequest{
		UserID:     "user-1",
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)

	_, err = h.Service.ListCustomerTransactions(ctx, domain.CustomerTransactionsRequest{UserID: "nobody"})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}
