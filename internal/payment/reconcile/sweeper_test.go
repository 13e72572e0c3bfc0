package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medistore/payments/internal/config"
	"github.com/medistore/payments/internal/observability/metrics"
	"github.com/medistore/payments/internal/payment/domain"
	"github.com/medistore/payments/internal/payment/paymenttest"
	"github.com/medistore/payments/internal/payment/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLocker struct {
	mu   sync.Mutex
	held map[string]string
	err  error
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}}
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token"
	return "token", true, nil
}

func (l *memLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func newSweeper(h *paymenttest.Harness, policy config.ReconcilePolicy, locker reconcile.Locker) *reconcile.Sweeper {
	return reconcile.New(reconcile.Params{
		DB:         h.DB,
		Log:        h.Log,
		Clock:      h.Clock,
		Policy:     config.NewStaticReconcilePolicyHolder(policy),
		Repo:       h.Repo,
		Gateway:    h.Gateway,
		PaymentSvc: h.Service,
		AuditSvc:   h.Audit,
		Locker:     locker,
	})
}

func TestSweepSettlesStaleTransactions(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	paid := h.CreateOrder(t, "user-1", 150)
	retried := h.CreateOrder(t, "user-1", 80)
	abandoned := h.CreateOrder(t, "user-1", 20)
	h.Gateway.Put(h.Captured(paid.Order.ID, "pay_1"))
	h.Gateway.Put(h.Failed(retried.Order.ID, "pay_2"))
	h.Gateway.Put(h.Captured(retried.Order.ID, "pay_3"))

	h.Clock.Advance(10 * time.Minute)
	fresh := h.CreateOrder(t, "user-1", 5)
	h.Gateway.Put(h.Captured(fresh.Order.ID, "pay_4"))
	h.Clock.Advance(25 * time.Minute)

	report, err := newSweeper(h, config.DefaultReconcilePolicy(), newMemLocker()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, metrics.SweepOutcomeCompleted, report.Outcome)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Results[reconcile.ResultApplied])
	assert.Equal(t, 1, report.Results[reconcile.ResultPending])

	txn, err := h.Service.GetByOrderID(ctx, paid.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, txn.Status)

	txn, err = h.Service.GetByOrderID(ctx, retried.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, txn.Status)
	assert.Equal(t, "pay_3", txn.PaymentID())

	txn, err = h.Service.GetByOrderID(ctx, abandoned.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, txn.Status)

	txn, err = h.Service.GetByOrderID(ctx, fresh.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, txn.Status)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	h := paymenttest.New(t)
	locker := newMemLocker()
	_, ok, err := locker.TryLock(context.Background(), "storefront:payments:sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := newSweeper(h, config.DefaultReconcilePolicy(), locker).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, metrics.SweepOutcomeLocked, report.Outcome)
}

func TestSweepLockError(t *testing.T) {
	h := paymenttest.New(t)
	locker := newMemLocker()
	locker.err = errors.New("redis down")

	report, err := newSweeper(h, config.DefaultReconcilePolicy(), locker).RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, metrics.SweepOutcomeFailed, report.Outcome)
}

func TestSweepDisabled(t *testing.T) {
	h := paymenttest.New(t)
	policy := config.DefaultReconcilePolicy()
	policy.Enabled = false

	report, err := newSweeper(h, policy, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, metrics.SweepOutcomeDisabled, report.Outcome)
}

func TestSweepCountsGatewayErrors(t *testing.T) {
	h := paymenttest.New(t)
	h.CreateOrder(t, "user-1", 150)
	h.Clock.Advance(time.Hour)
	h.Gateway.ListErr = errors.New("timeout")

	report, err := newSweeper(h, config.DefaultReconcilePolicy(), nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Results[reconcile.ResultGatewayError])
}
