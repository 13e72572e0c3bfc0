// Package reconcile periodically settles transactions whose outcome never
// reached the ledger, by asking the gateway directly.
package reconcile

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/medistore/payments/internal/audit/domain"
	"github.com/medistore/payments/internal/clock"
	"github.com/medistore/payments/internal/config"
	obsmetrics "github.com/medistore/payments/internal/observability/metrics"
	"github.com/medistore/payments/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockKey = "storefront:payments:sweeper"

const (
	ResultApplied      = "applied"
	ResultPending      = "pending"
	ResultConflict     = "conflict"
	ResultGatewayError = "gateway_error"
	ResultError        = "error"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Policy     *config.ReconcilePolicyHolder
	Repo       domain.Repository
	Gateway    domain.Gateway
	PaymentSvc domain.Service
	AuditSvc   auditdomain.Service
	Locker     Locker                     `optional:"true"`
	Metrics    *obsmetrics.PaymentMetrics `optional:"true"`
}

type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.ReconcilePolicyHolder
	repo       domain.Repository
	gateway    domain.Gateway
	paymentSvc domain.Service
	auditSvc   auditdomain.Service
	locker     Locker
	metrics    *obsmetrics.PaymentMetrics
}

// Report summarizes one sweep.
type Report struct {
	Outcome string
	Scanned int
	Results map[string]int
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("payment.sweeper"),
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		gateway:    p.Gateway,
		paymentSvc: p.PaymentSvc,
		auditSvc:   p.AuditSvc,
		locker:     p.Locker,
		metrics:    p.Metrics,
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Results: map[string]int{}}
	policy := s.policy.Get()

	if !policy.Enabled {
		report.Outcome = obsmetrics.SweepOutcomeDisabled
		s.metrics.ObserveSweep(report.Outcome, 0)
		return report, nil
	}

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKey, policy.Interval)
		if err != nil {
			report.Outcome = obsmetrics.SweepOutcomeFailed
			s.metrics.ObserveSweep(report.Outcome, time.Since(start))
			return report, err
		}
		if !ok {
			report.Outcome = obsmetrics.SweepOutcomeLocked
			s.metrics.ObserveSweep(report.Outcome, time.Since(start))
			return report, nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.log.Warn("failed to release sweeper lock", zap.Error(err))
			}
		}()
	}

	before := s.clock.Now().Add(-policy.StaleAfter)
	stale, err := s.repo.ListStale(ctx, s.db, before, policy.BatchSize)
	if err != nil {
		report.Outcome = obsmetrics.SweepOutcomeFailed
		s.metrics.ObserveSweep(report.Outcome, time.Since(start))
		return report, domain.PersistenceFailure("list_stale", err)
	}
	report.Scanned = len(stale)

	for _, txn := range stale {
		if ctx.Err() != nil {
			break
		}
		result := s.settle(ctx, txn)
		report.Results[result]++
		s.metrics.IncSweptTransaction(result)
	}

	report.Outcome = obsmetrics.SweepOutcomeCompleted
	s.metrics.ObserveSweep(report.Outcome, time.Since(start))
	if report.Scanned > 0 {
		s.log.Info("sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Any("results", report.Results),
		)
	}
	return report, ctx.Err()
}

func (s *Sweeper) settle(ctx context.Context, txn domain.PaymentTransaction) string {
	log := s.log.With(zap.String("gateway_order_id", txn.GatewayOrderID))

	payments, err := s.gateway.ListOrderPayments(ctx, txn.GatewayOrderID)
	if err != nil {
		log.Warn("failed to list order payments", zap.Error(err))
		return ResultGatewayError
	}
	payment, ok := choosePayment(payments)
	if !ok {
		return ResultPending
	}

	applied, err := s.paymentSvc.ApplyPayment(ctx, payment, domain.ApplyOptions{Source: domain.SourceSweeper})
	switch {
	case errors.Is(err, domain.ErrPaymentConflict):
		return ResultConflict
	case err != nil:
		log.Error("failed to apply swept payment", zap.Error(err))
		return ResultError
	}

	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionTransactionSwept,
		TargetType: auditdomain.TargetTypeTransaction,
		TargetID:   applied.ID.String(),
		Metadata: map[string]any{
			"gateway_order_id":   applied.GatewayOrderID,
			"gateway_payment_id": payment.ID,
			"status":             string(applied.Status),
		},
	}); err != nil {
		log.Warn("failed to audit swept transaction", zap.Error(err))
	}
	return ResultApplied
}

// choosePayment picks the attempt that best describes the order: a captured
// payment wins over an authorized one, which wins over a failure.
func choosePayment(payments []domain.GatewayPayment) (domain.GatewayPayment, bool) {
	rank := map[domain.Status]int{
		domain.StatusPaid:       3,
		domain.StatusAuthorized: 2,
		domain.StatusFailed:     1,
	}
	var (
		best     domain.GatewayPayment
		bestRank int
	)
	for _, p := range payments {
		status, ok := domain.StatusFromGateway(p.Status)
		if !ok {
			continue
		}
		if r := rank[status]; r > bestRank {
			best, bestRank = p, r
		}
	}
	return best, bestRank > 0
}

// RunForever sweeps on the policy interval until ctx is done. The interval
// is re-read each cycle so config reloads take effect.
func (s *Sweeper) RunForever(ctx context.Context) {
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}

		interval := s.policy.Get().Interval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
