// Package webhook authenticates gateway push events and reconciles them into
// the ledger.
package webhook

import (
	"context"
	"errors"
	"strings"

	auditdomain "github.com/medistore/payments/internal/audit/domain"
	"github.com/medistore/payments/internal/config"
	obsmetrics "github.com/medistore/payments/internal/observability/metrics"
	"github.com/medistore/payments/internal/payment/domain"
	"github.com/medistore/payments/internal/payment/gateway/razorpay"
	"github.com/medistore/payments/internal/payment/signature"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeReconciled Outcome = "reconciled"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeObserved   Outcome = "observed"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeConflict   Outcome = "conflict"
	OutcomeRejected   Outcome = "rejected"
	OutcomeFailed     Outcome = "failed"
)

// Delivery is one inbound webhook request.
type Delivery struct {
	Body      []byte
	Signature string
	EventID   string
}

type Result struct {
	DeliveryID  string
	Event       string
	Outcome     Outcome
	Transaction *domain.PaymentTransaction
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Policy     *config.ReconcilePolicyHolder
	PaymentSvc domain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Reconciler struct {
	log        *zap.Logger
	secret     string
	policy     *config.ReconcilePolicyHolder
	paymentSvc domain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		log:        p.Log.Named("payment.webhook"),
		secret:     p.Config.Payments.WebhookSecret,
		policy:     p.Policy,
		paymentSvc: p.PaymentSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Handle authenticates and applies one delivery. A nil error means the
// delivery should be acknowledged; errors carry a domain kind the transport
// maps onto a status code.
func (r *Reconciler) Handle(ctx context.Context, d Delivery) (Result, error) {
	deliveryID := strings.TrimSpace(d.EventID)
	if deliveryID == "" {
		deliveryID = ulid.Make().String()
	}
	result := Result{DeliveryID: deliveryID}
	log := r.log.With(zap.String("delivery_id", deliveryID))

	if r.secret == "" {
		log.Error("webhook secret is not configured")
		return r.finish(ctx, result, OutcomeFailed, domain.ErrWebhookNotConfigured)
	}
	sig := d.Signature
	if strings.TrimSpace(sig) == "" {
		return r.finish(ctx, result, OutcomeRejected, domain.ErrMissingSignature)
	}
	if !signature.VerifyWebhook(d.Body, sig, r.secret) {
		log.Warn("webhook signature mismatch", zap.Int("bytes", len(d.Body)))
		return r.finish(ctx, result, OutcomeRejected, domain.ErrSignatureMismatch)
	}

	event, err := razorpay.ParseWebhookEvent(deliveryID, d.Body)
	if err != nil {
		log.Warn("webhook payload rejected", zap.Error(err))
		return r.finish(ctx, result, OutcomeRejected, err)
	}
	result.Event = event.Type
	log = log.With(zap.String("event", event.Type))

	policy := r.policy.Get()
	if !policy.Handles(event.Type) {
		log.Debug("webhook event not handled")
		return r.finish(ctx, result, OutcomeIgnored, nil)
	}

	payment := event.Payment
	switch event.Type {
	case domain.EventPaymentCaptured, domain.EventPaymentFailed:
	case domain.EventOrderPaid:
		fields := []zap.Field{}
		if event.Order != nil {
			fields = append(fields, zap.String("gateway_order_id", event.Order.ID))
		}
		if payment != nil {
			fields = append(fields, zap.String("gateway_payment_id", payment.ID))
		}
		log.Info("order paid", fields...)
		return r.finish(ctx, result, OutcomeObserved, nil)
	default:
		log.Info("webhook event has no ledger effect")
		return r.finish(ctx, result, OutcomeIgnored, nil)
	}
	log = log.With(
		zap.String("gateway_order_id", payment.OrderID),
		zap.String("gateway_payment_id", payment.ID),
	)

	opts := domain.ApplyOptions{Source: domain.SourceWebhook}
	if status, ok := domain.StatusFromEvent(event.Type); ok {
		opts.Status = &status
	}
	txn, err := r.paymentSvc.ApplyPayment(ctx, *payment, opts)
	switch {
	case err == nil:
		result.Transaction = &txn
		r.audit(ctx, log, auditdomain.Entry{
			Action:     auditdomain.ActionWebhookReconciled,
			TargetType: auditdomain.TargetTypeTransaction,
			TargetID:   txn.ID.String(),
			Metadata: map[string]any{
				"delivery_id":        deliveryID,
				"event":              event.Type,
				"gateway_payment_id": payment.ID,
				"status":             string(txn.Status),
			},
		})
		log.Info("webhook reconciled", zap.String("status", string(txn.Status)))
		return r.finish(ctx, result, OutcomeReconciled, nil)

	case errors.Is(err, domain.ErrCustomerNotFound):
		log.Warn("webhook references unknown customer")
		if auditErr := r.auditSvc.Record(ctx, auditdomain.Entry{
			Action:     auditdomain.ActionWebhookUnresolved,
			TargetType: auditdomain.TargetTypePaymentOrder,
			TargetID:   payment.OrderID,
			Metadata: map[string]any{
				"delivery_id":        deliveryID,
				"event":              event.Type,
				"gateway_payment_id": payment.ID,
				"gateway_status":     payment.Status,
			},
		}); auditErr != nil {
			log.Error("failed to record unresolved webhook", zap.Error(auditErr))
			return r.finish(ctx, result, OutcomeFailed, domain.PersistenceFailure("record_unresolved", auditErr))
		}
		return r.finish(ctx, result, OutcomeUnresolved, nil)

	case errors.Is(err, domain.ErrPaymentConflict):
		return r.finish(ctx, result, OutcomeConflict, nil)

	case domain.KindOf(err) == domain.KindValidation:
		log.Warn("webhook payment rejected", zap.Error(err))
		return r.finish(ctx, result, OutcomeRejected, err)

	default:
		log.Error("failed to reconcile webhook", zap.Error(err))
		return r.finish(ctx, result, OutcomeFailed, err)
	}
}

func (r *Reconciler) finish(ctx context.Context, result Result, outcome Outcome, err error) (Result, error) {
	result.Outcome = outcome
	eventType := result.Event
	if eventType == "" {
		eventType = "unknown"
	}
	r.obsMetrics.RecordWebhookEvent(ctx, eventType, string(outcome))
	return result, err
}

func (r *Reconciler) audit(ctx context.Context, log *zap.Logger, entry auditdomain.Entry) {
	if err := r.auditSvc.Record(ctx, entry); err != nil {
		log.Warn("failed to audit webhook", zap.Error(err))
	}
}
