package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/medistore/payments/internal/audit/domain"
	customerdomain "github.com/medistore/payments/internal/customer/domain"
	paymentdomain "github.com/medistore/payments/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const timeLayout = time.RFC3339Nano

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}

// ApplyPayment is the single write path shared by client verification, the
// webhook and the sweeper. It attaches the payment id at most once and only
// moves the status forward, so replays and races converge on one row.
func (s *Service) ApplyPayment(ctx context.Context, payment paymentdomain.GatewayPayment, opts paymentdomain.ApplyOptions) (paymentdomain.PaymentTransaction, error) {
	payment.ID = strings.TrimSpace(payment.ID)
	payment.OrderID = strings.TrimSpace(payment.OrderID)
	if payment.ID == "" {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrInvalidPaymentID
	}
	if payment.OrderID == "" {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrInvalidOrderID
	}

	log := s.log.With(
		zap.String("source", string(opts.Source)),
		zap.String("gateway_order_id", payment.OrderID),
		zap.String("gateway_payment_id", payment.ID),
	)

	now := s.clock.Now()
	var (
		result     paymentdomain.PaymentTransaction
		attachedTo string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.repo.FindByOrderID(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if txn == nil {
			txn, err = s.repair(ctx, tx, payment, opts.Source, now)
			if err != nil {
				return err
			}
			log.Info("rebuilt missing transaction from payment notes")
		}

		if existing := txn.PaymentID(); existing != "" && existing != payment.ID {
			attachedTo = existing
			return paymentdomain.ErrPaymentConflict
		}
		if txn.PaymentID() == "" {
			won, err := s.repo.AttachPaymentID(ctx, tx, payment.OrderID, payment.ID, now)
			if err != nil {
				return err
			}
			if !won {
				current, err := s.repo.FindByOrderID(ctx, tx, payment.OrderID)
				if err != nil {
					return err
				}
				if current != nil && current.PaymentID() != payment.ID {
					attachedTo = current.PaymentID()
					return paymentdomain.ErrPaymentConflict
				}
			}
		}

		update := paymentdomain.UpdateFromPayment(payment)
		if opts.Status != nil {
			status := *opts.Status
			update.Status = &status
		}
		if sig := strings.TrimSpace(opts.Signature); sig != "" {
			update.Signature = &sig
		}
		if err := s.repo.UpdateTransaction(ctx, tx, payment.ID, update, now); err != nil {
			if !errors.Is(err, paymentdomain.ErrInvalidTransition) {
				return err
			}
			log.Info("ignored stale payment status",
				zap.String("gateway_status", payment.Status),
				zap.String("ledger_status", string(txn.Status)),
			)
		}

		stored, err := s.repo.FindByPaymentID(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrNotFound
		}
		result = *stored
		return nil
	})

	switch {
	case err == nil:
		s.obsMetrics.RecordPaymentEvent(ctx, string(opts.Source), string(result.Status))
		return result, nil
	case errors.Is(err, paymentdomain.ErrPaymentConflict):
		log.Warn("order already has a different payment attached", zap.String("attached_payment_id", attachedTo))
		s.recordConflict(ctx, payment, attachedTo, opts.Source)
		return paymentdomain.PaymentTransaction{}, err
	case paymentdomain.KindOf(err) != "":
		return paymentdomain.PaymentTransaction{}, err
	default:
		log.Error("failed to apply payment", zap.Error(err))
		s.obsMetrics.RecordPersistenceFailure(ctx, "apply_payment")
		return paymentdomain.PaymentTransaction{}, paymentdomain.PersistenceFailure("apply_payment", err)
	}
}

// repair rebuilds the created transaction for an order, recreating the order
// from the payment notes when it is missing as well. It returns
// ErrCustomerNotFound when that needs a customer the notes do not identify.
func (s *Service) repair(ctx context.Context, tx *gorm.DB, payment paymentdomain.GatewayPayment, source paymentdomain.Source, now time.Time) (*paymentdomain.PaymentTransaction, error) {
	order, err := s.repo.FindOrder(ctx, tx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	// A surviving order row is the local record of the attempt; the notes
	// are only needed when it is gone too.
	rebuildOrder := order == nil
	if rebuildOrder {
		order, err = s.orderFromPayment(ctx, tx, payment, now)
		if err != nil {
			return nil, err
		}
		if err := s.repo.EnsureOrder(ctx, tx, order); err != nil {
			return nil, err
		}
		if order, err = s.repo.FindOrder(ctx, tx, payment.OrderID); err != nil {
			return nil, err
		}
		if order == nil {
			return nil, paymentdomain.ErrNotFound
		}
	}

	notes := payment.RawNotes
	if len(notes) == 0 {
		notes = []byte("{}")
	}
	if err := s.repo.EnsureTransaction(ctx, tx, &paymentdomain.PaymentTransaction{
		ID:             s.genID.Generate(),
		GatewayOrderID: payment.OrderID,
		CustomerID:     order.CustomerID,
		ItemID:         order.ItemID,
		ItemName:       order.ItemName,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Status:         paymentdomain.StatusCreated,
		Email:          optional(payment.Email),
		Contact:        optional(payment.Contact),
		Description:    optional(payment.Description),
		Notes:          datatypes.JSON(notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return nil, err
	}

	txn, err := s.repo.FindByOrderID(ctx, tx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrNotFound
	}

	if err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
		Action:     auditdomain.ActionTransactionRepaired,
		TargetType: auditdomain.TargetTypeTransaction,
		TargetID:   txn.ID.String(),
		Metadata: map[string]any{
			"gateway_order_id":   payment.OrderID,
			"gateway_payment_id": payment.ID,
			"customer_id":        order.CustomerID.String(),
			"order_rebuilt":      rebuildOrder,
			"source":             string(source),
		},
	}); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) orderFromPayment(ctx context.Context, tx *gorm.DB, payment paymentdomain.GatewayPayment, now time.Time) (*paymentdomain.Order, error) {
	customer, err := s.resolveCustomer(ctx, tx, payment.Notes, now)
	if err != nil {
		return nil, err
	}
	if payment.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}
	currency := strings.ToUpper(strings.TrimSpace(payment.Currency))
	if currency == "" {
		currency = s.cfg.Currency
	}
	return &paymentdomain.Order{
		ID:             s.genID.Generate(),
		GatewayOrderID: payment.OrderID,
		CustomerID:     customer.ID,
		ItemID:         noteOr(payment.Notes, paymentdomain.NoteItemID, "unknown"),
		ItemName:       noteOr(payment.Notes, paymentdomain.NoteItemName, "unknown"),
		Amount:         payment.Amount,
		Currency:       currency,
		Receipt:        truncate("repair_"+payment.OrderID, maxReceiptLen),
		CreatedAt:      now,
	}, nil
}

func (s *Service) resolveCustomer(ctx context.Context, tx *gorm.DB, notes map[string]string, now time.Time) (*customerdomain.Customer, error) {
	if raw := strings.TrimSpace(notes[paymentdomain.NoteCustomerID]); raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			customer, err := s.customerRepo.FindByID(ctx, tx, id)
			if err != nil {
				return nil, err
			}
			if customer != nil {
				return customer, nil
			}
		}
	}

	userID := strings.TrimSpace(notes[paymentdomain.NoteUserID])
	if userID == "" {
		return nil, paymentdomain.ErrCustomerNotFound
	}
	customer, err := s.customerRepo.FindByUserID(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}

	name := strings.TrimSpace(notes[paymentdomain.NoteCustomerName])
	email := strings.TrimSpace(notes[paymentdomain.NoteCustomerEmail])
	if name == "" || email == "" {
		return nil, paymentdomain.ErrCustomerNotFound
	}
	return s.customerRepo.Upsert(ctx, tx, &customerdomain.Customer{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *Service) recordConflict(ctx context.Context, payment paymentdomain.GatewayPayment, attachedTo string, source paymentdomain.Source) {
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionPaymentConflict,
		TargetType: auditdomain.TargetTypePaymentOrder,
		TargetID:   payment.OrderID,
		Metadata: map[string]any{
			"gateway_payment_id":  payment.ID,
			"attached_payment_id": attachedTo,
			"gateway_status":      payment.Status,
			"source":              string(source),
		},
	}); err != nil {
		s.log.Warn("failed to audit payment conflict", zap.Error(err))
	}
}

func noteOr(notes map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(notes[key]); v != "" {
		return v
	}
	return fallback
}
