package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/medistore/payments/internal/audit/domain"
	"github.com/medistore/payments/internal/clock"
	"github.com/medistore/payments/internal/config"
	customerdomain "github.com/medistore/payments/internal/customer/domain"
	obsmetrics "github.com/medistore/payments/internal/observability/metrics"
	paymentdomain "github.com/medistore/payments/internal/payment/domain"
	"github.com/medistore/payments/internal/payment/signature"
	"github.com/medistore/payments/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxReceiptLen  = 40
	maxNoteValue   = 256
	receiptItemLen = 16
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Gateway      paymentdomain.Gateway
	Repo         paymentdomain.Repository
	CustomerSvc  customerdomain.Service
	CustomerRepo customerdomain.Repository
	AuditSvc     auditdomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.PaymentsConfig
	gateway      paymentdomain.Gateway
	repo         paymentdomain.Repository
	customerSvc  customerdomain.Service
	customerRepo customerdomain.Repository
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Config.Payments,
		gateway:      p.Gateway,
		repo:         p.Repo,
		customerSvc:  p.CustomerSvc,
		customerRepo: p.CustomerRepo,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (paymentdomain.CreateOrderResult, error) {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrInvalidAmount
	}
	amount := int64(math.Round(req.Amount * 100))
	if amount <= 0 {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.Currency
	}
	if !currencyPattern.MatchString(currency) {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrInvalidCurrency
	}

	itemID := strings.TrimSpace(req.ItemID)
	itemName := strings.TrimSpace(req.ItemName)
	if itemID == "" || itemName == "" {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrInvalidItem
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrInvalidUserID
	}
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrInvalidName
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" || !strings.Contains(email, "@") {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrInvalidEmail
	}
	phone := strings.TrimSpace(req.CustomerPhone)

	if !s.cfg.Ready() {
		return paymentdomain.CreateOrderResult{}, paymentdomain.ErrGatewayNotConfigured
	}

	summary := customerdomain.Summary{Name: name, Email: email}
	var customerID snowflake.ID
	customer, err := s.customerSvc.Upsert(ctx, customerdomain.UpsertCustomerRequest{
		UserID: userID,
		Name:   name,
		Email:  email,
		Phone:  phone,
	})
	if err != nil {
		s.log.Error("failed to upsert customer",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		s.obsMetrics.RecordPersistenceFailure(ctx, "upsert_customer")
	} else {
		customerID = customer.ID
		summary = customer.Summary()
	}

	now := s.clock.Now()
	notes := map[string]string{
		paymentdomain.NoteUserID:        userID,
		paymentdomain.NoteCustomerName:  name,
		paymentdomain.NoteCustomerEmail: email,
		paymentdomain.NoteItemID:        itemID,
		paymentdomain.NoteItemName:      itemName,
	}
	if customerID != 0 {
		notes[paymentdomain.NoteCustomerID] = customerID.String()
	}
	for k, v := range notes {
		notes[k] = truncate(v, maxNoteValue)
	}

	receipt := buildReceipt(itemID, now.UnixNano())
	order, err := s.gateway.CreateOrder(ctx, paymentdomain.GatewayOrderRequest{
		Amount:         amount,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: true,
		Notes:          notes,
	})
	if err != nil {
		s.log.Warn("gateway order creation failed",
			zap.String("receipt", receipt),
			zap.Error(err),
		)
		return paymentdomain.CreateOrderResult{}, paymentdomain.GatewayFailure(gatewayMessage(err), err)
	}

	orderAmount := order.Amount
	if orderAmount == 0 {
		orderAmount = amount
	}
	orderCurrency := order.Currency
	if orderCurrency == "" {
		orderCurrency = currency
	}
	orderReceipt := order.Receipt
	if orderReceipt == "" {
		orderReceipt = receipt
	}

	if customerID != 0 {
		s.persistOrder(ctx, persistOrderInput{
			gatewayOrderID: order.ID,
			customerID:     customerID,
			itemID:         itemID,
			itemName:       itemName,
			amount:         orderAmount,
			currency:       orderCurrency,
			receipt:        orderReceipt,
			email:          email,
			phone:          phone,
			notes:          notes,
		})
	} else {
		s.recordPersistFailure(ctx, order.ID, errors.New("customer unavailable"))
	}
	s.obsMetrics.RecordOrderCreated(ctx, orderCurrency)

	return paymentdomain.CreateOrderResult{
		Order: paymentdomain.OrderSummary{
			ID:       order.ID,
			Amount:   orderAmount,
			Currency: orderCurrency,
			Receipt:  orderReceipt,
		},
		KeyID:    s.gateway.KeyID(),
		Customer: summary,
	}, nil
}

type persistOrderInput struct {
	gatewayOrderID string
	customerID     snowflake.ID
	itemID         string
	itemName       string
	amount         int64
	currency       string
	receipt        string
	email          string
	phone          string
	notes          map[string]string
}

// persistOrder records the order and its created transaction. A failure
// here is logged and does not fail the request: the gateway order exists and
// the webhook path can rebuild the rows from its notes.
func (s *Service) persistOrder(ctx context.Context, in persistOrderInput) {
	now := s.clock.Now()
	id := s.genID.Generate()
	notes, _ := json.Marshal(in.notes)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertOrder(ctx, tx, &paymentdomain.Order{
			ID:             id,
			GatewayOrderID: in.gatewayOrderID,
			CustomerID:     in.customerID,
			ItemID:         in.itemID,
			ItemName:       in.itemName,
			Amount:         in.amount,
			Currency:       in.currency,
			Receipt:        in.receipt,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		if err := s.repo.InsertTransaction(ctx, tx, &paymentdomain.PaymentTransaction{
			ID:             id,
			GatewayOrderID: in.gatewayOrderID,
			CustomerID:     in.customerID,
			ItemID:         in.itemID,
			ItemName:       in.itemName,
			Amount:         in.amount,
			Currency:       in.currency,
			Status:         paymentdomain.StatusCreated,
			Email:          optional(in.email),
			Contact:        optional(in.phone),
			Notes:          datatypes.JSON(notes),
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}

		return s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionOrderCreated,
			TargetType: auditdomain.TargetTypePaymentOrder,
			TargetID:   in.gatewayOrderID,
			Metadata: map[string]any{
				"amount":      in.amount,
				"currency":    in.currency,
				"customer_id": in.customerID.String(),
				"receipt":     in.receipt,
			},
		})
	})
	if err != nil {
		s.recordPersistFailure(ctx, in.gatewayOrderID, err)
	}
}

func (s *Service) recordPersistFailure(ctx context.Context, gatewayOrderID string, cause error) {
	s.log.Error("failed to persist payment order",
		zap.String("gateway_order_id", gatewayOrderID),
		zap.Error(cause),
	)
	s.obsMetrics.RecordPersistenceFailure(ctx, "create_order")
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionOrderPersistFailed,
		TargetType: auditdomain.TargetTypePaymentOrder,
		TargetID:   gatewayOrderID,
		Metadata:   map[string]any{"error": cause.Error()},
	}); err != nil {
		s.log.Warn("failed to audit persist failure", zap.Error(err))
	}
}

func (s *Service) Verify(ctx context.Context, req paymentdomain.VerifyRequest) (paymentdomain.VerifyResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	sig := req.Signature
	if orderID == "" || paymentID == "" || strings.TrimSpace(sig) == "" {
		return paymentdomain.VerifyResult{}, paymentdomain.ErrInvalidVerifyRequest
	}
	if !s.cfg.Ready() {
		return paymentdomain.VerifyResult{}, paymentdomain.ErrGatewayNotConfigured
	}

	if !signature.VerifyPayment(orderID, paymentID, sig, s.cfg.KeySecret) {
		s.log.Warn("payment signature mismatch",
			zap.String("gateway_order_id", orderID),
			zap.String("gateway_payment_id", paymentID),
		)
		return paymentdomain.VerifyResult{}, paymentdomain.ErrSignatureMismatch
	}

	payment, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return paymentdomain.VerifyResult{}, paymentdomain.GatewayFailure(gatewayMessage(err), err)
	}
	if payment.OrderID != orderID {
		s.log.Warn("payment belongs to another order",
			zap.String("gateway_order_id", orderID),
			zap.String("gateway_payment_id", paymentID),
			zap.String("payment_order_id", payment.OrderID),
		)
		return paymentdomain.VerifyResult{}, paymentdomain.ErrPaymentOrderMismatch
	}

	txn, err := s.ApplyPayment(ctx, payment, paymentdomain.ApplyOptions{
		Source:    paymentdomain.SourceVerify,
		Signature: sig,
	})
	if err != nil {
		return paymentdomain.VerifyResult{}, err
	}

	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionPaymentVerified,
		TargetType: auditdomain.TargetTypeTransaction,
		TargetID:   txn.ID.String(),
		Metadata: map[string]any{
			"gateway_order_id":   orderID,
			"gateway_payment_id": paymentID,
			"status":             string(txn.Status),
		},
	}); err != nil {
		s.log.Warn("failed to audit payment verification", zap.Error(err))
	}

	return paymentdomain.VerifyResult{
		OrderID:     orderID,
		PaymentID:   paymentID,
		Transaction: txn,
	}, nil
}

func (s *Service) GetByPaymentID(ctx context.Context, gatewayPaymentID string) (paymentdomain.PaymentTransaction, error) {
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayPaymentID == "" {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrInvalidPaymentID
	}
	txn, err := s.repo.FindByPaymentID(ctx, s.db, gatewayPaymentID)
	if err != nil {
		return paymentdomain.PaymentTransaction{}, paymentdomain.PersistenceFailure("find_by_payment_id", err)
	}
	if txn == nil {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrNotFound
	}
	return *txn, nil
}

func (s *Service) GetByOrderID(ctx context.Context, gatewayOrderID string) (paymentdomain.PaymentTransaction, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrInvalidOrderID
	}
	txn, err := s.repo.FindByOrderID(ctx, s.db, gatewayOrderID)
	if err != nil {
		return paymentdomain.PaymentTransaction{}, paymentdomain.PersistenceFailure("find_by_order_id", err)
	}
	if txn == nil {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrNotFound
	}
	return *txn, nil
}

func (s *Service) ListCustomerTransactions(ctx context.Context, req paymentdomain.CustomerTransactionsRequest) (paymentdomain.CustomerTransactions, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return paymentdomain.CustomerTransactions{}, paymentdomain.ErrInvalidUserID
	}

	customer, err := s.customerRepo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return paymentdomain.CustomerTransactions{}, paymentdomain.PersistenceFailure("find_customer", err)
	}
	if customer == nil {
		return paymentdomain.CustomerTransactions{}, paymentdomain.ErrCustomerNotFound
	}

	filter := paymentdomain.ListFilter{}
	if req.Pagination.Enabled() {
		filter.Limit = req.Pagination.Limit()
		if token := strings.TrimSpace(req.PageToken); token != "" {
			cursor, err := decodeTransactionCursor(token)
			if err != nil {
				return paymentdomain.CustomerTransactions{}, paymentdomain.ErrInvalidPageToken
			}
			filter.Cursor = cursor
		}
	}

	items, err := s.repo.ListByCustomer(ctx, s.db, customer.ID, filter)
	if err != nil {
		return paymentdomain.CustomerTransactions{}, paymentdomain.PersistenceFailure("list_transactions", err)
	}
	balance, err := s.repo.AggregateBalance(ctx, s.db, customer.ID)
	if err != nil {
		return paymentdomain.CustomerTransactions{}, paymentdomain.PersistenceFailure("aggregate_balance", err)
	}

	var pageInfo *pagination.PageInfo
	if filter.Limit > 0 {
		pageInfo = pagination.BuildCursorPageInfo(items, filter.Limit, encodeTransactionCursor)
		if len(items) > filter.Limit {
			items = items[:filter.Limit]
		}
	}

	transactions := make([]paymentdomain.PaymentTransaction, 0, len(items))
	for _, item := range items {
		transactions = append(transactions, *item)
	}

	return paymentdomain.CustomerTransactions{
		Customer:     customer.Summary(),
		Balance:      balance,
		Transactions: transactions,
		PageInfo:     pageInfo,
	}, nil
}

func encodeTransactionCursor(txn *paymentdomain.PaymentTransaction) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        txn.ID.String(),
		CreatedAt: txn.CreatedAt.UTC().Format(timeLayout),
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeTransactionCursor(token string) (*paymentdomain.TransactionCursor, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	createdAt, err := parseTime(cursor.CreatedAt)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	return &paymentdomain.TransactionCursor{ID: id, CreatedAt: createdAt}, nil
}

// buildReceipt combines a slug of the item id with a base36 timestamp so
// retries of the same item never collide at the gateway.
func buildReceipt(itemID string, nanos int64) string {
	item := strings.TrimRight(truncate(slug.Make(itemID), receiptItemLen), "-_")
	if item == "" {
		item = "item"
	}
	receipt := "rcpt_" + item + "_" + strconv.FormatInt(nanos, 36)
	return truncate(receipt, maxReceiptLen)
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	value = value[:max]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

type gatewayMessenger interface {
	GatewayMessage() string
}

func gatewayMessage(err error) string {
	var gm gatewayMessenger
	if errors.As(err, &gm) {
		return gm.GatewayMessage()
	}
	return ""
}
