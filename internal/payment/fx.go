package payment

import (
	"github.com/medistore/payments/internal/payment/gateway/razorpay"
	"github.com/medistore/payments/internal/payment/reconcile"
	"github.com/medistore/payments/internal/payment/repository"
	"github.com/medistore/payments/internal/payment/service"
	"github.com/medistore/payments/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	razorpay.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewReconciler),
	reconcile.Module,
)
