package razorpay

import (
	"github.com/medistore/payments/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.razorpay",
	fx.Provide(
		New,
		func(c *Client) domain.Gateway { return c },
	),
)
