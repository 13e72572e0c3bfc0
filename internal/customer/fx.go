package customer

import (
	"github.com/medistore/payments/internal/customer/repository"
	"github.com/medistore/payments/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
