package audit

import (
	"github.com/medistore/payments/internal/audit/repository"
	"github.com/medistore/payments/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
