package payable

import (
	"github.com/smallbiznis/opsledger/internal/payable/repository"
	"github.com/smallbiznis/opsledger/internal/payable/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payable.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvidePayments),
	fx.Provide(service.NewService),
)
