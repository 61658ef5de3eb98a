package ledger

import (
	"github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/ledger/repository"
	"github.com/smallbiznis/opsledger/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(
			service.NewService,
			fx.As(new(domain.Service)),
			fx.As(new(domain.Poster)),
		),
	),
)
