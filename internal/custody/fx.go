package custody

import (
	"github.com/smallbiznis/opsledger/internal/custody/service"
	"go.uber.org/fx"
)

var Module = fx.Module("custody.service",
	fx.Provide(service.NewService),
)
