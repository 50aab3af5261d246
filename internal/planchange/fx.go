package planchange

import (
	"github.com/broadbandx/billing/internal/planchange/service"
	"go.uber.org/fx"
)

var Module = fx.Module("planchange.service",
	fx.Provide(service.NewService),
)
