package payment

import (
	"github.com/broadbandx/billing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(provideGateway),
)

func provideGateway(cfg config.Config, log *zap.Logger) Gateway {
	if cfg.PaymentGatewayURL == "" {
		return NewLogGateway(log)
	}
	return NewHTTPGateway(cfg.PaymentGatewayURL, log)
}
