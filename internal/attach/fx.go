package attach

import (
	"github.com/accordbilling/accord/internal/attach/domain"
	"github.com/accordbilling/accord/internal/attach/service"
	"github.com/accordbilling/accord/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("attach.service",
	fx.Provide(func(p service.ServiceParam, cfg config.Config) domain.Service {
		return service.NewService(p, cfg.Stripe.DefaultPaymentMethodTypes)
	}),
)
