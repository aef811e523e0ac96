package processor

import (
	"github.com/accordbilling/accord/internal/config"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/accordbilling/accord/internal/processor/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("processor",
	fx.Provide(func(cfg config.Config, log *zap.Logger) processordomain.Client {
		return stripe.NewClient(cfg.Stripe.APIKey, log)
	}),
)
