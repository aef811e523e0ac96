package trial

import (
	"github.com/accordbilling/accord/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("trial.service",
	fx.Provide(func(p ServiceParam, cfg config.Config) Service {
		return NewService(p, cfg.Attach.AllowMultipleTrials)
	}),
)
