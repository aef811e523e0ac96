package balance

import "go.uber.org/fx"

var Module = fx.Module("balance.engine",
	fx.Provide(NewEngine),
)
