package cusproduct

import (
	"github.com/accordbilling/accord/internal/cusproduct/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("cusproduct",
	fx.Provide(repository.Provide),
)
