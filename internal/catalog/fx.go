package catalog

import (
	"github.com/accordbilling/accord/internal/catalog/repository"
	"github.com/accordbilling/accord/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
