package load

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/load/repository"
	"github.com/adrijusxx/linehaul/internal/load/service"
)

var Module = fx.Module("load",
	fx.Provide(repository.Provide),
	fx.Provide(service.Provide),
)
