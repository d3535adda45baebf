package settlement

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/settlement/repository"
	"github.com/adrijusxx/linehaul/internal/settlement/service"
)

var Module = fx.Module("settlement",
	fx.Provide(repository.Provide),
	fx.Provide(service.Provide),
)
