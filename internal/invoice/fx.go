package invoice

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/invoice/repository"
	"github.com/adrijusxx/linehaul/internal/invoice/service"
)

var Module = fx.Module("invoice",
	fx.Provide(repository.Provide),
	fx.Provide(service.Provide),
)
