package accounting

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/accounting/service"
)

var Module = fx.Module("accounting",
	fx.Provide(service.Provide),
)
