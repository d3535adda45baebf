package readiness

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/readiness/service"
)

var Module = fx.Module("readiness",
	fx.Provide(service.Provide),
)
