package rollup

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/rollup/service"
)

var Module = fx.Module("rollup",
	fx.Provide(service.Provide),
)
