package completion

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/completion/service"
)

var Module = fx.Module("completion",
	fx.Provide(service.Provide),
)
