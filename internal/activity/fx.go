package activity

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/activity/service"
)

var Module = fx.Module("activity",
	fx.Provide(service.Provide),
)
