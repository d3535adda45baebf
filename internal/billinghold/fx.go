package billinghold

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/billinghold/service"
)

var Module = fx.Module("billinghold",
	fx.Provide(service.Provide),
)
