package events

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/events/handlers"
	"github.com/adrijusxx/linehaul/internal/events/registry"
	"github.com/adrijusxx/linehaul/internal/events/service"
)

var Module = fx.Module("events",
	fx.Provide(registry.Provide),
	fx.Provide(service.ProvideEnqueuer),
	fx.Provide(service.ProvideDispatcher),
)

// Handlers is wired separately so enqueue-only processes (the API server)
// do not pull in the full workflow graph.
var Handlers = fx.Module("events.handlers",
	fx.Invoke(handlers.Register),
)
