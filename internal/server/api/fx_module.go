package api

import (
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(NewSystemHandlers),
	fx.Provide(NewHealthHandlers),
	fx.Provide(NewCircuitHandlers),
	fx.Provide(NewCredentialHandlers),
	fx.Provide(NewRateHandlers),
	fx.Provide(NewResolveHandlers),
)
