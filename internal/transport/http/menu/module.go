package menu

import "go.uber.org/fx"

// Module wires the catalog routes.
var Module = fx.Module("http_menu",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
