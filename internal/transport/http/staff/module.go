package staff

import "go.uber.org/fx"

// Module wires login and staff account routes.
var Module = fx.Module("http_staff",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
