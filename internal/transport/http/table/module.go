package table

import "go.uber.org/fx"

// Module provides the table handler and mounts its routes on the shared echo
// instance.
var Module = fx.Module("http_table",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
