package report

import "go.uber.org/fx"

var Module = fx.Module("http_report",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
