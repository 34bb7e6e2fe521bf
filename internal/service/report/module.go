package report

import "go.uber.org/fx"

// Module provides the reporting service to Fx.
var Module = fx.Provide(NewService)
