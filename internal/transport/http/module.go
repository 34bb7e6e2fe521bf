package http

import (
	"go.uber.org/fx"

	menutransport "github.com/Additional-Code/bistro/internal/transport/http/menu"
	ordertransport "github.com/Additional-Code/bistro/internal/transport/http/order"
	reporttransport "github.com/Additional-Code/bistro/internal/transport/http/report"
	stafftransport "github.com/Additional-Code/bistro/internal/transport/http/staff"
	tabletransport "github.com/Additional-Code/bistro/internal/transport/http/table"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	tabletransport.Module,
	menutransport.Module,
	stafftransport.Module,
	reporttransport.Module,
)
