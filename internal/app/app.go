package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/bistro/internal/cache"
	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/logger"
	"github.com/Additional-Code/bistro/internal/messaging"
	"github.com/Additional-Code/bistro/internal/observability"
	menurepo "github.com/Additional-Code/bistro/internal/repository/menu"
	orderrepo "github.com/Additional-Code/bistro/internal/repository/order"
	staffrepo "github.com/Additional-Code/bistro/internal/repository/staff"
	tablerepo "github.com/Additional-Code/bistro/internal/repository/table"
	grpcserver "github.com/Additional-Code/bistro/internal/server/grpc"
	httpserver "github.com/Additional-Code/bistro/internal/server/http"
	menusvc "github.com/Additional-Code/bistro/internal/service/menu"
	ordersvc "github.com/Additional-Code/bistro/internal/service/order"
	reportsvc "github.com/Additional-Code/bistro/internal/service/report"
	staffsvc "github.com/Additional-Code/bistro/internal/service/staff"
	tablesvc "github.com/Additional-Code/bistro/internal/service/table"
	transporthttp "github.com/Additional-Code/bistro/internal/transport/http"
	"github.com/Additional-Code/bistro/internal/validation"
	"github.com/Additional-Code/bistro/internal/worker"
	workerorder "github.com/Additional-Code/bistro/internal/worker/order"
)

// Store provides configuration, logging and the database handle only.
var Store = fx.Options(
	config.Module,
	logger.Module,
	database.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Store,
	cache.Module,
	messaging.Module,
	observability.Module,
	validation.Module,
	menurepo.Module,
	orderrepo.Module,
	staffrepo.Module,
	tablerepo.Module,
	menusvc.Module,
	ordersvc.Module,
	reportsvc.Module,
	staffsvc.Module,
	tablesvc.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	transporthttp.Module,
	grpcserver.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring.
var Module = HTTP
