package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/database"
	"github.com/Additional-Code/bistro/internal/observability"
	"github.com/Additional-Code/bistro/internal/presentation/http/response"
	"github.com/Additional-Code/bistro/pkg/errorbank"
)

const readHeaderTimeout = 10 * time.Second

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

// Params defines dependencies for the router.
type Params struct {
	fx.In

	Config        config.Config
	Observability *observability.Manager `optional:"true"`
	Connections   *database.Connections  `optional:"true"`
	Logger        *zap.Logger
}

// NewEcho configures the Echo router with request middleware, error
// rendering and the health and metrics endpoints.
func NewEcho(p Params) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(p.Logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			p.Logger.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}))

	obs := p.Observability
	if obs != nil && obs.TracingEnabled() {
		e.Use(otelecho.Middleware(p.Config.Observability.ServiceName))
	}

	e.GET("/health", func(c echo.Context) error {
		status := map[string]string{"status": "ok"}
		if p.Connections != nil {
			if err := p.Connections.Writer.PingContext(c.Request().Context()); err != nil {
				return response.Fail(c, errorbank.Internal("database unavailable", errorbank.WithCause(err)))
			}
			status["database"] = "ok"
		}
		return c.JSON(http.StatusOK, status)
	})

	if obs != nil && obs.MetricsEnabled() && obs.MetricsHandler() != nil {
		e.GET(obs.PrometheusPath(), echo.WrapHandler(obs.MetricsHandler()))
	}

	return e
}

// ErrorHandler renders errors that escape handlers, such as unknown routes
// and bind failures, in the same envelope as handler errors.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			msg := fmt.Sprint(httpErr.Message)
			var appErr *errorbank.AppError
			switch httpErr.Code {
			case http.StatusNotFound:
				appErr = errorbank.NotFound(msg)
			case http.StatusUnauthorized:
				appErr = errorbank.Unauthorized(msg)
			case http.StatusInternalServerError:
				appErr = errorbank.Internal(msg, errorbank.WithCause(err))
			default:
				appErr = errorbank.Validation(msg)
			}
			if rerr := response.New(c).WithStatus(httpErr.Code).WithError(appErr).Build(); rerr != nil {
				logger.Error("failed to write error response", zap.Error(rerr))
			}
			return
		}

		logger.Error("http request failed", zap.String("path", c.Path()), zap.Error(err))
		if rerr := response.Fail(c, err); rerr != nil {
			logger.Error("failed to write error response", zap.Error(rerr))
		}
	}
}

// Run starts the HTTP server and ties it to the Fx lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
