package report

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/presentation/http/request"
	"github.com/Additional-Code/bistro/internal/presentation/http/response"
	service "github.com/Additional-Code/bistro/internal/service/report"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/bistro/transport/http/report")

// Handler exposes sales reports over HTTP.
type Handler struct {
	svc      *service.Service
	location *time.Location
}

// NewHandler constructs a report Handler.
func NewHandler(svc *service.Service, cfg config.Config) *Handler {
	loc := cfg.Reporting.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, location: loc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/reports")
	g.GET("/sales", h.sales)
	g.GET("/dashboard", h.dashboard)
}

func (h *Handler) sales(c echo.Context) error {
	from, err := request.QueryDate(c, "from", h.location)
	if err != nil {
		return response.Fail(c, err)
	}
	to, err := request.QueryDate(c, "to", h.location)
	if err != nil {
		return response.Fail(c, err)
	}
	groupBy := service.GroupBy(c.QueryParam("group_by"))

	ctx, span := httpTracer.Start(c.Request().Context(), "reports.sales", trace.WithAttributes(
		attribute.String("report.from", c.QueryParam("from")),
		attribute.String("report.to", c.QueryParam("to")),
	))
	defer span.End()

	report, err := h.svc.GetSalesReport(ctx, from, to, groupBy)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(report).Build()
}

func (h *Handler) dashboard(c echo.Context) error {
	ctx, span := httpTracer.Start(c.Request().Context(), "reports.dashboard")
	defer span.End()

	dashboard, err := h.svc.GetDashboard(ctx)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(dashboard).Build()
}
