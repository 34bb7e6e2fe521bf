package table

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bistro/internal/dto"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/presentation/http/request"
	"github.com/Additional-Code/bistro/internal/presentation/http/response"
	orderservice "github.com/Additional-Code/bistro/internal/service/order"
	service "github.com/Additional-Code/bistro/internal/service/table"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/bistro/transport/http/table")

// Handler exposes the table registry over HTTP.
type Handler struct {
	svc    *service.Service
	orders *orderservice.Service
}

// NewHandler constructs a table Handler.
func NewHandler(svc *service.Service, orders *orderservice.Service) *Handler {
	return &Handler{svc: svc, orders: orders}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/tables")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/status", h.status)
	g.PUT("/:id/status", h.updateStatus)
	g.GET("/:id/orders", h.orderHistory)
}

// tableView is a table plus the order occupying it.
type tableView struct {
	*entity.Table
	ActiveOrder *dto.OrderResponse `json:"active_order,omitempty"`
}

func (h *Handler) list(c echo.Context) error {
	ctx, span := httpTracer.Start(c.Request().Context(), "tables.list")
	defer span.End()

	tables, err := h.svc.ListTables(ctx, service.Filter{
		Section: c.QueryParam("section"),
		Status:  entity.TableStatus(c.QueryParam("status")),
	})
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(tables).Build()
}

func (h *Handler) get(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.get", trace.WithAttributes(attribute.Int64("table.id", id)))
	defer span.End()

	result, err := h.svc.GetTableWithActiveOrder(ctx, id)
	if err != nil {
		return response.Fail(c, err)
	}
	view := tableView{Table: result.Table}
	if result.ActiveOrder != nil {
		order := dto.FromOrder(result.ActiveOrder)
		view.ActiveOrder = &order
	}
	return response.New(c).WithData(view).Build()
}

func (h *Handler) create(c echo.Context) error {
	var payload service.Input
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.create")
	defer span.End()

	table, err := h.svc.CreateTable(ctx, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusCreated).WithData(table).Build()
}

func (h *Handler) update(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload service.Input
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.update", trace.WithAttributes(attribute.Int64("table.id", id)))
	defer span.End()

	table, err := h.svc.UpdateTable(ctx, id, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(table).Build()
}

func (h *Handler) delete(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.delete", trace.WithAttributes(attribute.Int64("table.id", id)))
	defer span.End()

	if err := h.svc.DeleteTable(ctx, id); err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusNoContent).Build()
}

func (h *Handler) status(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	status, err := h.svc.GetTableStatus(c.Request().Context(), id)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(service.StatusResult{ID: id, Status: status}).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload struct {
		Status entity.TableStatus `json:"status"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.updateStatus", trace.WithAttributes(
		attribute.Int64("table.id", id),
		attribute.String("table.status", string(payload.Status)),
	))
	defer span.End()

	result, err := h.svc.UpdateTableStatus(ctx, id, payload.Status)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(result).Build()
}

func (h *Handler) orderHistory(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.orders", trace.WithAttributes(attribute.Int64("table.id", id)))
	defer span.End()

	orders, err := h.orders.GetOrdersByTable(ctx, id)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(dto.FromOrders(orders)).Build()
}
