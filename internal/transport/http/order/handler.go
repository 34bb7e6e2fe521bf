package order

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/dto"
	"github.com/Additional-Code/bistro/internal/entity"
	"github.com/Additional-Code/bistro/internal/presentation/http/request"
	"github.com/Additional-Code/bistro/internal/presentation/http/response"
	service "github.com/Additional-Code/bistro/internal/service/order"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/bistro/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc      *service.Service
	location *time.Location
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service, cfg config.Config) *Handler {
	loc := cfg.Reporting.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, location: loc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/active", h.active)
	g.GET("/:id", h.getByID)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/items", h.addItems)
	g.PUT("/:id/items", h.updateItems)
	g.PUT("/:id/status", h.updateStatus)
	g.POST("/:id/cancel", h.cancel)
}

func (h *Handler) getByID(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.GetOrderByID(ctx, id)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) list(c echo.Context) error {
	filter := service.ListFilter{}
	for _, s := range request.QueryList(c, "status") {
		filter.Statuses = append(filter.Statuses, entity.OrderStatus(s))
	}
	var err error
	if filter.TableID, err = request.QueryInt64(c, "table_id"); err != nil {
		return response.Fail(c, err)
	}
	if filter.From, err = request.QueryDate(c, "from", h.location); err != nil {
		return response.Fail(c, err)
	}
	if filter.To, err = request.QueryDate(c, "to", h.location); err != nil {
		return response.Fail(c, err)
	}
	if !filter.To.IsZero() {
		// to names the last day included.
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	if filter.Limit, err = request.QueryInt(c, "limit", 0); err != nil {
		return response.Fail(c, err)
	}
	if filter.Offset, err = request.QueryInt(c, "offset", 0); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list")
	defer span.End()

	orders, err := h.svc.ListOrders(ctx, filter)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).
		WithData(dto.FromOrders(orders)).
		WithPage(len(orders), filter.Limit, filter.Offset).
		Build()
}

func (h *Handler) active(c echo.Context) error {
	ctx, span := httpTracer.Start(c.Request().Context(), "orders.active")
	defer span.End()

	orders, err := h.svc.GetActiveOrders(ctx)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(dto.FromOrders(orders)).Build()
}

func (h *Handler) create(c echo.Context) error {
	var payload service.CreateOrderInput
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.Int64("table.id", payload.TableID),
		attribute.Int("order.lines", len(payload.Items)),
	))
	defer span.End()

	order, err := h.svc.CreateOrder(ctx, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusCreated).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) addItems(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload struct {
		Items []service.ItemInput `json:"items"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.addItems", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	result, err := h.svc.AddOrderItems(ctx, id, payload.Items)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(result).Build()
}

func (h *Handler) updateItems(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload struct {
		Items []service.UpdateItemInput `json:"items"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateItems", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.UpdateOrderItems(ctx, id, payload.Items)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload struct {
		Status  entity.OrderStatus `json:"status"`
		StaffID *int64             `json:"staff_id"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", string(payload.Status)),
	))
	defer span.End()

	result, err := h.svc.UpdateOrderStatus(ctx, id, payload.Status, payload.StaffID)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(result).Build()
}

func (h *Handler) cancel(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.cancel", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	result, err := h.svc.CancelOrder(ctx, id, payload.Reason)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(result).Build()
}

func (h *Handler) delete(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.delete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if err := h.svc.DeleteOrder(ctx, id); err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusNoContent).Build()
}
