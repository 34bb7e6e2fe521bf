package menu

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bistro/internal/presentation/http/request"
	"github.com/Additional-Code/bistro/internal/presentation/http/response"
	service "github.com/Additional-Code/bistro/internal/service/menu"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/bistro/transport/http/menu")

// Handler exposes the menu catalog over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a menu Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/menu")

	g.GET("/categories", h.listCategories)
	g.POST("/categories", h.createCategory)
	g.GET("/categories/:id", h.getCategory)
	g.PUT("/categories/:id", h.updateCategory)
	g.DELETE("/categories/:id", h.deleteCategory)

	g.GET("/items", h.listItems)
	g.GET("/items/lookup", h.lookupItems)
	g.POST("/items", h.createItem)
	g.GET("/items/:id", h.getItem)
	g.PUT("/items/:id", h.updateItem)
	g.DELETE("/items/:id", h.deleteItem)
	g.PUT("/items/:id/availability", h.setAvailability)
}

func (h *Handler) listCategories(c echo.Context) error {
	categories, err := h.svc.ListCategories(c.Request().Context())
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(categories).Build()
}

func (h *Handler) getCategory(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	category, err := h.svc.GetCategory(c.Request().Context(), id)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(category).Build()
}

func (h *Handler) createCategory(c echo.Context) error {
	var payload service.CategoryInput
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}
	category, err := h.svc.CreateCategory(c.Request().Context(), payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusCreated).WithData(category).Build()
}

func (h *Handler) updateCategory(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload service.CategoryInput
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}
	category, err := h.svc.UpdateCategory(c.Request().Context(), id, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(category).Build()
}

func (h *Handler) deleteCategory(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	if err := h.svc.DeleteCategory(c.Request().Context(), id); err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusNoContent).Build()
}

func (h *Handler) listItems(c echo.Context) error {
	categoryID, err := request.QueryInt64(c, "category_id")
	if err != nil {
		return response.Fail(c, err)
	}
	availableOnly, err := request.QueryBool(c, "available")
	if err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "menu.listItems")
	defer span.End()

	items, err := h.svc.ListMenuItems(ctx, service.ItemFilter{
		CategoryID:    categoryID,
		AvailableOnly: availableOnly,
		Search:        c.QueryParam("q"),
	})
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(items).Build()
}

// lookupItems answers GET /menu/items/lookup?ids=1,2 with name, price and
// availability keyed by id. Unknown ids are left out.
func (h *Handler) lookupItems(c echo.Context) error {
	ids, err := request.QueryIDs(c, "ids")
	if err != nil {
		return response.Fail(c, err)
	}
	summaries, err := h.svc.GetMenuItemsByIDs(c.Request().Context(), ids)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(summaries).Build()
}

func (h *Handler) getItem(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	item, err := h.svc.GetMenuItem(c.Request().Context(), id)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(item).Build()
}

func (h *Handler) createItem(c echo.Context) error {
	var payload service.ItemInput
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "menu.createItem")
	defer span.End()

	item, err := h.svc.CreateMenuItem(ctx, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusCreated).WithData(item).Build()
}

func (h *Handler) updateItem(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload service.ItemInput
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "menu.updateItem", trace.WithAttributes(attribute.Int64("menu_item.id", id)))
	defer span.End()

	item, err := h.svc.UpdateMenuItem(ctx, id, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(item).Build()
}

func (h *Handler) setAvailability(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload struct {
		IsAvailable bool `json:"is_available"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}
	item, err := h.svc.SetAvailability(c.Request().Context(), id, payload.IsAvailable)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(item).Build()
}

func (h *Handler) deleteItem(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	if err := h.svc.DeleteMenuItem(c.Request().Context(), id); err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusNoContent).Build()
}
