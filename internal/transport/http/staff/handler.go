package staff

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bistro/internal/presentation/http/request"
	"github.com/Additional-Code/bistro/internal/presentation/http/response"
	service "github.com/Additional-Code/bistro/internal/service/staff"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/bistro/transport/http/staff")

// Handler exposes staff accounts and login over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a staff Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/auth/login", h.login)

	g := e.Group("/staff")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.HEAD("/:id", h.exists)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.PUT("/:id/password", h.changePassword)
}

func (h *Handler) login(c echo.Context) error {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auth.login")
	defer span.End()

	staff, err := h.svc.Authenticate(ctx, payload.Username, payload.Password)
	if err != nil {
		return response.Fail(c, err)
	}
	span.SetAttributes(attribute.Int64("staff.id", staff.ID))
	return response.New(c).WithData(staff).Build()
}

func (h *Handler) list(c echo.Context) error {
	staff, err := h.svc.ListStaff(c.Request().Context())
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(staff).Build()
}

// exists answers HEAD /staff/:id with 200 or 404 and no body.
func (h *Handler) exists(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	ok, err := h.svc.Exists(c.Request().Context(), id)
	if err != nil {
		return response.Fail(c, err)
	}
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) get(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	staff, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(staff).Build()
}

func (h *Handler) create(c echo.Context) error {
	var payload service.CreateInput
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "staff.create")
	defer span.End()

	staff, err := h.svc.CreateStaff(ctx, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusCreated).WithData(staff).Build()
}

func (h *Handler) update(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload service.UpdateInput
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "staff.update", trace.WithAttributes(attribute.Int64("staff.id", id)))
	defer span.End()

	staff, err := h.svc.UpdateStaff(ctx, id, payload)
	if err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithData(staff).Build()
}

func (h *Handler) changePassword(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	var payload struct {
		Password string `json:"password"`
	}
	if err := request.Bind(c, &payload); err != nil {
		return response.Fail(c, err)
	}
	if err := h.svc.ChangePassword(c.Request().Context(), id, payload.Password); err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusNoContent).Build()
}

func (h *Handler) delete(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return response.Fail(c, err)
	}
	if err := h.svc.DeleteStaff(c.Request().Context(), id); err != nil {
		return response.Fail(c, err)
	}
	return response.New(c).WithStatus(http.StatusNoContent).Build()
}
