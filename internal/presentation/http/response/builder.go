// Package response renders the JSON envelope every bistro endpoint answers
// with: {"success", "data" | "error", "meta"}.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/bistro/pkg/errorbank"
)

// Envelope is the body of a successful response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ErrorEnvelope is the body of a failed response.
type ErrorEnvelope struct {
	Success bool           `json:"success"`
	Error   ErrorBody      `json:"error"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ErrorBody describes what went wrong in caller terms.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Builder accumulates a response for one request. Handlers chain the With*
// calls and finish with Build.
type Builder struct {
	c      echo.Context
	status int
	data   any
	err    error
	meta   map[string]any
}

func New(c echo.Context) *Builder {
	return &Builder{c: c, status: http.StatusOK}
}

// Fail renders err with the status of its kind.
func Fail(c echo.Context, err error) error {
	return New(c).WithError(err).Build()
}

// WithStatus sets the status code. Non-positive values are ignored.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta sets one meta entry. An empty key is ignored.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = map[string]any{}
	}
	b.meta[key] = value
	return b
}

// WithPage records paging metadata for list responses.
func (b *Builder) WithPage(count, limit, offset int) *Builder {
	return b.WithMeta("count", count).WithMeta("limit", limit).WithMeta("offset", offset)
}

// Build writes the response. Errors take precedence over data, and a 204
// status writes no body.
func (b *Builder) Build() error {
	if id := b.c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		b.WithMeta("request_id", id)
	}

	switch {
	case b.err != nil:
		appErr := errorbank.From(b.err)
		status := b.status
		if status < http.StatusBadRequest {
			status = appErr.StatusCode()
		}
		return b.c.JSON(status, ErrorEnvelope{
			Error: ErrorBody{
				Kind:    string(appErr.Kind()),
				Message: appErr.Message(),
				Details: appErr.Details(),
			},
			Meta: b.meta,
		})
	case b.status == http.StatusNoContent:
		return b.c.NoContent(http.StatusNoContent)
	default:
		return b.c.JSON(b.status, Envelope{Success: true, Data: b.data, Meta: b.meta})
	}
}
