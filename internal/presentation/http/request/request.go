// Package request decodes path, query and body input of HTTP handlers into
// validation errors the response builder understands.
package request

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/bistro/pkg/errorbank"
)

const dateLayout = "2006-01-02"

// ID parses a positive integer path parameter.
func ID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.Validation("invalid "+name, errorbank.WithDetail(name, raw))
	}
	return id, nil
}

// Bind decodes the JSON body into dst.
func Bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return errorbank.Validation("invalid payload", errorbank.WithCause(err))
	}
	return nil
}

// QueryInt reads an optional integer query parameter.
func QueryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorbank.Validation("invalid "+name, errorbank.WithDetail(name, raw))
	}
	return v, nil
}

// QueryInt64 reads an optional int64 query parameter, zero when absent.
func QueryInt64(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errorbank.Validation("invalid "+name, errorbank.WithDetail(name, raw))
	}
	return v, nil
}

// QueryBool reads an optional boolean query parameter.
func QueryBool(c echo.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errorbank.Validation("invalid "+name, errorbank.WithDetail(name, raw))
	}
	return v, nil
}

// QueryDate reads an optional YYYY-MM-DD or RFC 3339 query parameter. Plain
// dates are interpreted in loc.
func QueryDate(c echo.Context, name string, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errorbank.Validation("invalid "+name+"; expected YYYY-MM-DD", errorbank.WithDetail(name, raw))
	}
	return t, nil
}

// QueryIDs reads a comma separated list of positive ids.
func QueryIDs(c echo.Context, name string) ([]int64, error) {
	parts := QueryList(c, name)
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, errorbank.Validation("invalid "+name, errorbank.WithDetail(name, part))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// QueryList splits a comma separated query parameter.
func QueryList(c echo.Context, name string) []string {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
