// Package errorbank is the error taxonomy shared by services and transports.
// Services return *AppError values; transports translate the kind into an
// HTTP status or a gRPC code.
package errorbank

import (
	"errors"
	"fmt"
	"maps"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Kind names an error category.
type Kind string

const (
	// KindValidation marks malformed input rejected before any write.
	KindValidation Kind = "validation"

	// KindNotFound marks a reference to a missing order, table, menu item,
	// category or staff account.
	KindNotFound Kind = "not_found"

	// KindConflict covers uniqueness, still-referenced deletes, illegal
	// status transitions and the last-admin guard.
	KindConflict Kind = "conflict"

	// KindTransaction marks a store failure that rolled the unit of work back.
	KindTransaction Kind = "transaction"

	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

type mapping struct {
	status int
	code   codes.Code
}

var mappings = map[Kind]mapping{
	KindValidation:   {http.StatusBadRequest, codes.InvalidArgument},
	KindNotFound:     {http.StatusNotFound, codes.NotFound},
	KindConflict:     {http.StatusConflict, codes.FailedPrecondition},
	KindTransaction:  {http.StatusInternalServerError, codes.Aborted},
	KindUnauthorized: {http.StatusUnauthorized, codes.Unauthenticated},
	KindInternal:     {http.StatusInternalServerError, codes.Internal},
}

func (k Kind) mapping() mapping {
	if m, ok := mappings[k]; ok {
		return m
	}
	return mappings[KindInternal]
}

// AppError is a categorized error with a caller-facing message and optional
// structured details.
type AppError struct {
	kind    Kind
	message string
	details map[string]any
	cause   error
}

// Option configures an AppError at construction.
type Option func(*AppError)

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(e *AppError) { e.cause = err }
}

// WithDetail attaches one named value.
func WithDetail(key string, value any) Option {
	return WithDetails(map[string]any{key: value})
}

// WithDetails attaches several named values.
func WithDetails(details map[string]any) Option {
	return func(e *AppError) {
		if len(details) == 0 {
			return
		}
		if e.details == nil {
			e.details = make(map[string]any, len(details))
		}
		maps.Copy(e.details, details)
	}
}

// New builds an AppError. An empty message falls back to the kind name.
func New(kind Kind, message string, opts ...Option) *AppError {
	if message == "" {
		message = string(kind)
	}
	e := &AppError{kind: kind, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	default:
		return e.message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Kind returns the category, KindInternal for a nil error.
func (e *AppError) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

// Message returns the caller-facing text without the cause.
func (e *AppError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details returns the attached values, nil when there are none.
func (e *AppError) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// StatusCode is the HTTP status for the kind.
func (e *AppError) StatusCode() int { return e.Kind().mapping().status }

// GRPCCode is the gRPC status code for the kind.
func (e *AppError) GRPCCode() codes.Code { return e.Kind().mapping().code }

func Validation(message string, opts ...Option) *AppError {
	return New(KindValidation, message, opts...)
}

func Conflict(message string, opts ...Option) *AppError {
	return New(KindConflict, message, opts...)
}

func NotFound(message string, opts ...Option) *AppError {
	return New(KindNotFound, message, opts...)
}

func Transaction(message string, opts ...Option) *AppError {
	return New(KindTransaction, message, opts...)
}

func Unauthorized(message string, opts ...Option) *AppError {
	return New(KindUnauthorized, message, opts...)
}

func Internal(message string, opts ...Option) *AppError {
	return New(KindInternal, message, opts...)
}

// From finds the AppError in err's chain. Anything else is wrapped as an
// internal error.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", WithCause(err))
}

// Is reports whether err's chain holds an AppError of kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.kind == kind
}
