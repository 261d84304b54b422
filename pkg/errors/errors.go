package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is. Every AppError built by this package wraps one.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
)

// Machine-readable codes sent to storefront clients in the error envelope.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeUnavailable       = "SERVICE_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeUpstream          = "UPSTREAM_ERROR"
)

// statusBySentinel is consulted in order for errors that are not an AppError.
var statusBySentinel = []struct {
	sentinel error
	status   int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// AppError is an error the HTTP layer can render. Message is safe to show a
// shopper; Err carries the sentinel and any cause for logs.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// New builds an AppError whose Err matches sentinel and, when non-nil, cause.
func New(code string, status int, message string, sentinel, cause error) *AppError {
	err := sentinel
	switch {
	case sentinel == nil:
		err = cause
	case cause != nil:
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

func NotFound(resource, id string) *AppError {
	return New(CodeNotFound, http.StatusNotFound,
		fmt.Sprintf("%s with id %s not found", resource, id), ErrNotFound, nil)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, http.StatusBadRequest, message, ErrInvalidInput, nil)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, http.StatusUnauthorized, message, ErrUnauthorized, nil)
}

// UnauthorizedCause is Unauthorized keeping cause reachable through errors.Is.
func UnauthorizedCause(message string, cause error) *AppError {
	return New(CodeUnauthorized, http.StatusUnauthorized, message, ErrUnauthorized, cause)
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, http.StatusForbidden, message, ErrForbidden, nil)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, http.StatusConflict, message, ErrConflict, nil)
}

// Unavailable is a 503 for an upstream that could not be reached. cause is
// kept for logs and errors.Is but never rendered.
func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, http.StatusServiceUnavailable, message, ErrServiceUnavail, cause)
}

// Internal hides err behind a generic message.
func Internal(err error) *AppError {
	return New(CodeInternal, http.StatusInternalServerError,
		"an internal error occurred", ErrInternal, err)
}

// Wrap prefixes err with message.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// CodeOf returns the AppError code found in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, m := range statusBySentinel {
		if errors.Is(err, m.sentinel) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
