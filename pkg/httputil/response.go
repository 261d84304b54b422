package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

// Response is the envelope of every storefront answer: data or error.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is out; an encode failure can only be dropped.
	_ = json.NewEncoder(w).Encode(v)
}

func WriteData(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, Response{Data: v})
}

// sentinelBody is what a bare sentinel renders as. Only invalid input and
// conflicts echo the error text; it is written by this service.
func sentinelBody(err error, status int) ErrorResponse {
	switch status {
	case http.StatusNotFound:
		return ErrorResponse{Code: apperrors.CodeNotFound, Message: "resource not found"}
	case http.StatusBadRequest:
		return ErrorResponse{Code: apperrors.CodeInvalidInput, Message: err.Error()}
	case http.StatusConflict:
		return ErrorResponse{Code: apperrors.CodeConflict, Message: err.Error()}
	case http.StatusUnauthorized:
		return ErrorResponse{Code: apperrors.CodeUnauthorized, Message: "authentication required"}
	case http.StatusForbidden:
		return ErrorResponse{Code: apperrors.CodeForbidden, Message: "forbidden"}
	case http.StatusServiceUnavailable:
		return ErrorResponse{Code: apperrors.CodeUnavailable, Message: "service unavailable"}
	}
	internal := apperrors.Internal(err)
	return ErrorResponse{Code: internal.Code, Message: internal.Message}
}

// WriteError renders err in the envelope. Validation errors list their
// fields, AppErrors show their own message, anything else is mapped through
// its sentinel. 5xx answers are logged with the request-scoped logger when
// there is one, else with fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	var (
		body   ErrorResponse
		status int
		valErr *validator.ValidationError
		appErr *apperrors.AppError
	)
	switch {
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
		body = ErrorResponse{Code: "VALIDATION_ERROR", Message: valErr.Error(), Fields: valErr.Fields()}
	case errors.As(err, &appErr):
		status = appErr.Status
		body = ErrorResponse{Code: appErr.Code, Message: appErr.Message}
	default:
		status = apperrors.HTTPStatus(err)
		body = sentinelBody(err, status)
	}
	body.RequestID = logger.CorrelationIDFromContext(r.Context())

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "request failed",
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	WriteJSON(w, status, Response{Error: &body})
}

// ParseID reads a positive integer path parameter. On failure it has already
// answered 400 INVALID_PARAMETER.
func ParseID(w http.ResponseWriter, param string) (int64, bool) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err == nil && id > 0 {
		return id, true
	}
	WriteJSON(w, http.StatusBadRequest, Response{
		Error: &ErrorResponse{Code: "INVALID_PARAMETER", Message: "invalid id: " + param},
	})
	return 0, false
}
