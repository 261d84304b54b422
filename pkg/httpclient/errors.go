package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// DownstreamErrorResponse covers the two error bodies the backend may send:
// a FastAPI style {"detail": ...} and the {"error":{"code","message"}} envelope.
type DownstreamErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Message extracts a human readable message from the body, or "" when none is present.
// A list of validation entries is joined with ", ".
func (d DownstreamErrorResponse) Message() string {
	if d.Error != nil && d.Error.Message != "" {
		return d.Error.Message
	}
	if len(d.Detail) == 0 {
		return ""
	}

	var text string
	if json.Unmarshal(d.Detail, &text) == nil {
		return text
	}

	var entries []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(d.Detail, &entries) == nil {
		msgs := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Msg != "" {
				msgs = append(msgs, e.Msg)
			}
		}
		return strings.Join(msgs, ", ")
	}
	return ""
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return apperrors.Unavailable(serviceName+" is unavailable",
			fmt.Errorf("status %d, read body: %w", resp.StatusCode, err))
	}

	message := ""
	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil {
		message = downstream.Message()
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return mapDownstreamError(resp.StatusCode, message, serviceName)
}

// mapDownstreamError translates a downstream HTTP status into an AppError.
// The backend's message is passed through unchanged so it can be shown to the user.
func mapDownstreamError(status int, message, serviceName string) error {
	switch {
	case status == http.StatusNotFound:
		return apperrors.New(apperrors.CodeNotFound, status, message, apperrors.ErrNotFound, nil)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(message)
	case status == http.StatusConflict:
		return apperrors.Conflict(message)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(message)
	case status >= 500:
		return apperrors.Unavailable(serviceName+" is unavailable",
			fmt.Errorf("status %d: %s", status, message))
	default:
		return apperrors.New(apperrors.CodeUpstream, status, message, nil, nil)
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
