package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/shopline/commerce/pkg/errors"
)

// DownstreamErrorResponse is the error envelope written by httputil.WriteError
// in the other services.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// ParseResponseError reads a non-2xx response and translates it into an
// AppError. Structured bodies keep their code, message and details; anything
// else becomes a generic error carrying the status and raw body. The body is
// consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.BadGateway(
			fmt.Sprintf("%s returned status %d", serviceName, resp.StatusCode),
			fmt.Errorf("read body: %w", err),
		)
	}

	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil && downstream.Error != nil {
		e := downstream.Error
		return mapDownstreamError(resp.StatusCode, e.Code, e.Message, e.Details, serviceName)
	}

	if resp.StatusCode >= 500 {
		return apperrors.BadGateway(
			fmt.Sprintf("%s returned status %d", serviceName, resp.StatusCode),
			fmt.Errorf("%s", bodyBytes),
		)
	}
	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(bodyBytes))
}

// mapDownstreamError translates a downstream status and error code into an
// AppError with the same meaning on this side of the call.
func mapDownstreamError(status int, code, message string, details map[string]any, serviceName string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", serviceName, message)

	var appErr *apperrors.AppError
	switch {
	case code == "INSUFFICIENT_STOCK":
		appErr = &apperrors.AppError{
			Code:    code,
			Message: qualifiedMsg,
			Status:  http.StatusConflict,
			Err:     apperrors.ErrInsufficientStock,
		}
	case code == "ALREADY_EXISTS":
		appErr = &apperrors.AppError{
			Code:    code,
			Message: qualifiedMsg,
			Status:  http.StatusConflict,
			Err:     apperrors.ErrAlreadyExists,
		}
	case status == http.StatusNotFound:
		appErr = &apperrors.AppError{
			Code:    "NOT_FOUND",
			Message: qualifiedMsg,
			Status:  http.StatusNotFound,
			Err:     apperrors.ErrNotFound,
		}
	case status == http.StatusBadRequest:
		appErr = apperrors.InvalidInput(qualifiedMsg)
	case status == http.StatusConflict:
		appErr = apperrors.Conflict(qualifiedMsg)
		appErr.Code = code
	case status == http.StatusServiceUnavailable:
		appErr = apperrors.ServiceUnavailable(qualifiedMsg)
	case status >= 500:
		appErr = apperrors.BadGateway(qualifiedMsg, fmt.Errorf("%s status %d (%s)", serviceName, status, code))
	default:
		appErr = &apperrors.AppError{Code: code, Message: qualifiedMsg, Status: status}
	}

	for k, v := range details {
		appErr.WithDetail(k, v)
	}
	return appErr
}

