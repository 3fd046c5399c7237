package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorCode is the machine readable reason carried in JSON error bodies.
type ErrorCode string

const (
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrorCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrorCodeConflict       ErrorCode = "CONFLICT"
	ErrorCodeGone           ErrorCode = "GONE"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrorCodeBackend        ErrorCode = "BACKEND_ERROR"
	ErrorCodeServiceDown    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every JSON error the portal writes.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// CodeFor maps an HTTP status to its error code.
func CodeFor(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorCodeInvalidRequest
	case http.StatusUnauthorized:
		return ErrorCodeUnauthorized
	case http.StatusForbidden:
		return ErrorCodeForbidden
	case http.StatusNotFound:
		return ErrorCodeNotFound
	case http.StatusConflict:
		return ErrorCodeConflict
	case http.StatusGone:
		return ErrorCodeGone
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorCodeTimeout
	case http.StatusTooManyRequests:
		return ErrorCodeRateLimited
	case http.StatusBadGateway:
		return ErrorCodeBackend
	case http.StatusServiceUnavailable:
		return ErrorCodeServiceDown
	}
	if status >= 400 && status < 500 {
		return ErrorCodeInvalidRequest
	}
	return ErrorCodeInternalError
}

// ErrorHandler writes JSON error responses and logs them.
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates an ErrorHandler. A nil logger discards logs.
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// HandleError normalizes err and writes it. Untyped errors are reported as
// a generic internal error so their text never reaches the client.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")
	apiErr, ok := AsAPIError(err)
	if !ok {
		apiErr = Normalize(err)
		if apiErr.Status == http.StatusInternalServerError {
			h.logger.Error("unhandled error",
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestID),
				zap.Error(err))
			apiErr = NewAPIError(http.StatusInternalServerError, "internal server error")
		}
	}
	h.WriteErrorResponse(w, apiErr.Status, CodeFor(apiErr.Status), apiErr.Message, requestID)
}

// WriteErrorResponse writes a formatted error response.
func (h *ErrorHandler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message, requestID string) {
	if statusCode >= 500 {
		h.logger.Warn("HTTP error response",
			zap.Int("status_code", statusCode),
			zap.String("error_code", string(errorCode)),
			zap.String("message", message),
			zap.String("request_id", requestID))
	}
	WriteJSON(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
