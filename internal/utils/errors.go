package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is the one error shape callers see for failed backend or auth
// calls: an HTTP-like status plus a human readable message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// New returns an *APIError as a plain error.
func New(status int, message string) error {
	return &APIError{
		Status:  status,
		Message: message,
	}
}

// NewAPIError returns a typed *APIError.
func NewAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message}
}

// AsAPIError unwraps err into an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Normalize converts any error into an *APIError. Errors that are not
// already typed become a 500 carrying the original message.
func Normalize(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAPIError(http.StatusRequestTimeout, "request timed out")
	}
	return NewAPIError(http.StatusInternalServerError, err.Error())
}

// StatusOf reports the status carried by err, or 500 for untyped errors.
func StatusOf(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}

// IsUnauthorized reports whether err carries a 401.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err carries a 404.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == http.StatusNotFound
}

// IsCanceled reports whether err is the result of the caller aborting the
// operation. Cancellation is not a failure and is never retried.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
