package secops

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tphakala/go-secops/internal/fault"
	"github.com/tphakala/go-secops/internal/retry"
)

// Sentinel errors for common failure modes.
var (
	ErrNoCredentials = errors.New("secops: no credentials configured")
	ErrNoInstance    = errors.New("secops: no project, customer or region configured")
)

// Failures raised by the resilience layer. They are aliases, so errors.As
// works with either name.
type (
	// SizeViolationError reports an item that can never fit in a request.
	// Nothing was sent.
	SizeViolationError = fault.SizeViolationError

	// PartialBatchError reports a batch that stopped part way. Committed
	// items were accepted and are not rolled back.
	PartialBatchError = fault.PartialBatchError

	// StreamTransportError reports a stream that broke or carried a
	// malformed record.
	StreamTransportError = fault.StreamTransportError

	// TimeoutError reports a context that ended during a batch or stream.
	TimeoutError = fault.TimeoutError

	// Progress records how far a batch got.
	Progress = fault.Progress

	// Range is a half-open interval of input indices.
	Range = fault.Range
)

// ErrStreamConsumed is returned when a streamed result is iterated twice.
var ErrStreamConsumed = fault.ErrStreamConsumed

// APIError represents a general platform API error.
type APIError struct {
	StatusCode int `json:"code"`
	// Status is the RPC status name, e.g. RESOURCE_EXHAUSTED.
	Status    string `json:"status,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *APIError) Error() string {
	status := strconv.Itoa(e.StatusCode)
	if e.Status != "" {
		status += " " + e.Status
	}
	if e.RequestID != "" {
		return fmt.Sprintf("secops: API error %s: %s (request_id=%s)", status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("secops: API error %s: %s", status, e.Message)
}

// HTTPStatus returns the HTTP status code of the failed response.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ErrorCode returns the RPC status name of the failed response.
func (e *APIError) ErrorCode() string { return e.Status }

// AuthenticationError indicates authentication failure (401/403).
type AuthenticationError struct {
	APIError
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("secops: authentication failed: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *AuthenticationError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// NotFoundError indicates the requested resource was not found (404).
type NotFoundError struct {
	APIError
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	if e.ResourceType != "" && e.ResourceID != "" {
		return fmt.Sprintf("secops: %s not found: %s", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("secops: resource not found: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *NotFoundError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ValidationError indicates invalid request data, either rejected locally
// before sending or by the server (400).
type ValidationError struct {
	APIError
	Field string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("secops: validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("secops: validation error: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *ValidationError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// RateLimitError indicates a quota or rate limit rejection (429 or
// RESOURCE_EXHAUSTED). It is retried under the default policy.
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("secops: rate limit exceeded, retry after %s: %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("secops: rate limit exceeded: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *RateLimitError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ServerError indicates an internal server error (5xx).
type ServerError struct {
	APIError
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("secops: server error %d: %s", e.StatusCode, e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *ServerError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// invalid builds a locally raised ValidationError.
func invalid(field, format string, args ...any) error {
	return &ValidationError{
		APIError: APIError{Message: fmt.Sprintf(format, args...)},
		Field:    field,
	}
}

// parseError converts an HTTP response into the appropriate error type.
// Google-style envelopes {"error":{"code","message","status"}} are decoded;
// anything else is kept as raw text.
func parseError(statusCode int, body []byte, headers http.Header) error {
	base := APIError{
		StatusCode: statusCode,
		RequestID:  headers.Get("X-Request-ID"),
	}

	envelope := gjson.GetBytes(body, "error")
	switch {
	case envelope.IsObject():
		base.Message = envelope.Get("message").String()
		base.Status = envelope.Get("status").String()
	case envelope.Type == gjson.String:
		base.Message = envelope.String()
	default:
		base.Message = string(body)
	}
	if base.Message == "" {
		base.Message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests || base.Status == retry.ResourceExhausted:
		return &RateLimitError{
			APIError:   base,
			RetryAfter: parseRetryAfter(headers.Get("Retry-After")),
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthenticationError{APIError: base}
	case statusCode == http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case statusCode == http.StatusBadRequest:
		return &ValidationError{APIError: base}
	case statusCode >= http.StatusInternalServerError:
		return &ServerError{APIError: base}
	default:
		return &base
	}
}

// parseRetryAfter parses the Retry-After header value.
// It handles both seconds (integer) and HTTP-date formats.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return duration
		}
	}

	return 0
}
