package http

import "fmt"

// ErrorType represents the category of error returned by an upstream API.
type ErrorType int

const (
	ErrTypeAuthentication ErrorType = iota
	ErrTypeRateLimit
	ErrTypeServiceUnavailable
	ErrTypeInvalidRequest
	ErrTypeTimeout
	ErrTypeNotFound
	ErrTypeUnknown
)

// String returns a human-readable description of the error type.
func (e ErrorType) String() string {
	switch e {
	case ErrTypeAuthentication:
		return "authentication error"
	case ErrTypeRateLimit:
		return "rate limit exceeded"
	case ErrTypeServiceUnavailable:
		return "service unavailable"
	case ErrTypeInvalidRequest:
		return "invalid request"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeNotFound:
		return "not found"
	default:
		return "unknown error"
	}
}

// Error is a typed upstream HTTP error carrying enough context to decide
// whether a retry is worthwhile.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Provider   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s (status: %d)", e.Provider, e.Type.String(), e.Message, e.StatusCode)
}

// Is implements error equality for errors.Is, comparing by type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsRetryable reports whether retrying the request may succeed.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// FromStatusCode maps an HTTP status code to a typed error. 5xx and 429
// are retryable; everything else fails immediately.
func FromStatusCode(provider string, statusCode int, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("HTTP %d", statusCode)
	}

	switch {
	case statusCode == 401 || statusCode == 403:
		return &Error{Type: ErrTypeAuthentication, Message: message, StatusCode: statusCode, Retryable: false, Provider: provider}
	case statusCode == 404:
		return &Error{Type: ErrTypeNotFound, Message: message, StatusCode: statusCode, Retryable: false, Provider: provider}
	case statusCode == 429:
		return &Error{Type: ErrTypeRateLimit, Message: message, StatusCode: statusCode, Retryable: true, Provider: provider}
	case statusCode >= 500:
		return &Error{Type: ErrTypeServiceUnavailable, Message: message, StatusCode: statusCode, Retryable: true, Provider: provider}
	case statusCode >= 400:
		return &Error{Type: ErrTypeInvalidRequest, Message: message, StatusCode: statusCode, Retryable: false, Provider: provider}
	default:
		return &Error{Type: ErrTypeUnknown, Message: message, StatusCode: statusCode, Retryable: false, Provider: provider}
	}
}

// NewTimeoutError creates a retryable timeout error.
func NewTimeoutError(provider, message string) *Error {
	return &Error{Type: ErrTypeTimeout, Message: message, Retryable: true, Provider: provider}
}

// NewTransportError creates an error for a failed network round trip.
// Transport failures (connection reset, refused, DNS) are retryable.
func NewTransportError(provider, message string) *Error {
	return &Error{Type: ErrTypeTimeout, Message: message, Retryable: true, Provider: provider}
}
