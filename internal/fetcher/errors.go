package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType is the category of a failed fetch
type ErrorType string

const (
	// ErrorTypeNetwork covers connection refused, DNS failures, resets and unreadable bodies
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit is an HTTP 429 from the summary source
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer is any HTTP 5xx
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient is any HTTP 4xx other than 429
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeTimeout means the request deadline fired before a response arrived
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeUnknown is a status outside the ranges above (1xx, 3xx that was not followed)
	ErrorTypeUnknown ErrorType = "unknown"
)

// FetchError describes why a single GET did not produce a usable body
type FetchError struct {
	Type       ErrorType
	Retryable  bool
	StatusCode int
	URL        string
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	prefix := string(e.Type) + " error"
	if e.URL != "" {
		prefix += " for " + e.URL
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", prefix, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap exposes the transport error to errors.Is and errors.As
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// IsStatus reports whether the failure came from a non-2xx response
func (e *FetchError) IsStatus() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeClient, ErrorTypeUnknown:
		return true
	}
	return false
}

// NewNetworkError creates a network error
func NewNetworkError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeNetwork,
		Retryable: true,
		Message:   "network request failed",
		Cause:     cause,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeTimeout,
		Retryable: true,
		Message:   "request timed out",
		Cause:     cause,
	}
}

// ClassifyTransportError maps an error returned before any status was seen.
// Deadline and net.Error timeouts become timeouts, everything else is network.
func ClassifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(err)
	}
	return NewNetworkError(err)
}

// ClassifyHTTPError turns a non-2xx status code into a FetchError
func ClassifyHTTPError(statusCode int) *FetchError {
	switch {
	case statusCode == 429:
		return &FetchError{
			Type:       ErrorTypeRateLimit,
			Retryable:  true,
			StatusCode: statusCode,
			Message:    "rate limit exceeded",
		}
	case statusCode >= 500:
		return &FetchError{
			Type:       ErrorTypeServer,
			Retryable:  true,
			StatusCode: statusCode,
			Message:    "server returned an error",
		}
	case statusCode >= 400:
		return &FetchError{
			Type:       ErrorTypeClient,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("client error: HTTP %d", statusCode),
		}
	default:
		return &FetchError{
			Type:       ErrorTypeUnknown,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		}
	}
}
