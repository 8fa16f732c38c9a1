// Package core provides core types and interfaces for the request dispatcher.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorType classifies every error the dispatcher can produce or observe.
type ErrorType string

const (
	// ErrorTypeConfig indicates invalid static configuration (fatal at startup)
	ErrorTypeConfig ErrorType = "config_error"
	// ErrorTypeNotFound indicates a registry lookup miss
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeProviderUnavailable indicates an explicitly requested provider is not eligible
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable_error"
	// ErrorTypeNoProviderAvailable indicates no eligible candidate could serve the request
	ErrorTypeNoProviderAvailable ErrorType = "no_provider_available_error"

	// ErrorTypeAuth indicates the upstream rejected the credential (401/403)
	ErrorTypeAuth ErrorType = "auth_error"
	// ErrorTypeRateLimited indicates the upstream signalled throttling (429)
	ErrorTypeRateLimited ErrorType = "rate_limited_error"
	// ErrorTypeTimeout indicates the adapter call exceeded its deadline
	ErrorTypeTimeout ErrorType = "timeout_error"
	// ErrorTypeInvalidRequest indicates a request-shape problem; never retried
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeTransient indicates a retryable upstream or network failure
	ErrorTypeTransient ErrorType = "transient_error"
	// ErrorTypeUnknown indicates an unclassified upstream failure
	ErrorTypeUnknown ErrorType = "unknown_error"

	// ErrorTypeCanceled indicates the caller cancelled the dispatch
	ErrorTypeCanceled ErrorType = "canceled_error"
)

// StatusClientClosedRequest is the non-standard status used when the caller went away.
const StatusClientClosedRequest = 499

// GatewayError is the base error type for all dispatcher errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status the API layer should answer with.
// Upstream status codes are not propagated: every per-provider failure that
// reaches a client has already been aggregated by the dispatcher.
func (e *GatewayError) HTTPStatusCode() int {
	return StatusCodeFor(e.Type)
}

// StatusCodeFor maps an error type to its downstream HTTP status.
func StatusCodeFor(t ErrorType) int {
	switch t {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProviderUnavailable, ErrorTypeNoProviderAvailable:
		return http.StatusBadGateway
	case ErrorTypeCanceled:
		return StatusClientClosedRequest
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeAuth, ErrorTypeRateLimited, ErrorTypeTransient, ErrorTypeUnknown:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeConfig, Message: message}
}

// NewNotFoundError creates a new registry lookup error
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeNotFound, Message: message}
}

// NewProviderUnavailableError creates an error for an ineligible explicit provider
func NewProviderUnavailableError(provider, message string, err error) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeProviderUnavailable,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// NewNoProviderAvailableError creates an error for an empty candidate list
func NewNoProviderAvailableError(message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeNoProviderAvailable, Message: message}
}

// NewInvalidRequestError creates a new invalid request error
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeInvalidRequest, Message: message, Err: err}
}

// NewAuthError creates a new upstream authentication error
func NewAuthError(provider, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuth,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewRateLimitedError creates a new upstream throttling error
func NewRateLimitedError(provider, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeRateLimited,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewTimeoutError creates a new adapter timeout error
func NewTimeoutError(provider, message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeTimeout, Message: message, Provider: provider, Err: err}
}

// NewTransientError creates a new retryable upstream error
func NewTransientError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeTransient,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewProviderError creates an error of the type implied by an upstream status code.
func NewProviderError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       TypeFromStatus(statusCode),
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// TypeFromStatus classifies an upstream HTTP status code.
func TypeFromStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimited
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case statusCode == http.StatusBadRequest,
		statusCode == http.StatusRequestEntityTooLarge:
		return ErrorTypeInvalidRequest
	case statusCode >= 500:
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

// ClassifyTransportError wraps an error raised before any HTTP status was received.
func ClassifyTransportError(provider string, err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(provider, "upstream call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return &GatewayError{Type: ErrorTypeCanceled, Message: "upstream call canceled", Provider: provider, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeoutError(provider, "upstream call timed out: "+err.Error(), err)
		}
		return NewTransientError(provider, 0, "network error: "+err.Error(), err)
	}
	return &GatewayError{Type: ErrorTypeUnknown, Message: err.Error(), Provider: provider, Err: err}
}

// TypeOf returns the error type carried by err, classifying raw errors on the way.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Type
	}
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Type
	}
	return ClassifyTransportError("", err).Type
}

// IsType reports whether err carries the given error type.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// Attempt records how one candidate failed during a dispatch.
type Attempt struct {
	Provider string    `json:"provider"`
	Type     ErrorType `json:"kind"`
	Attempts int       `json:"attempts"`
	Err      error     `json:"-"`
}

// DispatchError is the terminal failure of a dispatch. Attempts lists every
// attempted candidate in attempt order; Skipped lists candidates that became
// unavailable between selection and their turn.
type DispatchError struct {
	Type     ErrorType `json:"type"`
	Message  string    `json:"message"`
	Attempts []Attempt `json:"attempts"`
	Skipped  []string  `json:"skipped,omitempty"`
	Err      error     `json:"-"`
}

// Error implements the error interface
func (e *DispatchError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Provider, a.Type))
	}
	return fmt.Sprintf("%s: %s [%s]", e.Type, e.Message, strings.Join(parts, ", "))
}

// Unwrap returns the cause, or the last attempt's error
func (e *DispatchError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if n := len(e.Attempts); n > 0 {
		return e.Attempts[n-1].Err
	}
	return nil
}

// HTTPStatusCode returns the status the API layer should answer with.
func (e *DispatchError) HTTPStatusCode() int {
	return StatusCodeFor(e.Type)
}

// ToJSON converts the error to a JSON-compatible map including the attempt history
func (e *DispatchError) ToJSON() map[string]interface{} {
	attempts := e.Attempts
	if attempts == nil {
		attempts = []Attempt{}
	}
	body := map[string]interface{}{
		"type":     e.Type,
		"message":  e.Message,
		"attempts": attempts,
	}
	if len(e.Skipped) > 0 {
		body["skipped"] = e.Skipped
	}
	return map[string]interface{}{"error": body}
}
