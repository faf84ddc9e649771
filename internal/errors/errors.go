// Package errors provides standardized error handling for the catalog service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the catalog service.
type ErrorCode string

const (
	// Validation errors
	CINE_VALIDATION    ErrorCode = "CINE_VALIDATION"    // General validation error
	CINE_SCHEMA_REJECT ErrorCode = "CINE_SCHEMA_REJECT" // Request body failed schema validation
	CINE_BAD_REQUEST   ErrorCode = "CINE_BAD_REQUEST"   // Bad request

	// Authentication errors
	CINE_AUTHN           ErrorCode = "CINE_AUTHN"           // Authentication failed
	CINE_TOKEN_INVALID   ErrorCode = "CINE_TOKEN_INVALID"   // Invalid admin token
	CINE_TOKEN_EXPIRED   ErrorCode = "CINE_TOKEN_EXPIRED"   // Expired admin token
	CINE_API_KEY_INVALID ErrorCode = "CINE_API_KEY_INVALID" // Site API key mismatch

	// Resource errors
	CINE_NOT_FOUND ErrorCode = "CINE_NOT_FOUND" // Resource not found
	CINE_CONFLICT  ErrorCode = "CINE_CONFLICT"  // Resource conflict

	// Rate limiting
	CINE_RATE_LIMIT ErrorCode = "CINE_RATE_LIMIT" // Rate limit exceeded

	// Server errors
	CINE_INTERNAL    ErrorCode = "CINE_INTERNAL"    // Internal server error
	CINE_UNAVAILABLE ErrorCode = "CINE_UNAVAILABLE" // Service or dependency unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithCorrelationID returns a copy of the error bound to a request.
func (e *Error) WithCorrelationID(correlationID string) *Error {
	cp := *e
	cp.CorrelationID = correlationID
	return &cp
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case CINE_VALIDATION, CINE_SCHEMA_REJECT, CINE_BAD_REQUEST:
		return http.StatusBadRequest
	case CINE_AUTHN, CINE_TOKEN_INVALID, CINE_TOKEN_EXPIRED, CINE_API_KEY_INVALID:
		return http.StatusUnauthorized
	case CINE_NOT_FOUND:
		return http.StatusNotFound
	case CINE_CONFLICT:
		return http.StatusConflict
	case CINE_RATE_LIMIT:
		return http.StatusTooManyRequests
	case CINE_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
