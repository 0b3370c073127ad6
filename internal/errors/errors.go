// Package errors provides standardized error handling for the case service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the case service.
type ErrorCode string

const (
	// Validation errors
	CASE_VALIDATION    ErrorCode = "CASE_VALIDATION"    // Missing or invalid fields
	CASE_SCHEMA_REJECT ErrorCode = "CASE_SCHEMA_REJECT" // Payload failed schema validation
	CASE_BAD_REQUEST   ErrorCode = "CASE_BAD_REQUEST"   // Malformed request
	CASE_MEDIA_SIZE    ErrorCode = "CASE_MEDIA_SIZE"    // Upload too large
	CASE_MEDIA_TYPE    ErrorCode = "CASE_MEDIA_TYPE"    // Upload type not allowed

	// Authentication/Authorization errors
	CASE_AUTHN ErrorCode = "CASE_AUTHN" // Authentication failed
	CASE_AUTHZ ErrorCode = "CASE_AUTHZ" // Authorization failed

	// Resource errors
	CASE_NOT_FOUND ErrorCode = "CASE_NOT_FOUND" // Case or comment not found
	CASE_CONFLICT  ErrorCode = "CASE_CONFLICT"  // Operation already in progress

	// Server errors
	CASE_CONCURRENT_UPDATE ErrorCode = "CASE_CONCURRENT_UPDATE" // Transaction retries exhausted
	CASE_UPSTREAM          ErrorCode = "CASE_UPSTREAM"          // Object storage or geocoder failed
	CASE_INTERNAL          ErrorCode = "CASE_INTERNAL"          // Internal server error
	CASE_UNAVAILABLE       ErrorCode = "CASE_UNAVAILABLE"       // Service unavailable
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
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusFor returns the HTTP status for code.
func StatusFor(code ErrorCode) int {
	return httpStatusCodeForCode(code)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case CASE_VALIDATION, CASE_SCHEMA_REJECT, CASE_BAD_REQUEST, CASE_MEDIA_TYPE:
		return http.StatusBadRequest
	case CASE_MEDIA_SIZE:
		return http.StatusRequestEntityTooLarge
	case CASE_AUTHN:
		return http.StatusUnauthorized
	case CASE_AUTHZ:
		return http.StatusForbidden
	case CASE_NOT_FOUND:
		return http.StatusNotFound
	case CASE_CONFLICT:
		return http.StatusConflict
	case CASE_UPSTREAM:
		return http.StatusBadGateway
	case CASE_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
