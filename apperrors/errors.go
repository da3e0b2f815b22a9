// Package apperrors defines the domain error taxonomy shared by services,
// middleware and handlers. Every failure that reaches the HTTP layer is
// either a *DomainError or gets reported as an internal server error.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeMissingField       Code = "MISSING_REQUIRED_FIELD"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeBusinessRule       Code = "BUSINESS_RULE_VIOLATION"
	CodeRateLimited        Code = "RATE_LIMIT_EXCEEDED"
	CodeExternalService    Code = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           Code = "INTERNAL_SERVER_ERROR"
	CodeTimeout            Code = "REQUEST_TIMEOUT"
)

// DomainError carries a machine-readable code, a human message, the HTTP
// status it maps to, and optional structured details for the response
// envelope.
type DomainError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	cause      error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// WithCause attaches an underlying error for wrapping chains.
func (e *DomainError) WithCause(err error) *DomainError {
	e.cause = err
	return e
}

// WithDetail adds a single key to the error details.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// As extracts a *DomainError from an error chain.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func NewValidation(message string) *DomainError {
	return &DomainError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

func NewNotFound(resourceType, resourceID string) *DomainError {
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resourceType),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"resource_type": resourceType, "resource_id": resourceID},
	}
}

func NewConflict(message string) *DomainError {
	return &DomainError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

func NewUnauthorized(message string) *DomainError {
	return &DomainError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

func NewTokenExpired() *DomainError {
	return &DomainError{Code: CodeTokenExpired, Message: "Token has expired", HTTPStatus: http.StatusUnauthorized}
}

func NewTokenInvalid() *DomainError {
	return &DomainError{Code: CodeTokenInvalid, Message: "Token is invalid", HTTPStatus: http.StatusUnauthorized}
}

func NewInvalidCredentials() *DomainError {
	return &DomainError{Code: CodeInvalidCredentials, Message: "Invalid email or password", HTTPStatus: http.StatusUnauthorized}
}

func NewForbidden(message string) *DomainError {
	return &DomainError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

func NewBusinessRule(message string) *DomainError {
	return &DomainError{Code: CodeBusinessRule, Message: message, HTTPStatus: http.StatusBadRequest}
}

func NewRateLimited(retryAfterSeconds int) *DomainError {
	return &DomainError{
		Code:       CodeRateLimited,
		Message:    "Too many requests. Please try again later.",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]any{"retry_after": retryAfterSeconds},
	}
}

func NewExternalService(serviceName, message string) *DomainError {
	return &DomainError{
		Code:       CodeExternalService,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"service_name": serviceName},
	}
}

func NewInternal(message string) *DomainError {
	return &DomainError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError}
}

func NewTimeout(seconds int) *DomainError {
	return &DomainError{
		Code:       CodeTimeout,
		Message:    fmt.Sprintf("Request processing timed out after %d seconds.", seconds),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}
