// Package errors provides the typed error family shared by the HTTP, MCP and chat surfaces
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the base interface for all lowcode errors
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// BaseError is the base implementation of AppError
type BaseError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"code"`
	Details    string `json:"details,omitempty"`
}

func (e *BaseError) Error() string {
	return e.Message
}

func (e *BaseError) HTTPStatus() int {
	return e.StatusCode
}

func (e *BaseError) Code() string {
	return e.ErrorCode
}

// NotFoundError represents a resource not found error.
// Alternatives lists valid identifiers so a caller can correct itself.
type NotFoundError struct {
	BaseError
	Resource     string
	Identifier   string
	Alternatives []string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("%s not found", resource),
			StatusCode: http.StatusNotFound,
			ErrorCode:  "NOT_FOUND",
		},
		Resource: resource,
	}
}

// NewNotFound builds a NotFoundError naming the attempted identifier and,
// when available, the identifiers that do exist.
func NewNotFound(resource, identifier string, alternatives []string) *NotFoundError {
	msg := fmt.Sprintf("%s '%s' not found", resource, identifier)
	if len(alternatives) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(alternatives, ", "))
	}
	return &NotFoundError{
		BaseError: BaseError{
			Message:    msg,
			StatusCode: http.StatusNotFound,
			ErrorCode:  "NOT_FOUND",
		},
		Resource:     resource,
		Identifier:   identifier,
		Alternatives: alternatives,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	BaseError
	Field string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusBadRequest,
			ErrorCode:  "VALIDATION_ERROR",
		},
		Field: field,
	}
}

// PermissionDeniedError represents a permission denied error
type PermissionDeniedError struct {
	BaseError
	Capability string
}

func NewPermissionDeniedError(capability string) *PermissionDeniedError {
	return &PermissionDeniedError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("permission denied: %s", capability),
			StatusCode: http.StatusForbidden,
			ErrorCode:  "PERMISSION_DENIED",
		},
		Capability: capability,
	}
}

// SystemProtectedError is returned when a mutation targets a system entity
type SystemProtectedError struct {
	BaseError
	Resource string
}

func NewSystemProtectedError(resource, name string) *SystemProtectedError {
	return &SystemProtectedError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("%s '%s' is a system %s and cannot be modified", resource, name, resource),
			StatusCode: http.StatusForbidden,
			ErrorCode:  "SYSTEM_PROTECTED",
		},
		Resource: resource,
	}
}

// UnauthorizedError represents an authentication error
type UnauthorizedError struct {
	BaseError
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	if message == "" {
		message = "authentication required"
	}
	return &UnauthorizedError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusUnauthorized,
			ErrorCode:  "UNAUTHORIZED",
		},
	}
}

// MethodNotAllowedError represents an unsupported HTTP verb on a dynamic resource
type MethodNotAllowedError struct {
	BaseError
	Method string
}

func NewMethodNotAllowedError(method string) *MethodNotAllowedError {
	return &MethodNotAllowedError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("method %s not allowed", method),
			StatusCode: http.StatusMethodNotAllowed,
			ErrorCode:  "METHOD_NOT_ALLOWED",
		},
		Method: method,
	}
}

// InternalError represents an internal server error
type InternalError struct {
	BaseError
	OriginalError error
}

func NewInternalError(original error) *InternalError {
	msg := "internal server error"
	if original != nil {
		msg = original.Error()
	}
	return &InternalError{
		BaseError: BaseError{
			Message:    msg,
			StatusCode: http.StatusInternalServerError,
			ErrorCode:  "INTERNAL_ERROR",
		},
		OriginalError: original,
	}
}

func (e *InternalError) Unwrap() error {
	return e.OriginalError
}

// ConflictError represents a conflict error (e.g., duplicate)
type ConflictError struct {
	BaseError
	Resource string
}

func NewConflictError(resource string) *ConflictError {
	return &ConflictError{
		BaseError: BaseError{
			Message:    fmt.Sprintf("%s already exists", resource),
			StatusCode: http.StatusConflict,
			ErrorCode:  "CONFLICT",
		},
		Resource: resource,
	}
}

// NewDependencyConflict reports a module dependency conflict
func NewDependencyConflict(message string) *ConflictError {
	return &ConflictError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusConflict,
			ErrorCode:  "DEPENDENCY_CONFLICT",
		},
		Resource: "module",
	}
}

// BadRequestError represents a generic bad request error
type BadRequestError struct {
	BaseError
}

func NewBadRequestError(message string) *BadRequestError {
	return &BadRequestError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusBadRequest,
			ErrorCode:  "BAD_REQUEST",
		},
	}
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

// ToHTTPError converts any error to an appropriate HTTP response.
// Unknown errors become 500 and keep their message.
func ToHTTPError(err error) (int, map[string]interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	var ae AppError
	if stderrors.As(err, &ae) {
		body := map[string]interface{}{
			"success": false,
			"error":   ae.Code(),
			"message": ae.Error(),
		}
		var nf *NotFoundError
		if stderrors.As(err, &nf) && len(nf.Alternatives) > 0 {
			body["available"] = nf.Alternatives
		}
		return ae.HTTPStatus(), body
	}

	return http.StatusInternalServerError, map[string]interface{}{
		"success": false,
		"error":   "INTERNAL_ERROR",
		"message": err.Error(),
	}
}
