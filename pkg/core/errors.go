package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: session_unavailable, service_timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// Copies made by WithCause/WithMessage/WithDetails still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Element lookups
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryNavigation,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrNavigationStepFailed = &ExecutionError{
		Category: ErrCategoryNavigation,
		Code:     "navigation_step_failed",
		Message:  "navigation step failed",
	}
	ErrCardFieldMissing = &ExecutionError{
		Category: ErrCategoryNavigation,
		Code:     "card_field_missing",
		Message:  "ride card is missing a field",
	}

	// Timeouts
	ErrServiceTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "service_timeout",
		Message:  "service extraction timed out",
	}

	// Sessions and backend
	ErrSessionUnavailable = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_unavailable",
		Message:  "automation session unavailable",
	}
	ErrSessionExpired = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_expired",
		Message:  "automation session expired",
	}
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "server_unreachable",
		Message:  "could not connect to automation server",
	}

	// Request errors
	ErrRequestMalformed = &ExecutionError{
		Category: ErrCategoryRequest,
		Code:     "request_malformed",
		Message:  "malformed request",
	}
	ErrUnknownService = &ExecutionError{
		Category: ErrCategoryRequest,
		Code:     "unknown_service",
		Message:  "unknown service",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}
