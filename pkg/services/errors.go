// Package services holds the workflow management and run administration
// operations behind the HTTP API.
package services

import (
	"errors"
	"fmt"

	"github.com/pipeflow/automation/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTrigger    = errors.New("invalid trigger")
	ErrInvalidFilter     = errors.New("invalid trigger filter")
	ErrInvalidStepConfig = errors.New("invalid step config")
	ErrInvalidStepGraph  = errors.New("invalid step graph")
	ErrOrganizationID    = errors.New("organization ID cannot be empty")

	// Not Found (404).
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrRunNotFound      = persistence.ErrRunNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowHasActiveRuns = errors.New("workflow has runs in progress")
	ErrRunNotCancellable     = errors.New("run already finished")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidStepConfig) ||
		errors.Is(err, ErrInvalidStepGraph) ||
		errors.Is(err, ErrOrganizationID)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrRunNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowHasActiveRuns) ||
		errors.Is(err, ErrRunNotCancellable)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
