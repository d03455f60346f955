package model

import "fmt"

// ValidationError indicates a malformed or unreachable workflow definition.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("definition validation failed: %s", e.Reason)
}

// NewValidationError creates a validation error with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a missing instance, definition, or tenant, including
// lookups that fail tenant scoping.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NewNotFoundError creates a not-found error for the given resource.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// TenantMismatchError indicates an actor acting across tenant boundaries.
type TenantMismatchError struct {
	ActorTenantID    string
	ResourceTenantID string
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("tenant mismatch: actor tenant %q, resource tenant %q",
		e.ActorTenantID, e.ResourceTenantID)
}

// UnauthorizedError indicates an authorization gate failure. Reason names the
// specific check that failed.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

// NewUnauthorizedError creates an unauthorized error with a formatted reason.
func NewUnauthorizedError(format string, args ...any) *UnauthorizedError {
	return &UnauthorizedError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError indicates a transition that does not apply: no edge
// from the current state, or the instance is not running.
type InvalidTransitionError struct {
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s", e.Reason)
}

// NewInvalidTransitionError creates an invalid-transition error with a
// formatted reason.
func NewInvalidTransitionError(format string, args ...any) *InvalidTransitionError {
	return &InvalidTransitionError{Reason: fmt.Sprintf(format, args...)}
}

// ConditionNotMetError indicates a transition guard condition evaluated false.
type ConditionNotMetError struct {
	TransitionID string
}

func (e *ConditionNotMetError) Error() string {
	return fmt.Sprintf("condition not met for transition %q", e.TransitionID)
}

// ConcurrencyConflictError indicates the bounded compare-and-swap retries
// were exhausted by concurrent writers. Callers may retry.
type ConcurrencyConflictError struct {
	InstanceID string
	Attempts   int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on instance %q after %d attempts",
		e.InstanceID, e.Attempts)
}
