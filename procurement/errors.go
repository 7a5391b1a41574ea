/*
errors.go - Error taxonomy for the procurement engine

PURPOSE:
  Every rejected operation says which precondition failed. Each structured
  error unwraps to a sentinel so callers can branch with errors.Is, and the
  HTTP layer maps kinds to status codes without parsing messages.

ERROR CATEGORIES:
  NotFoundError       entity missing
  UnauthorizedError   actor lacks role or ownership
  InvalidStateError   operation illegal in the current lifecycle state
  ValidationError     malformed input
  ConfigurationError  approval matrix misconfigured or ambiguous
  AlreadyClosedError  race guard on terminal requisitions
  ConflictError       duplicate submission

SEE ALSO:
  - api/handlers.go: statusFor maps these to HTTP codes
*/
package procurement

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidState  = errors.New("invalid state")
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("configuration error")
	ErrAlreadyClosed = errors.New("requisition already closed")
	ErrConflict      = errors.New("conflict")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Entity, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type UnauthorizedError struct {
	ActorID UserID
	Reason  string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("actor %q is not allowed: %s", e.ActorID, e.Reason)
}
func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// InvalidStateError names the entity, its current status and the reason.
type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (%s %s is %s)", e.Reason, e.Entity, e.ID, e.Status)
}
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
func (e *ValidationError) Unwrap() error { return ErrValidation }

type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "approval configuration: " + e.Reason }
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

type AlreadyClosedError struct {
	RequisitionID RequisitionID
	Status        RequisitionStatus
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("requisition %s is already %s", e.RequisitionID, e.Status)
}
func (e *AlreadyClosedError) Unwrap() error { return ErrAlreadyClosed }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func notFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func invalidRequisitionState(r *Requisition, reason string) error {
	return &InvalidStateError{Entity: "requisition", ID: string(r.ID), Status: string(r.Status), Reason: reason}
}

func unauthorized(a Actor, reason string) error {
	return &UnauthorizedError{ActorID: a.ID, Reason: reason}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or timing.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAlreadyClosed) ||
		errors.Is(err, ErrUnauthorized)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
