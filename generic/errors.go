/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The domain layer returns these (or wraps them with %w) and the HTTP layer
  maps them to status codes with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Client errors - validation, balance denials, authorization, state
  2. Lookup errors - unknown request / user / leave type
  3. Store errors  - write conflicts under concurrent mutation

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var ib *generic.InsufficientBalanceError
      errors.As(err, &ib)
      ...
  }

SEE ALSO:
  - ledger.go: Returns balance errors
  - leave/service.go: Returns authorization and state errors
  - api/handlers.go: HTTP status mapping (writeDomainError)
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. No state is changed.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a charge exceeds the remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoAllocation is returned when no positive allocation exists for the key.
	ErrNoAllocation = errors.New("no allocation")

	// ErrUnauthorized is returned when the actor lacks the capability for an action.
	ErrUnauthorized = errors.New("not authorized")

	// ErrIllegalState is returned for a transition from an incompatible state.
	ErrIllegalState = errors.New("illegal state transition")

	// ErrAlreadyProcessed signals an idempotent retry on a terminal request.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrNotFound is returned when a referenced request, user or leave type doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger transaction with the
	// same idempotency key already exists. Expected for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a field-level ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.Key.PolicyID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

type NoAllocationError struct {
	Key BalanceKey
}

func (e *NoAllocationError) Error() string {
	return fmt.Sprintf("no allocation for leave type %s in %d", e.Key.PolicyID, e.Key.Year)
}

func (e *NoAllocationError) Unwrap() error { return ErrNoAllocation }

// AuthorizationError never names who would have been allowed.
type AuthorizationError struct {
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to %s this request", e.Action)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

type IllegalStateError struct {
	Action string
	Status string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("cannot %s a request in status %s", e.Action, e.Status)
}

func (e *IllegalStateError) Unwrap() error { return ErrIllegalState }

type AlreadyProcessedError struct {
	RequestID string
	Status    string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("request %s already processed (%s)", e.RequestID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule denial.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNoAllocation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrIllegalState) ||
		errors.Is(err, ErrAlreadyProcessed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
