/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the HTTP layer maps the machine
  codes to statuses.

ERROR CATEGORIES:
  1. Validation errors - Malformed configuration, rejected before any write
  2. Not-found errors - Unknown program/tier/client
  3. Conflict errors - Referential constraints and optimistic-lock losses
  4. Balance errors - Redemptions exceeding the available balance

PROPAGATION POLICY:
  Concurrency conflicts are retried inside the Ledger (bounded) and only
  surface as ErrConcurrentModification when retries are exhausted.
  Insufficient-balance and not-found conditions are business outcomes and
  always surface verbatim.
*/
package loyalty

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned by stores when a transaction
	// with the same idempotency key already exists. The Ledger converts
	// this into a no-op replay, so callers rarely see it.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientBalance is returned when a debit exceeds the available
	// balance. Never retried automatically.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned when the optimistic version
	// check on a materialized balance fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrValidation is the root of all configuration validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is the root of referential-constraint failures.
	ErrConflict = errors.New("conflict")

	ErrProgramNotFound = errors.New("loyalty program not found")
	ErrTierNotFound    = errors.New("loyalty tier not found")
	ErrProgramInactive = errors.New("loyalty program is not active")
)

// =============================================================================
// MACHINE CODES - Stable identifiers for the API layer
// =============================================================================

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeIdempotency         Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// CodeOf classifies an error into its machine code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return CodeIdempotency
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrProgramInactive):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field. No partial write occurs when
// one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a referential constraint, e.g. deleting a tier that
// clients currently hold.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientBalanceError reports the shortfall of a rejected debit.
type InsufficientBalanceError struct {
	ClientID  ClientID
	ProgramID ProgramID
	Unit      Unit
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s, shortfall %s",
		e.Unit, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrTierNotFound)
}
