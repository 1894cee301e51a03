/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place. Domain packages wrap these with context.

TAXONOMY:
  Validation errors  - field-level, raised at ticket cleaning, never recovered
  Insufficiency      - lot tracker cannot satisfy a redemption, all-or-nothing
  Duplicate posting  - internal guard outcome; observable, treated as done

  A missing quote is NOT an error: closing degrades to its partial branch and
  reports a not-fully-closed result instead.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicatePosting is returned when a ticket already has an entry of
	// the requested kind. Callers treat it as already-done, not as a fault.
	ErrDuplicatePosting = errors.New("duplicate posting prevented")

	// ErrInvalidField is the base of all field-level validation failures.
	ErrInvalidField = errors.New("invalid field")

	// ErrInsufficientUnits is returned when a redemption exceeds the units
	// remaining across a holder's certificates.
	ErrInsufficientUnits = errors.New("insufficient units")

	// ErrAccrualClosed is returned when setting a payment date on an accrual
	// that already has one. The payment date is fill-once.
	ErrAccrualClosed = errors.New("accrual payment date already set")

	// ErrNoAccrual is returned when a payment-date update finds no accrual
	// entry for the ticket.
	ErrNoAccrual = errors.New("no accrual entry for ticket")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidFieldError reports a ticket field that failed cleaning.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidFieldError) Unwrap() error { return ErrInvalidField }

// InsufficientUnitsError reports a redemption that cannot be satisfied.
type InsufficientUnitsError struct {
	Fund      string
	Holder    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientUnitsError) Error() string {
	return fmt.Sprintf("insufficient units for %s/%s: requested %s, available %s",
		e.Fund, e.Holder, e.Requested, e.Available)
}

func (e *InsufficientUnitsError) Unwrap() error { return ErrInsufficientUnits }

// IsValidation reports whether err is a field-level validation failure that
// must surface to the caller before anything is persisted.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidField)
}
