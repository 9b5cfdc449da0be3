/*
errors.go - Centralized error types for the payroll ledger

ERROR CATEGORIES:
  1. Hard validation - negative hours, unknown entries (caller bugs/bad input)
  2. Correction conflicts - double-correction attempts
  3. Status transitions - approve/reject on a non-Pending entry

Everything human-resolvable (missing rate, implausible hours) is a review
flag on the entry, not an error: field data is recorded, never dropped.

SEE ALSO:
  - ledger.go: Produces these errors
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
	// ErrEntryNotFound is returned for unknown entry ids on correction
	// and status calls. Surfaced directly: a programmer error.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrAlreadySuperseded is returned when correcting an entry that was
	// already corrected. The correction chain moves forward only.
	ErrAlreadySuperseded = errors.New("ledger entry already superseded")

	// ErrEntryRejected is returned when correcting a rejected entry.
	// Rejected hours were judged not to have happened; re-enter instead.
	ErrEntryRejected = errors.New("ledger entry is rejected")

	// ErrNotPending is returned by Approve/Reject on entries that have
	// already left Pending.
	ErrNotPending = errors.New("ledger entry is not pending")

	// ErrInvalidHours is returned for negative hour values.
	ErrInvalidHours = errors.New("hours must be non-negative")

	// ErrDuplicateEntry is returned by the store when an idempotency key
	// already exists. CreateEntry absorbs it (idempotent no-op).
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidHoursError names the offending component and value.
type InvalidHoursError struct {
	Component string
	Value     decimal.Decimal
}

func (e *InvalidHoursError) Error() string {
	return fmt.Sprintf("invalid hours: %s is negative (%s)", e.Component, e.Value)
}

func (e *InvalidHoursError) Unwrap() error { return ErrInvalidHours }
