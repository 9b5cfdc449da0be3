/*
Package ledger provides the append-only payroll ledger.

PURPOSE:
  One LedgerEntry records one unit of worked time for one identity on one
  report. Entries carry a frozen rate snapshot so historical pay stays
  accurate across later rate changes, and they are never deleted or
  edited: corrections supersede, aggregation ignores superseded history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Hours: regular/overtime/doubletime quantities (decimal, never floats)
  - RateSnapshot: hourly + overtime rate frozen at entry creation
  - Entry: the immutable ledger record
  - Deterministic entry identity: (report, identity, sequence)

DESIGN PRINCIPLES:
  1. Immutability: Entries are superseded, never mutated (status aside)
  2. Precision: decimal.Decimal for hours, rates, and pay
  3. Idempotency: Reprocessing a report never duplicates an entry
  4. Auditability: Corrections chain via OriginalEntryID with a reason

SEE ALSO:
  - ledger.go: CreateEntry/CorrectEntry/Approve/Reject
  - aggregate.go: Read-side sums that exclude superseded history
  - store.go: Persistence interface
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOURS - Worked time quantities
// =============================================================================

type Hours struct {
	Regular    decimal.Decimal
	Overtime   decimal.Decimal
	Doubletime decimal.Decimal
}

func NewHours(regular, overtime, doubletime float64) Hours {
	return Hours{
		Regular:    decimal.NewFromFloat(regular),
		Overtime:   decimal.NewFromFloat(overtime),
		Doubletime: decimal.NewFromFloat(doubletime),
	}
}

func (h Hours) Total() decimal.Decimal {
	return h.Regular.Add(h.Overtime).Add(h.Doubletime)
}

// AnyNegative reports whether any component is below zero. Negative
// hours are never legitimate and fail hard at entry creation.
func (h Hours) AnyNegative() bool {
	return h.Regular.IsNegative() || h.Overtime.IsNegative() || h.Doubletime.IsNegative()
}

// =============================================================================
// RATE SNAPSHOT - Frozen at entry creation, never recomputed
// =============================================================================

type RateSnapshot struct {
	Hourly   decimal.Decimal
	Overtime decimal.Decimal
}

// Pay computes total pay for the given hours at this snapshot.
// Doubletime pays twice the hourly rate; the snapshot carries no
// separate doubletime rate.
func (r RateSnapshot) Pay(h Hours) decimal.Decimal {
	two := decimal.NewFromInt(2)
	return h.Regular.Mul(r.Hourly).
		Add(h.Overtime.Mul(r.Overtime)).
		Add(h.Doubletime.Mul(r.Hourly.Mul(two)))
}

// =============================================================================
// ENTRY STATUS
// =============================================================================

type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusApproved   EntryStatus = "approved"
	StatusSuperseded EntryStatus = "superseded"
	StatusRejected   EntryStatus = "rejected"
)

// =============================================================================
// ENTRY - One immutable record of hours/pay
// =============================================================================

// Review flag reasons recorded on flagged entries.
const (
	ReasonMissingRate    = "missing_rate"
	ReasonHoursExceedDay = "hours_exceed_day"
)

type Entry struct {
	ID         string
	ReportID   string
	IdentityID string
	ProjectID  string
	Date       time.Time // day granularity, UTC midnight

	// Seq disambiguates multiple genuine tuples for the same identity
	// within one report (e.g. a split shift). (ReportID, IdentityID,
	// Seq) is the deterministic entry identity for idempotency.
	Seq int

	Hours      Hours
	Activities []string

	// Rate is the frozen snapshot read from the identity at creation.
	// TotalPay is always derivable as Rate.Pay(Hours).
	Rate     RateSnapshot
	TotalPay decimal.Decimal

	Status       EntryStatus
	StatusReason string // set on reject
	NeedsReview  bool
	ReviewReason string

	// OriginalEntryID is set only on corrections: it points at the
	// entry this one superseded.
	OriginalEntryID  string
	CorrectionReason string

	CreatedAt       time.Time
	StatusChangedBy string
	StatusChangedAt time.Time
}

// Counted reports whether the entry participates in aggregation and
// export: Pending and Approved count, Superseded and Rejected never do.
func (e *Entry) Counted() bool {
	return e.Status == StatusPending || e.Status == StatusApproved
}

// IdemKey is the deterministic identity of a first-pass entry. A
// reprocessed report computes the same keys and lands on the existing
// entries instead of duplicating them.
func IdemKey(reportID, identityID string, seq int) string {
	return fmt.Sprintf("%s:%s:%d", reportID, identityID, seq)
}

// Day truncates a timestamp to the ledger's day granularity (UTC).
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
