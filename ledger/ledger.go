/*
ledger.go - Payroll ledger operations

PURPOSE:
  CreateEntry turns a resolved report tuple into an immutable ledger
  entry with a frozen rate snapshot. CorrectEntry supersedes an entry
  with a fixed replacement without touching history. Approve/Reject move
  entries through the human sign-off states.

RATE SNAPSHOT:
  CreateEntry reads the identity's current rate exactly once and copies
  it into the entry. The snapshot is never re-read: an entry created
  yesterday at $30/h stays at $30/h after today's raise to $35/h.
  Corrections recompute pay from the ORIGINAL's snapshot, so rate
  history stays consistent within one correction chain.

FLAG, DON'T DROP:
  Field data is approximate. Hours summing over 24 are recorded and
  flagged (hours_exceed_day), never rejected. A missing rate records a
  zero-pay entry flagged missing_rate. Only negative hours fail hard -
  they can never be legitimate.

IDEMPOTENCY:
  Entry identity is (reportID, identityID, seq). Re-running the same
  extraction pass finds the existing entry and returns it unchanged; a
  genuinely new tuple (split shift) arrives with a new seq.

SEE ALSO:
  - aggregate.go: Read-side sums
  - types.go: Entry, Hours, RateSnapshot
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/identity"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger provides payroll entry operations over a Store. It reads
// identities only to snapshot rates at creation time.
type Ledger struct {
	store      Store
	identities identity.Store
}

func New(store Store, identities identity.Store) *Ledger {
	return &Ledger{store: store, identities: identities}
}

// Store exposes the underlying entry store for read-side collaborators
// (aggregator, exporter, resolver context pool).
func (l *Ledger) Store() Store { return l.store }

// =============================================================================
// CREATE
// =============================================================================

// CreateInput describes one resolved tuple to ledger.
type CreateInput struct {
	ReportID   string
	IdentityID string
	ProjectID  string
	Date       time.Time
	Seq        int
	Hours      Hours
	Activities []string
}

// CreateEntry records one unit of worked time. Idempotent on
// (ReportID, IdentityID, Seq): if the entry already exists it is
// returned as-is with created=false.
func (l *Ledger) CreateEntry(ctx context.Context, in CreateInput) (entry *Entry, created bool, err error) {
	if err := validateHours(in.Hours); err != nil {
		return nil, false, err
	}

	key := IdemKey(in.ReportID, in.IdentityID, in.Seq)
	if existing, err := l.store.FindByIdemKey(ctx, key); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	ident, err := l.identities.GetIdentity(ctx, in.IdentityID)
	if err != nil {
		return nil, false, err
	}

	e := &Entry{
		ID:         uuid.NewString(),
		ReportID:   in.ReportID,
		IdentityID: in.IdentityID,
		ProjectID:  in.ProjectID,
		Date:       Day(in.Date),
		Seq:        in.Seq,
		Hours:      in.Hours,
		Activities: append([]string(nil), in.Activities...),
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	var reasons []string
	if ident.HasRate() {
		e.Rate = RateSnapshot{Hourly: *ident.HourlyRate, Overtime: *ident.OvertimeRate}
	} else {
		// Incomplete identity: record at zero pay, flag for review.
		e.Rate = RateSnapshot{Hourly: decimal.Zero, Overtime: decimal.Zero}
		reasons = append(reasons, ReasonMissingRate)
	}
	if in.Hours.Total().GreaterThan(decimal.NewFromInt(24)) {
		reasons = append(reasons, ReasonHoursExceedDay)
	}
	if len(reasons) > 0 {
		e.NeedsReview = true
		e.ReviewReason = strings.Join(reasons, ",")
	}
	e.TotalPay = e.Rate.Pay(e.Hours)

	if err := l.store.AppendEntry(ctx, e, key); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			// Lost an append race for the same key; the winner's entry
			// is the entry.
			existing, ferr := l.store.FindByIdemKey(ctx, key)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	zap.L().Debug("ledger entry created",
		zap.String("entry_id", e.ID),
		zap.String("report_id", e.ReportID),
		zap.String("identity_id", e.IdentityID),
		zap.Bool("needs_review", e.NeedsReview),
	)
	return e, true, nil
}

func validateHours(h Hours) error {
	switch {
	case h.Regular.IsNegative():
		return &InvalidHoursError{Component: "regular", Value: h.Regular}
	case h.Overtime.IsNegative():
		return &InvalidHoursError{Component: "overtime", Value: h.Overtime}
	case h.Doubletime.IsNegative():
		return &InvalidHoursError{Component: "doubletime", Value: h.Doubletime}
	}
	return nil
}

// =============================================================================
// CORRECT
// =============================================================================

// CorrectEntry supersedes an entry with a corrected replacement. The
// original keeps every field and gains only the Superseded status; the
// replacement inherits all fields except overridden hours, with pay
// recomputed from the ORIGINAL's frozen rate - never a fresh identity
// read.
func (l *Ledger) CorrectEntry(ctx context.Context, entryID string, hoursOverride *Hours, reason, actor string) (*Entry, error) {
	original, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	switch original.Status {
	case StatusSuperseded:
		return nil, ErrAlreadySuperseded
	case StatusRejected:
		return nil, ErrEntryRejected
	}

	hours := original.Hours
	if hoursOverride != nil {
		if err := validateHours(*hoursOverride); err != nil {
			return nil, err
		}
		hours = *hoursOverride
	}

	rate := original.Rate
	var reasons []string
	if strings.Contains(original.ReviewReason, ReasonMissingRate) {
		// The original never had a real rate (identity was Incomplete
		// at creation). This is the one case where a correction may
		// read the identity again: there is no rate history to stay
		// consistent with.
		ident, err := l.identities.GetIdentity(ctx, original.IdentityID)
		if err != nil {
			return nil, err
		}
		if ident.HasRate() {
			rate = RateSnapshot{Hourly: *ident.HourlyRate, Overtime: *ident.OvertimeRate}
		} else {
			reasons = append(reasons, ReasonMissingRate)
		}
	}

	replacement := &Entry{
		ID:               uuid.NewString(),
		ReportID:         original.ReportID,
		IdentityID:       original.IdentityID,
		ProjectID:        original.ProjectID,
		Date:             original.Date,
		Seq:              original.Seq,
		Hours:            hours,
		Activities:       append([]string(nil), original.Activities...),
		Rate:             rate,
		TotalPay:         rate.Pay(hours),
		Status:           StatusPending,
		OriginalEntryID:  original.ID,
		CorrectionReason: reason,
		CreatedAt:        time.Now().UTC(),
	}
	if hours.Total().GreaterThan(decimal.NewFromInt(24)) {
		reasons = append(reasons, ReasonHoursExceedDay)
	}
	if len(reasons) > 0 {
		replacement.NeedsReview = true
		replacement.ReviewReason = strings.Join(reasons, ",")
	}

	key := "correct:" + original.ID
	if err := l.store.Supersede(ctx, original.ID, replacement, key, actor); err != nil {
		return nil, err
	}

	zap.L().Info("ledger entry corrected",
		zap.String("original_id", original.ID),
		zap.String("replacement_id", replacement.ID),
		zap.String("reason", reason),
		zap.String("actor", actor),
	)
	return replacement, nil
}

// Reattribute supersedes an entry booked against the wrong identity and
// re-issues it under the right one. Unlike CorrectEntry, the snapshot is
// taken fresh from the new identity: the original's rate belonged to the
// wrong person.
func (l *Ledger) Reattribute(ctx context.Context, entryID, newIdentityID, actor string) (*Entry, error) {
	original, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	switch original.Status {
	case StatusSuperseded:
		return nil, ErrAlreadySuperseded
	case StatusRejected:
		return nil, ErrEntryRejected
	}

	ident, err := l.identities.GetIdentity(ctx, newIdentityID)
	if err != nil {
		return nil, err
	}

	replacement := &Entry{
		ID:               uuid.NewString(),
		ReportID:         original.ReportID,
		IdentityID:       newIdentityID,
		ProjectID:        original.ProjectID,
		Date:             original.Date,
		Seq:              original.Seq,
		Hours:            original.Hours,
		Activities:       append([]string(nil), original.Activities...),
		Status:           StatusPending,
		OriginalEntryID:  original.ID,
		CorrectionReason: "reattributed",
		CreatedAt:        time.Now().UTC(),
	}
	if ident.HasRate() {
		replacement.Rate = RateSnapshot{Hourly: *ident.HourlyRate, Overtime: *ident.OvertimeRate}
	} else {
		replacement.Rate = RateSnapshot{Hourly: decimal.Zero, Overtime: decimal.Zero}
		replacement.NeedsReview = true
		replacement.ReviewReason = ReasonMissingRate
	}
	replacement.TotalPay = replacement.Rate.Pay(replacement.Hours)

	key := fmt.Sprintf("reattr:%s:%s", original.ID, newIdentityID)
	if err := l.store.Supersede(ctx, original.ID, replacement, key, actor); err != nil {
		return nil, err
	}

	zap.L().Info("ledger entry reattributed",
		zap.String("original_id", original.ID),
		zap.String("from_identity", original.IdentityID),
		zap.String("to_identity", newIdentityID),
		zap.String("actor", actor),
	)
	return replacement, nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Approve transitions a Pending entry to Approved.
func (l *Ledger) Approve(ctx context.Context, entryID, actor string) error {
	return l.store.UpdateStatus(ctx, entryID, StatusPending, StatusApproved, actor, "")
}

// Reject transitions a Pending entry to Rejected with a reason.
func (l *Ledger) Reject(ctx context.Context, entryID, actor, reason string) error {
	return l.store.UpdateStatus(ctx, entryID, StatusPending, StatusRejected, actor, reason)
}

// =============================================================================
// QUERIES
// =============================================================================

func (l *Ledger) EntriesByReport(ctx context.Context, reportID string) ([]*Entry, error) {
	return l.store.EntriesByReport(ctx, reportID)
}

func (l *Ledger) EntriesByIdentity(ctx context.Context, identityID string, from, to time.Time) ([]*Entry, error) {
	return l.store.EntriesByIdentity(ctx, identityID, Day(from), Day(to))
}

func (l *Ledger) EntriesByProject(ctx context.Context, projectID string, from, to time.Time) ([]*Entry, error) {
	return l.store.EntriesByProject(ctx, projectID, Day(from), Day(to))
}
