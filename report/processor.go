/*
Package report turns one submitted field report into ledger entries.

PURPOSE:
  The processor is the single synchronous entry point per report: the
  external NLU step hands it a list of extracted per-employee tuples,
  and it resolves each name, ledgers each tuple, and routes anything
  uncertain to the review queue. A submitted report is always fully
  processed - one employee's ambiguity never blocks another's entry,
  and nothing is ever silently dropped.

CONCURRENCY:
  Batches for different reports may run fully in parallel; the stores
  carry the uniqueness guards. Within one batch, tuples are processed
  in input order so sequence numbers are deterministic.

IDEMPOTENCY:
  Sequence numbers are assigned per (report, identity) in input order.
  Reprocessing the same tuple list computes the same sequences, so the
  ledger's idempotency keys land on the existing entries.

SEE ALSO:
  - resolve/resolver.go: Name resolution cascade
  - ledger/ledger.go: Entry creation
  - export.go: CSV payroll export
*/
package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/resolve"
	"github.com/warp/payroll-engine/review"
)

// =============================================================================
// INPUT CONTRACT - One extracted tuple per employee reference
// =============================================================================

// Tuple is one per-employee extraction from the external NLU step.
type Tuple struct {
	Name            string   `json:"name"`
	Arrival         string   `json:"arrival,omitempty"`   // "HH:MM", informational
	Departure       string   `json:"departure,omitempty"` // "HH:MM", informational
	RegularHours    float64  `json:"regularHours"`
	OvertimeHours   float64  `json:"overtimeHours"`
	DoubletimeHours float64  `json:"doubletimeHours"`
	Activities      []string `json:"activities"`
	Confidence      float64  `json:"confidence"`
}

// =============================================================================
// PER-TUPLE OUTCOME
// =============================================================================

// TupleOutcome reports what happened to one tuple.
type TupleOutcome struct {
	Name         string  `json:"name"`
	Resolution   string  `json:"resolution"` // resolve.Kind
	Confidence   float64 `json:"confidence,omitempty"`
	IdentityID   string  `json:"identity_id,omitempty"`
	EntryID      string  `json:"entry_id,omitempty"`
	ReviewItemID string  `json:"review_item_id,omitempty"`
	NeedsReview  bool    `json:"needs_review,omitempty"`
	Error        string  `json:"error,omitempty"` // hard validation failure for this tuple
}

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	resolver *resolve.Resolver
	ledger   *ledger.Ledger
	reviews  review.Store

	// recentWindowDays bounds the resolver's project-context look-back.
	recentWindowDays int
}

func NewProcessor(resolver *resolve.Resolver, led *ledger.Ledger, reviews review.Store, recentWindowDays int) *Processor {
	if recentWindowDays <= 0 {
		recentWindowDays = 30
	}
	return &Processor{resolver: resolver, ledger: led, reviews: reviews, recentWindowDays: recentWindowDays}
}

// ProcessReport resolves and ledgers every tuple of one report.
//
// Per-tuple outcomes never abort the batch: human-resolvable issues
// become review items, hard validation failures are reported on the
// tuple's outcome. Only store failures abort - those mean nothing can
// be recorded at all.
func (p *Processor) ProcessReport(ctx context.Context, reportID, projectID string, date time.Time, tuples []Tuple) ([]TupleOutcome, error) {
	outcomes := make([]TupleOutcome, 0, len(tuples))

	// Sequence per identity within the report, in input order. Two
	// tuples for the same person (split shift) get seq 0 and 1.
	seqByIdentity := make(map[string]int)
	// Unresolved names get stable sequences for held-back tuples too.
	seqBySpoken := make(map[string]int)

	for _, tu := range tuples {
		out, err := p.processTuple(ctx, reportID, projectID, date, tu, seqByIdentity, seqBySpoken)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}

	zap.L().Info("report processed",
		zap.String("report_id", reportID),
		zap.String("project_id", projectID),
		zap.Int("tuples", len(tuples)),
	)
	return outcomes, nil
}

func (p *Processor) processTuple(ctx context.Context, reportID, projectID string, date time.Time, tu Tuple, seqByIdentity, seqBySpoken map[string]int) (TupleOutcome, error) {
	out := TupleOutcome{Name: tu.Name}

	hours := ledger.NewHours(tu.RegularHours, tu.OvertimeHours, tu.DoubletimeHours)
	if hours.AnyNegative() {
		// Structurally invalid: negative hours can never be legitimate.
		out.Error = "invalid hours: negative value"
		return out, nil
	}

	// Held-back payload in case resolution lands in review.
	spokenSeq := seqBySpoken[tu.Name]
	pending := &review.PendingTuple{
		ProjectID:  projectID,
		Date:       date,
		Seq:        spokenSeq,
		Hours:      hours,
		Activities: tu.Activities,
	}

	outcome, err := p.resolver.Resolve(ctx, resolve.Request{
		SpokenName:       tu.Name,
		ProjectID:        projectID,
		ReportID:         reportID,
		RecentWindowDays: p.recentWindowDays,
		Tuple:            pending,
	})
	if err != nil {
		return out, err
	}

	out.Resolution = string(outcome.Kind)
	out.Confidence = outcome.Confidence

	if outcome.Kind == resolve.KindNeedsReview {
		// No entry is finalized until a human decides.
		seqBySpoken[tu.Name] = spokenSeq + 1
		out.ReviewItemID = outcome.Review.ID
		out.NeedsReview = true
		return out, nil
	}

	out.IdentityID = outcome.Identity.ID

	seq := seqByIdentity[out.IdentityID]
	seqByIdentity[out.IdentityID] = seq + 1

	entry, _, err := p.ledger.CreateEntry(ctx, ledger.CreateInput{
		ReportID:   reportID,
		IdentityID: out.IdentityID,
		ProjectID:  projectID,
		Date:       date,
		Seq:        seq,
		Hours:      hours,
		Activities: tu.Activities,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidHours) {
			out.Error = err.Error()
			return out, nil
		}
		return out, err
	}
	out.EntryID = entry.ID
	out.NeedsReview = entry.NeedsReview

	// Flagged entries wait for a human correction. Reprocessing a
	// report only queues items for entries created on this pass.
	if entry.NeedsReview && !p.hasOpenItemFor(ctx, entry.ID) {
		item := &review.Item{
			ID:         uuid.NewString(),
			Subject:    review.SubjectEntryIncomplete,
			SpokenName: tu.Name,
			ReportID:   reportID,
			EntryID:    entry.ID,
			Status:     review.StatusOpen,
			CreatedAt:  time.Now().UTC(),
		}
		if err := p.reviews.AddItem(ctx, item); err != nil {
			return out, err
		}
		out.ReviewItemID = item.ID
	}
	return out, nil
}

// hasOpenItemFor reports whether an open entry-incomplete item already
// references the entry, so idempotent reprocessing doesn't double-queue.
func (p *Processor) hasOpenItemFor(ctx context.Context, entryID string) bool {
	items, err := p.reviews.ListItems(ctx, true)
	if err != nil {
		return false
	}
	for _, it := range items {
		if it.Subject == review.SubjectEntryIncomplete && it.EntryID == entryID {
			return true
		}
	}
	return false
}
