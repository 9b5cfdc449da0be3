/*
Package review holds pending human decisions raised by resolution
ambiguity or incomplete ledger data.

PURPOSE:
  Anything a human can resolve becomes a ReviewItem instead of an error:
  ambiguous fuzzy matches, repeated alias-collision races, entries
  flagged at creation. Processing never blocks on these - the item waits
  in the queue while the rest of the report goes through.

LIFECYCLE:
  Open --(explicit human resolution, actor + timestamp recorded)--> Resolved
  Items are never deleted. Every resolution is final and auditable.

SEE ALSO:
  - queue.go: Resolution actions
*/
package review

import (
	"time"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
)

// =============================================================================
// SUBJECT - What kind of decision is pending
// =============================================================================

type Subject string

const (
	// SubjectAliasCollision: identity creation lost its race twice;
	// a human decides which identity owns the spoken name.
	SubjectAliasCollision Subject = "new-alias-collision"
	// SubjectAmbiguousIdentity: two or more fuzzy candidates cleared
	// the threshold; the resolver never guesses.
	SubjectAmbiguousIdentity Subject = "ambiguous-identity"
	// SubjectEntryIncomplete: an entry was recorded flagged
	// (missing rate, implausible hours) and needs correction.
	SubjectEntryIncomplete Subject = "ledger-entry-incomplete"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// =============================================================================
// ITEM
// =============================================================================

// CandidateRef is one ranked fuzzy candidate attached to an ambiguous item.
type CandidateRef struct {
	IdentityID string
	Score      float64
}

// PendingTuple snapshots the report tuple that could not be ledgered
// because its identity is unresolved. Resolution uses it to create the
// entry that was held back.
type PendingTuple struct {
	ProjectID  string
	Date       time.Time
	Seq        int
	Hours      ledger.Hours
	Activities []string
}

// Item is one pending human decision.
type Item struct {
	ID         string
	Subject    Subject
	SpokenName string

	// Candidates are ranked best-first for ambiguous subjects.
	Candidates []CandidateRef

	ReportID string
	EntryID  string        // set for entry-incomplete items
	Tuple    *PendingTuple // set when an entry is held back pending resolution

	Status     Status
	Resolution string // action taken, e.g. "chose <id>", "created <id>"
	ResolvedBy string
	ResolvedAt *time.Time

	CreatedAt time.Time
}

// NewCandidateRefs converts ranked identity candidates into refs.
func NewCandidateRefs(cands []identity.Candidate) []CandidateRef {
	refs := make([]CandidateRef, 0, len(cands))
	for _, c := range cands {
		refs = append(refs, CandidateRef{IdentityID: c.Identity.ID, Score: c.Score})
	}
	return refs
}
