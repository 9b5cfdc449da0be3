/*
Package identity manages canonical employee identities and their aliases.

PURPOSE:
  Field reports name employees informally ("Bob", "Mike S"). This package
  owns the canonical record for each real employee, the alias mappings
  that connect spoken names to those records, and the uniqueness
  invariants that keep one real person from becoming two records.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identity: The canonical record for one real employee
  - Alias: A normalized spoken-name key bound to exactly one live identity
  - Candidate: A fuzzy-match result (identity + similarity score)

INVARIANTS:
  1. Exactly one canonical name per identity
  2. An alias key maps to at most one live (non-Merged) identity
  3. Rate fields may be nil only while status is Incomplete
  4. Identities are never hard-deleted; merge leaves a tombstone

LIFECYCLE:
  Incomplete --(employee number + rates supplied)--> Active
  Active <-> Inactive (admin)
  any --(explicit admin merge)--> Merged (tombstone, aliases re-pointed)

SEE ALSO:
  - index.go: Lookup/create/bind/merge operations over a Store
  - store.go: Persistence interface
  - errors.go: Sentinel and structured errors
*/
package identity

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	// StatusIncomplete marks an identity auto-created by the resolver.
	// Employee number and rates are not yet supplied.
	StatusIncomplete Status = "incomplete"
	// StatusActive marks a completed, payable identity.
	StatusActive Status = "active"
	// StatusInactive marks a former employee. Still matchable for
	// historical corrections, excluded from active listings.
	StatusInactive Status = "inactive"
	// StatusMerged marks a tombstone: the identity was merged into
	// another. Kept resolvable so historical ledger entries stay intact.
	StatusMerged Status = "merged"
)

// =============================================================================
// IDENTITY - Canonical employee record
// =============================================================================

type Identity struct {
	ID             string
	CanonicalName  string
	EmployeeNumber string // empty until completed by a human

	// Default rates. Nil only while Incomplete.
	HourlyRate   *decimal.Decimal
	OvertimeRate *decimal.Decimal

	Status     Status
	MergedInto string // target identity id, set only when Status == Merged

	// Version is the optimistic-lock counter. Every store update
	// increments it; writers supply the version they read.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Live reports whether the identity participates in resolution.
// Merged tombstones are resolvable by id but never matchable.
func (i *Identity) Live() bool {
	return i.Status != StatusMerged
}

// HasRate reports whether both default rates are set.
func (i *Identity) HasRate() bool {
	return i.HourlyRate != nil && i.OvertimeRate != nil
}

// =============================================================================
// ALIAS - Normalized spoken name bound to one identity
// =============================================================================

type Alias struct {
	Key        string // match.Normalize output
	IdentityID string
	CreatedAt  time.Time
}

// =============================================================================
// CANDIDATE - Fuzzy match result
// =============================================================================

type Candidate struct {
	Identity *Identity
	Score    float64
}
