/*
store.go - Persistence interface for ledger entries

APPEND-ONLY CONTRACT:
  - AppendEntry: the only way a new row appears
  - UpdateStatus: the only in-place mutation, guarded by the expected
    current status (a CAS on status), touching status fields only
  - Supersede: atomic status flip + replacement append for corrections
  - No delete exists

IMPLEMENTATIONS:
  - store/memory: mutex-guarded maps
  - store/sqlite: UNIQUE idempotency key + guarded UPDATEs in a tx

SEE ALSO:
  - ledger.go: Domain operations on this interface
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of ledger entries. Append-only: entries are
// inserted once and only their status fields ever change.
type Store interface {
	// AppendEntry persists a new entry. Returns ErrDuplicateEntry if an
	// entry with the same idempotency key already exists.
	AppendEntry(ctx context.Context, e *Entry, idemKey string) error

	// GetEntry returns the entry by id. ErrEntryNotFound if unknown.
	GetEntry(ctx context.Context, id string) (*Entry, error)

	// FindByIdemKey returns the entry with the given idempotency key,
	// or (nil, nil) if none exists.
	FindByIdemKey(ctx context.Context, idemKey string) (*Entry, error)

	// UpdateStatus transitions an entry out of the expected status,
	// recording actor, reason, and time. Returns ErrEntryNotFound if
	// unknown, ErrAlreadySuperseded if the stored status is Superseded,
	// ErrNotPending for any other mismatch with `from`.
	UpdateStatus(ctx context.Context, id string, from, to EntryStatus, actor, reason string) error

	// Supersede atomically marks the original entry Superseded and
	// appends its replacement. Fails with ErrAlreadySuperseded if the
	// original already left Pending/Approved.
	Supersede(ctx context.Context, originalID string, replacement *Entry, replacementKey, actor string) error

	// EntriesByReport returns all entries for a report, ordered by
	// identity then sequence.
	EntriesByReport(ctx context.Context, reportID string) ([]*Entry, error)

	// EntriesByIdentity returns entries for an identity with
	// Date in [from, to].
	EntriesByIdentity(ctx context.Context, identityID string, from, to time.Time) ([]*Entry, error)

	// EntriesByProject returns entries for a project with Date in [from, to].
	EntriesByProject(ctx context.Context, projectID string, from, to time.Time) ([]*Entry, error)

	// EntriesInRange returns all entries with Date in [from, to].
	EntriesInRange(ctx context.Context, from, to time.Time) ([]*Entry, error)

	// IdentityIDsForProject returns the distinct identity ids with at
	// least one entry on the project dated in [since, until]. Feeds the
	// resolver's context-narrowing pool.
	IdentityIDsForProject(ctx context.Context, projectID string, since, until time.Time) ([]string, error)
}
