/*
store.go - Persistence interface for identities and aliases

PURPOSE:
  Defines the interface between identity logic and the database. The
  store owns the uniqueness guard: alias writes are conditional on the
  key being free, and identity updates are conditional on the version
  counter. Both are the atomic primitives the resolution race safety
  is built on.

WRITE CONTRACT:
  CreateIdentity: identity + seed aliases land atomically (all-or-nothing).
  BindAlias:      compare-and-swap on the alias key.
  UpdateIdentity: compare-and-swap on the version counter.
  Merge:          version CAS + alias re-pointing in one atomic step.
  No delete operations exist. Merge tombstones are the only removal.

IMPLEMENTATIONS:
  - store/memory: mutex-guarded maps (tests/dev)
  - store/sqlite: production SQLite (unique indexes + guarded UPDATEs)

SEE ALSO:
  - index.go: Domain operations layered on this interface
*/
package identity

import "context"

// Store handles persistence of identities and alias bindings.
//
// Lookup methods return (nil, nil) when nothing matches; only GetIdentity
// treats absence as an error, because callers pass ids they obtained from
// the system and a miss is a programmer error.
type Store interface {
	// GetIdentity returns the identity with the given id, including
	// merge tombstones. Returns ErrIdentityNotFound if unknown.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// FindByCanonicalName returns a live identity whose canonical name
	// matches exactly, case-insensitively. When several live identities
	// share a canonical name, the most recently updated one is returned.
	FindByCanonicalName(ctx context.Context, name string) (*Identity, error)

	// FindByAlias returns the live identity bound to the normalized
	// alias key.
	FindByAlias(ctx context.Context, key string) (*Identity, error)

	// FindByEmployeeNumber returns the live identity with the given
	// employee number.
	FindByEmployeeNumber(ctx context.Context, number string) (*Identity, error)

	// ListLive returns all non-Merged identities.
	ListLive(ctx context.Context) ([]*Identity, error)

	// ListActive returns identities with StatusActive.
	ListActive(ctx context.Context) ([]*Identity, error)

	// ListAliases returns every alias binding for live identities.
	ListAliases(ctx context.Context) ([]Alias, error)

	// AliasesFor returns the alias bindings of one identity.
	AliasesFor(ctx context.Context, identityID string) ([]Alias, error)

	// CreateIdentity persists a new identity and its seed aliases
	// atomically. If any seed key is already bound to a different live
	// identity, nothing is written and an AliasCollisionError is
	// returned. This conditional write is the uniqueness guard for
	// concurrent identity creation.
	CreateIdentity(ctx context.Context, ident *Identity, aliasKeys []string) error

	// BindAlias binds a normalized key to an identity. Binding a key
	// already held by the same identity is a no-op; a key held by a
	// different live identity returns an AliasCollisionError.
	BindAlias(ctx context.Context, identityID, key string) error

	// UpdateIdentity persists identity field changes guarded by the
	// version counter: the write succeeds only if the stored version
	// equals ident.Version, and increments it. Returns
	// ErrConcurrentModification on a lost race.
	UpdateIdentity(ctx context.Context, ident *Identity) error

	// Merge atomically marks source as Merged into target and re-points
	// all of source's aliases to target, guarded by sourceVersion.
	Merge(ctx context.Context, sourceID, targetID string, sourceVersion int64) error
}
