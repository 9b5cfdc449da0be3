/*
errors.go - Centralized error types for identity management

PURPOSE:
  All identity error types in one place. Callers branch with errors.Is /
  errors.As; structured errors carry the context a caller needs to react
  (e.g. which identity already owns a colliding alias).

ERROR CATEGORIES:
  1. Uniqueness violations - alias collisions (expected under concurrency)
  2. Lookup failures - unknown ids
  3. Concurrency - optimistic lock conflicts
  4. Lifecycle - illegal merges and activations

SEE ALSO:
  - index.go: Produces these errors
  - resolve/resolver.go: Reacts to AliasCollisionError with retry-once
*/
package identity

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIdentityNotFound is returned when a referenced identity doesn't exist.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrAliasCollision is returned when binding an alias key that is
	// already bound to a different live identity. Never overwrite.
	ErrAliasCollision = errors.New("alias already bound to another identity")

	// ErrConcurrentModification is returned when the optimistic version
	// check fails. Callers retry once against refreshed state, then
	// surface the failure.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTargetMerged is returned when merging into an identity that is
	// itself a merge tombstone.
	ErrTargetMerged = errors.New("merge target is already merged")

	// ErrAlreadyMerged is returned when operating on a merge tombstone.
	ErrAlreadyMerged = errors.New("identity is already merged")

	// ErrEmptyName is returned when creating an identity from a blank name.
	ErrEmptyName = errors.New("canonical name must not be empty")

	// ErrInvalidRate is returned when activating an identity with a
	// negative rate.
	ErrInvalidRate = errors.New("rates must be non-negative")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AliasCollisionError reports which live identity already owns the key.
// This is the concurrency signal for the create-identity race: the losing
// writer discards its tentative identity and re-resolves.
type AliasCollisionError struct {
	Key        string
	ExistingID string
}

func (e *AliasCollisionError) Error() string {
	return fmt.Sprintf("alias %q already bound to identity %s", e.Key, e.ExistingID)
}

func (e *AliasCollisionError) Unwrap() error { return ErrAliasCollision }
