package review

import (
	"context"
	"errors"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrItemNotFound is returned for unknown review item ids.
	ErrItemNotFound = errors.New("review item not found")

	// ErrAlreadyResolved is returned when resolving a closed item.
	// Resolutions are final; there is no reopen.
	ErrAlreadyResolved = errors.New("review item already resolved")
)

// =============================================================================
// STORE - Persistence for review items
// =============================================================================

// Store persists review items. Items are never deleted; CloseItem is
// the only mutation and it only moves Open -> Resolved.
type Store interface {
	// AddItem persists a new open item.
	AddItem(ctx context.Context, item *Item) error

	// GetItem returns the item by id. ErrItemNotFound if unknown.
	GetItem(ctx context.Context, id string) (*Item, error)

	// ListItems returns items, open-only or all, oldest first.
	ListItems(ctx context.Context, openOnly bool) ([]*Item, error)

	// CloseItem marks an open item Resolved with the action taken,
	// the actor, and the resolution time. ErrAlreadyResolved if the
	// item is not open.
	CloseItem(ctx context.Context, id, resolution, actor string) error
}
