/*
queue.go - Resolution actions on pending review items

PURPOSE:
  The Queue is where human decisions land. Resolving an ambiguous match
  teaches the identity index (the spoken name becomes an alias of the
  chosen identity) and releases any held-back or misattributed ledger
  entry. Resolving an incomplete entry applies a ledger correction.

FINALITY:
  Every resolution records actor and timestamp and closes the item.
  Closed items stay queryable forever; there is no reopen and no delete.

SEE ALSO:
  - identity/index.go: BindAlias / CreateIdentity used here
  - ledger/ledger.go: CreateEntry / CorrectEntry / Reattribute used here
*/
package review

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/match"
)

// ChoiceCreateNew resolves an ambiguous item by creating a brand-new
// identity instead of picking a candidate.
const ChoiceCreateNew = "create-new"

// =============================================================================
// QUEUE
// =============================================================================

type Queue struct {
	store  Store
	index  *identity.Index
	ledger *ledger.Ledger
}

func NewQueue(store Store, index *identity.Index, led *ledger.Ledger) *Queue {
	return &Queue{store: store, index: index, ledger: led}
}

// List returns review items, open-only by default.
func (q *Queue) List(ctx context.Context, openOnly bool) ([]*Item, error) {
	return q.store.ListItems(ctx, openOnly)
}

// Get returns one review item.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	return q.store.GetItem(ctx, id)
}

// =============================================================================
// RESOLUTIONS
// =============================================================================

// ResolveAmbiguous closes an ambiguous-identity or alias-collision item.
// choice is an existing candidate's identity id, or ChoiceCreateNew.
//
// Choosing a candidate binds the spoken name as a new alias on that
// identity, so the same reference resolves exactly next time. Any entry
// held back pending the decision is created now; any entry booked
// against a provisional identity is re-attributed to the chosen one.
func (q *Queue) ResolveAmbiguous(ctx context.Context, itemID, choice, actor string) (*identity.Identity, *ledger.Entry, error) {
	item, err := q.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.Status != StatusOpen {
		return nil, nil, ErrAlreadyResolved
	}
	if item.Subject != SubjectAmbiguousIdentity && item.Subject != SubjectAliasCollision {
		return nil, nil, fmt.Errorf("item %s has subject %q, not an identity decision", itemID, item.Subject)
	}

	var (
		ident      *identity.Identity
		resolution string
	)
	if choice == ChoiceCreateNew {
		seeds := []string{item.SpokenName, match.FirstToken(item.SpokenName)}
		ident, err = q.index.CreateIdentity(ctx, item.SpokenName, seeds)
		if err != nil {
			return nil, nil, err
		}
		resolution = "created " + ident.ID
	} else {
		ident, err = q.index.Get(ctx, choice)
		if err != nil {
			return nil, nil, err
		}
		if !ident.Live() {
			return nil, nil, identity.ErrAlreadyMerged
		}
		// Teach the index: the spoken name now means this identity.
		// A collision with the same identity is a no-op; a collision
		// with a different one surfaces - the human picked a name
		// someone else already owns.
		if err := q.index.BindAlias(ctx, ident.ID, item.SpokenName); err != nil {
			return nil, nil, err
		}
		resolution = "chose " + ident.ID
	}

	var entry *ledger.Entry
	switch {
	case item.Tuple != nil:
		// The entry was held back pending this decision; create it now.
		// The held Seq was assigned before the identity was known, so it
		// can collide with an entry the chosen identity already has on
		// this report. Bump to the next free sequence rather than letting
		// the idempotency check swallow the held hours.
		var created bool
		for seq := item.Tuple.Seq; ; seq++ {
			entry, created, err = q.ledger.CreateEntry(ctx, ledger.CreateInput{
				ReportID:   item.ReportID,
				IdentityID: ident.ID,
				ProjectID:  item.Tuple.ProjectID,
				Date:       item.Tuple.Date,
				Seq:        seq,
				Hours:      item.Tuple.Hours,
				Activities: item.Tuple.Activities,
			})
			if err != nil {
				return nil, nil, err
			}
			if created {
				break
			}
		}
	case item.EntryID != "":
		existing, err := q.ledger.Store().GetEntry(ctx, item.EntryID)
		if err != nil {
			return nil, nil, err
		}
		if existing.IdentityID != ident.ID {
			entry, err = q.ledger.Reattribute(ctx, item.EntryID, ident.ID, actor)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	if err := q.store.CloseItem(ctx, itemID, resolution, actor); err != nil {
		return nil, nil, err
	}
	zap.L().Info("review item resolved",
		zap.String("item_id", itemID),
		zap.String("resolution", resolution),
		zap.String("actor", actor),
	)
	return ident, entry, nil
}

// ResolveIncompleteEntry closes a ledger-entry-incomplete item by
// applying a correction to the flagged entry.
func (q *Queue) ResolveIncompleteEntry(ctx context.Context, itemID string, hoursOverride *ledger.Hours, reason, actor string) (*ledger.Entry, error) {
	item, err := q.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusOpen {
		return nil, ErrAlreadyResolved
	}
	if item.Subject != SubjectEntryIncomplete {
		return nil, fmt.Errorf("item %s has subject %q, not an entry correction", itemID, item.Subject)
	}

	entry, err := q.ledger.CorrectEntry(ctx, item.EntryID, hoursOverride, reason, actor)
	if err != nil {
		return nil, err
	}

	resolution := "corrected " + item.EntryID + " -> " + entry.ID
	if err := q.store.CloseItem(ctx, itemID, resolution, actor); err != nil {
		return nil, err
	}
	zap.L().Info("review item resolved",
		zap.String("item_id", itemID),
		zap.String("resolution", resolution),
		zap.String("actor", actor),
	)
	return entry, nil
}
