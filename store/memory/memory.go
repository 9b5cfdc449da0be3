/*
Package memory provides the in-memory Store implementation (tests/dev).

PURPOSE:
  One mutex-guarded store backing all three persistence interfaces:
  identity.Store, ledger.Store, and review.Store. The atomic write
  contracts (alias CAS, version CAS, supersede, merge) hold trivially
  because every mutation runs under the single write lock.

COPY DISCIPLINE:
  Everything returned is a deep copy and everything stored is a deep
  copy of the input. Callers can never mutate store state through a
  shared pointer.

SEE ALSO:
  - store/sqlite: The production implementation of the same contracts
*/
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/review"
)

// Store implements identity.Store, ledger.Store, and review.Store over
// mutex-guarded maps.
type Store struct {
	mu sync.RWMutex

	identities map[string]*identity.Identity
	aliases    map[string]identity.Alias // alias key -> binding

	entries    map[string]*ledger.Entry
	entryOrder []string          // append order
	idem       map[string]string // idempotency key -> entry id

	items     map[string]*review.Item
	itemOrder []string
}

func NewStore() *Store {
	return &Store{
		identities: make(map[string]*identity.Identity),
		aliases:    make(map[string]identity.Alias),
		entries:    make(map[string]*ledger.Entry),
		idem:       make(map[string]string),
		items:      make(map[string]*review.Item),
	}
}

// Reset drops all stored data. Only demo scenario loading uses it;
// nothing in the request path does.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = make(map[string]*identity.Identity)
	s.aliases = make(map[string]identity.Alias)
	s.entries = make(map[string]*ledger.Entry)
	s.entryOrder = nil
	s.idem = make(map[string]string)
	s.items = make(map[string]*review.Item)
	s.itemOrder = nil
	return nil
}

// =============================================================================
// IDENTITY STORE
// =============================================================================

func (s *Store) GetIdentity(_ context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[id]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}
	return copyIdentity(ident), nil
}

func (s *Store) FindByCanonicalName(_ context.Context, name string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *identity.Identity
	for _, ident := range s.identities {
		if !ident.Live() || !strings.EqualFold(ident.CanonicalName, name) {
			continue
		}
		if best == nil || ident.UpdatedAt.After(best.UpdatedAt) {
			best = ident
		}
	}
	if best == nil {
		return nil, nil
	}
	return copyIdentity(best), nil
}

func (s *Store) FindByAlias(_ context.Context, key string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.aliases[key]
	if !ok {
		return nil, nil
	}
	ident, ok := s.identities[a.IdentityID]
	if !ok || !ident.Live() {
		return nil, nil
	}
	return copyIdentity(ident), nil
}

func (s *Store) FindByEmployeeNumber(_ context.Context, number string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.identities {
		if ident.Live() && ident.EmployeeNumber == number && number != "" {
			return copyIdentity(ident), nil
		}
	}
	return nil, nil
}

func (s *Store) ListLive(_ context.Context) ([]*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*identity.Identity
	for _, ident := range s.identities {
		if ident.Live() {
			out = append(out, copyIdentity(ident))
		}
	}
	sortIdentities(out)
	return out, nil
}

func (s *Store) ListActive(_ context.Context) ([]*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*identity.Identity
	for _, ident := range s.identities {
		if ident.Status == identity.StatusActive {
			out = append(out, copyIdentity(ident))
		}
	}
	sortIdentities(out)
	return out, nil
}

func (s *Store) ListAliases(_ context.Context) ([]identity.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.Alias, 0, len(s.aliases))
	for _, a := range s.aliases {
		if ident, ok := s.identities[a.IdentityID]; ok && ident.Live() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) AliasesFor(_ context.Context, identityID string) ([]identity.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []identity.Alias
	for _, a := range s.aliases {
		if a.IdentityID == identityID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) CreateIdentity(_ context.Context, ident *identity.Identity, aliasKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every seed key before writing anything (all-or-nothing).
	for _, key := range aliasKeys {
		if err := s.aliasFreeLocked(key, ident.ID); err != nil {
			return err
		}
	}

	s.identities[ident.ID] = copyIdentity(ident)
	now := time.Now().UTC()
	for _, key := range aliasKeys {
		s.aliases[key] = identity.Alias{Key: key, IdentityID: ident.ID, CreatedAt: now}
	}
	return nil
}

func (s *Store) BindAlias(_ context.Context, identityID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identityID]; !ok {
		return identity.ErrIdentityNotFound
	}
	if err := s.aliasFreeLocked(key, identityID); err != nil {
		return err
	}
	if a, ok := s.aliases[key]; ok && a.IdentityID == identityID {
		return nil // already bound to this identity
	}
	s.aliases[key] = identity.Alias{Key: key, IdentityID: identityID, CreatedAt: time.Now().UTC()}
	return nil
}

// aliasFreeLocked returns an AliasCollisionError if key is bound to a
// live identity other than selfID.
func (s *Store) aliasFreeLocked(key, selfID string) error {
	a, ok := s.aliases[key]
	if !ok || a.IdentityID == selfID {
		return nil
	}
	owner, ok := s.identities[a.IdentityID]
	if !ok || !owner.Live() {
		return nil // stale binding to a dead identity never blocks
	}
	return &identity.AliasCollisionError{Key: key, ExistingID: a.IdentityID}
}

func (s *Store) UpdateIdentity(_ context.Context, ident *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.identities[ident.ID]
	if !ok {
		return identity.ErrIdentityNotFound
	}
	if stored.Version != ident.Version {
		return identity.ErrConcurrentModification
	}

	next := copyIdentity(ident)
	next.Version = stored.Version + 1
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.identities[ident.ID] = next
	return nil
}

func (s *Store) Merge(_ context.Context, sourceID, targetID string, sourceVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.identities[sourceID]
	if !ok {
		return identity.ErrIdentityNotFound
	}
	target, ok := s.identities[targetID]
	if !ok {
		return identity.ErrIdentityNotFound
	}
	if source.Version != sourceVersion {
		return identity.ErrConcurrentModification
	}
	if source.Status == identity.StatusMerged {
		return identity.ErrAlreadyMerged
	}
	if target.Status == identity.StatusMerged {
		return identity.ErrTargetMerged
	}

	now := time.Now().UTC()
	source.Status = identity.StatusMerged
	source.MergedInto = targetID
	source.Version++
	source.UpdatedAt = now

	// Re-point every alias of the source at the target.
	for key, a := range s.aliases {
		if a.IdentityID == sourceID {
			a.IdentityID = targetID
			s.aliases[key] = a
		}
	}
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) AppendEntry(_ context.Context, e *ledger.Entry, idemKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryLocked(e, idemKey)
}

func (s *Store) appendEntryLocked(e *ledger.Entry, idemKey string) error {
	if idemKey != "" {
		if _, exists := s.idem[idemKey]; exists {
			return ledger.ErrDuplicateEntry
		}
	}
	s.entries[e.ID] = copyEntry(e)
	s.entryOrder = append(s.entryOrder, e.ID)
	if idemKey != "" {
		s.idem[idemKey] = e.ID
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, id string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	return copyEntry(e), nil
}

func (s *Store) FindByIdemKey(_ context.Context, idemKey string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idem[idemKey]
	if !ok {
		return nil, nil
	}
	return copyEntry(s.entries[id]), nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, from, to ledger.EntryStatus, actor, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	if e.Status == ledger.StatusSuperseded {
		return ledger.ErrAlreadySuperseded
	}
	if e.Status != from {
		return ledger.ErrNotPending
	}
	e.Status = to
	e.StatusReason = reason
	e.StatusChangedBy = actor
	e.StatusChangedAt = time.Now().UTC()
	return nil
}

func (s *Store) Supersede(_ context.Context, originalID string, replacement *ledger.Entry, replacementKey, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.entries[originalID]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	switch original.Status {
	case ledger.StatusSuperseded:
		return ledger.ErrAlreadySuperseded
	case ledger.StatusRejected:
		return ledger.ErrEntryRejected
	}
	if replacementKey != "" {
		if _, exists := s.idem[replacementKey]; exists {
			return ledger.ErrDuplicateEntry
		}
	}

	original.Status = ledger.StatusSuperseded
	original.StatusChangedBy = actor
	original.StatusChangedAt = time.Now().UTC()
	return s.appendEntryLocked(replacement, replacementKey)
}

func (s *Store) EntriesByReport(_ context.Context, reportID string) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filterLocked(func(e *ledger.Entry) bool { return e.ReportID == reportID })
	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *Store) EntriesByIdentity(_ context.Context, identityID string, from, to time.Time) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(e *ledger.Entry) bool {
		return e.IdentityID == identityID && inRange(e.Date, from, to)
	}), nil
}

func (s *Store) EntriesByProject(_ context.Context, projectID string, from, to time.Time) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(e *ledger.Entry) bool {
		return e.ProjectID == projectID && inRange(e.Date, from, to)
	}), nil
}

func (s *Store) EntriesInRange(_ context.Context, from, to time.Time) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(e *ledger.Entry) bool { return inRange(e.Date, from, to) }), nil
}

func (s *Store) IdentityIDsForProject(_ context.Context, projectID string, since, until time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range s.entryOrder {
		e := s.entries[id]
		if e.ProjectID != projectID || !inRange(e.Date, since, until) || seen[e.IdentityID] {
			continue
		}
		seen[e.IdentityID] = true
		out = append(out, e.IdentityID)
	}
	sort.Strings(out)
	return out, nil
}

// filterLocked returns copies of matching entries in append order.
func (s *Store) filterLocked(match func(*ledger.Entry) bool) []*ledger.Entry {
	var out []*ledger.Entry
	for _, id := range s.entryOrder {
		if e := s.entries[id]; match(e) {
			out = append(out, copyEntry(e))
		}
	}
	return out
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// =============================================================================
// REVIEW STORE
// =============================================================================

func (s *Store) AddItem(_ context.Context, item *review.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = copyItem(item)
	s.itemOrder = append(s.itemOrder, item.ID)
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (*review.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, review.ErrItemNotFound
	}
	return copyItem(item), nil
}

func (s *Store) ListItems(_ context.Context, openOnly bool) ([]*review.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*review.Item
	for _, id := range s.itemOrder {
		item := s.items[id]
		if openOnly && item.Status != review.StatusOpen {
			continue
		}
		out = append(out, copyItem(item))
	}
	return out, nil
}

func (s *Store) CloseItem(_ context.Context, id, resolution, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return review.ErrItemNotFound
	}
	if item.Status != review.StatusOpen {
		return review.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	item.Status = review.StatusResolved
	item.Resolution = resolution
	item.ResolvedBy = actor
	item.ResolvedAt = &now
	return nil
}

// =============================================================================
// DEEP COPIES
// =============================================================================

func copyIdentity(i *identity.Identity) *identity.Identity {
	out := *i
	if i.HourlyRate != nil {
		r := *i.HourlyRate
		out.HourlyRate = &r
	}
	if i.OvertimeRate != nil {
		r := *i.OvertimeRate
		out.OvertimeRate = &r
	}
	return &out
}

func copyEntry(e *ledger.Entry) *ledger.Entry {
	out := *e
	out.Activities = append([]string(nil), e.Activities...)
	return &out
}

func copyItem(it *review.Item) *review.Item {
	out := *it
	out.Candidates = append([]review.CandidateRef(nil), it.Candidates...)
	if it.Tuple != nil {
		t := *it.Tuple
		t.Activities = append([]string(nil), it.Tuple.Activities...)
		out.Tuple = &t
	}
	if it.ResolvedAt != nil {
		ts := *it.ResolvedAt
		out.ResolvedAt = &ts
	}
	return &out
}

func sortIdentities(ids []*identity.Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })
}
