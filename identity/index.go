/*
index.go - Identity index: lookups, fuzzy candidates, create/bind/merge

PURPOSE:
  The Index is the single entry point for everything identity-shaped:
  exact lookups, fuzzy candidate search, alias binding, identity
  creation, activation, and admin merges. It layers domain rules on the
  Store's atomic primitives and optionally fronts reads with a TTL cache.

OPERATIONS:
  LookupByCanonicalName  exact, case-insensitive
  LookupByAlias          exact on normalized key
  CandidatesByFuzzy      scored candidates over live identities
  BindAlias              CAS bind, surfaces collisions
  CreateIdentity         Incomplete identity + seed aliases, atomic
  MergeIdentity          tombstone source, re-point aliases, retry-once
  Activate               human completion: employee number + rates

CANDIDATE RANKING:
  Candidates are the best score of canonical name and every alias,
  filtered by threshold, sorted score descending. Ties break toward the
  most recently updated identity, then lexicographic id, so ranking is
  deterministic for equal scores.

SEE ALSO:
  - resolve/resolver.go: The cascade built on these operations
  - cache.go: Read-through TTL cache
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/match"
)

// =============================================================================
// INDEX
// =============================================================================

// Index provides identity lookup and mutation over a Store.
type Index struct {
	store  Store
	scorer match.Scorer
	cache  *readCache
}

type IndexOption func(*Index)

// WithCache fronts exact-match reads with a bounded TTL cache.
// Fuzzy search and the write path always bypass it.
func WithCache(size int, ttl time.Duration) IndexOption {
	return func(x *Index) { x.cache = newReadCache(size, ttl) }
}

func NewIndex(store Store, scorer match.Scorer, opts ...IndexOption) *Index {
	x := &Index{store: store, scorer: scorer}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// =============================================================================
// LOOKUPS (read-only)
// =============================================================================

// Get returns the identity by id, including merge tombstones.
func (x *Index) Get(ctx context.Context, id string) (*Identity, error) {
	if ident, ok := x.cache.get(cacheKeyID(id)); ok {
		return ident, nil
	}
	ident, err := x.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	x.cache.put(cacheKeyID(id), ident)
	return ident, nil
}

// LookupByCanonicalName finds a live identity by exact, case-insensitive
// canonical name. Returns (nil, nil) when nothing matches.
func (x *Index) LookupByCanonicalName(ctx context.Context, name string) (*Identity, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, nil
	}
	if ident, ok := x.cache.get(cacheKeyName(key)); ok {
		return ident, nil
	}
	ident, err := x.store.FindByCanonicalName(ctx, key)
	if err != nil {
		return nil, err
	}
	if ident != nil {
		x.cache.put(cacheKeyName(key), ident)
	}
	return ident, nil
}

// LookupByAlias finds the live identity bound to the spoken name's
// normalized alias key. Returns (nil, nil) when the key is unbound.
func (x *Index) LookupByAlias(ctx context.Context, spokenName string) (*Identity, error) {
	key := match.Normalize(spokenName)
	if key == "" {
		return nil, nil
	}
	if ident, ok := x.cache.get(cacheKeyAlias(key)); ok {
		return ident, nil
	}
	ident, err := x.store.FindByAlias(ctx, key)
	if err != nil {
		return nil, err
	}
	if ident != nil {
		x.cache.put(cacheKeyAlias(key), ident)
	}
	return ident, nil
}

// LookupByEmployeeNumber finds the live identity with the given number.
func (x *Index) LookupByEmployeeNumber(ctx context.Context, number string) (*Identity, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, nil
	}
	if ident, ok := x.cache.get(cacheKeyNumber(number)); ok {
		return ident, nil
	}
	ident, err := x.store.FindByEmployeeNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if ident != nil {
		x.cache.put(cacheKeyNumber(number), ident)
	}
	return ident, nil
}

// ListActive returns all Active identities.
func (x *Index) ListActive(ctx context.Context) ([]*Identity, error) {
	return x.store.ListActive(ctx)
}

// Aliases returns the alias bindings of one identity.
func (x *Index) Aliases(ctx context.Context, identityID string) ([]Alias, error) {
	return x.store.AliasesFor(ctx, identityID)
}

// =============================================================================
// FUZZY CANDIDATES
// =============================================================================

// CandidatesByFuzzy returns all live identities whose canonical name or
// any alias scores >= threshold against name, ranked best-first.
func (x *Index) CandidatesByFuzzy(ctx context.Context, name string, threshold float64) ([]Candidate, error) {
	return x.candidates(ctx, name, threshold, nil)
}

// CandidatesAmong is CandidatesByFuzzy restricted to the given identity
// id pool. Used for context narrowing: the pool is the set of identities
// recently active on a project.
func (x *Index) CandidatesAmong(ctx context.Context, name string, threshold float64, pool []string) ([]Candidate, error) {
	if len(pool) == 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(pool))
	for _, id := range pool {
		allowed[id] = true
	}
	return x.candidates(ctx, name, threshold, allowed)
}

func (x *Index) candidates(ctx context.Context, name string, threshold float64, allowed map[string]bool) ([]Candidate, error) {
	live, err := x.store.ListLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live identities: %w", err)
	}
	aliases, err := x.store.ListAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}

	aliasKeys := make(map[string][]string, len(live))
	for _, a := range aliases {
		aliasKeys[a.IdentityID] = append(aliasKeys[a.IdentityID], a.Key)
	}

	var out []Candidate
	for _, ident := range live {
		if allowed != nil && !allowed[ident.ID] {
			continue
		}
		best := x.scorer.Score(name, ident.CanonicalName)
		for _, key := range aliasKeys[ident.ID] {
			if s := x.scorer.Score(name, key); s > best {
				best = s
			}
		}
		if best >= threshold {
			out = append(out, Candidate{Identity: ident, Score: best})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// Equal scores: most recently active identity first.
		if !out[i].Identity.UpdatedAt.Equal(out[j].Identity.UpdatedAt) {
			return out[i].Identity.UpdatedAt.After(out[j].Identity.UpdatedAt)
		}
		return out[i].Identity.ID < out[j].Identity.ID
	})
	return out, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// BindAlias binds the spoken name's normalized key to an identity.
// Returns an AliasCollisionError if the key belongs to someone else.
func (x *Index) BindAlias(ctx context.Context, identityID, spokenName string) error {
	key := match.Normalize(spokenName)
	if key == "" {
		return ErrEmptyName
	}
	if err := x.store.BindAlias(ctx, identityID, key); err != nil {
		return err
	}
	x.cache.purge()
	zap.L().Debug("alias bound",
		zap.String("key", key),
		zap.String("identity_id", identityID),
	)
	return nil
}

// CreateIdentity allocates a new Incomplete identity and binds its seed
// aliases atomically with the create. On a seed collision nothing is
// written and the AliasCollisionError names the existing owner.
func (x *Index) CreateIdentity(ctx context.Context, name string, seedAliases []string) (*Identity, error) {
	canonical := strings.Join(strings.Fields(name), " ")
	if canonical == "" {
		return nil, ErrEmptyName
	}

	keys := make([]string, 0, len(seedAliases))
	seen := make(map[string]bool, len(seedAliases))
	for _, s := range seedAliases {
		key := match.Normalize(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}

	now := time.Now().UTC()
	ident := &Identity{
		ID:            uuid.NewString(),
		CanonicalName: canonical,
		Status:        StatusIncomplete,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := x.store.CreateIdentity(ctx, ident, keys); err != nil {
		return nil, err
	}
	x.cache.purge()
	zap.L().Info("identity created",
		zap.String("identity_id", ident.ID),
		zap.String("canonical_name", canonical),
		zap.Strings("seed_aliases", keys),
	)
	return ident, nil
}

// Activate completes an Incomplete identity with its employee number and
// default rates, transitioning it to Active. Also usable to update the
// rates of an Active identity; existing ledger entries keep their frozen
// snapshots regardless.
func (x *Index) Activate(ctx context.Context, id, employeeNumber string, hourly, overtime decimal.Decimal) (*Identity, error) {
	if hourly.IsNegative() || overtime.IsNegative() {
		return nil, ErrInvalidRate
	}
	ident, err := x.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if ident.Status == StatusMerged {
		return nil, ErrAlreadyMerged
	}

	ident.EmployeeNumber = strings.TrimSpace(employeeNumber)
	ident.HourlyRate = &hourly
	ident.OvertimeRate = &overtime
	ident.Status = StatusActive

	if err := x.store.UpdateIdentity(ctx, ident); err != nil {
		return nil, err
	}
	x.cache.purge()
	zap.L().Info("identity activated",
		zap.String("identity_id", id),
		zap.String("employee_number", ident.EmployeeNumber),
	)
	return x.store.GetIdentity(ctx, id)
}

// MergeIdentity folds source into target: all of source's aliases are
// re-pointed to target and source becomes a Merged tombstone, still
// resolvable by id so historical ledger entries keep their integrity.
// Merges are never automatic; actor is the admin who decided.
//
// Exclusivity comes from the version CAS: a losing writer retries once
// against refreshed state, then surfaces the failure.
func (x *Index) MergeIdentity(ctx context.Context, sourceID, targetID, actor string) error {
	if sourceID == targetID {
		return fmt.Errorf("cannot merge identity %s into itself", sourceID)
	}

	for attempt := 0; ; attempt++ {
		source, err := x.store.GetIdentity(ctx, sourceID)
		if err != nil {
			return err
		}
		target, err := x.store.GetIdentity(ctx, targetID)
		if err != nil {
			return err
		}
		if source.Status == StatusMerged {
			return ErrAlreadyMerged
		}
		if target.Status == StatusMerged {
			return ErrTargetMerged
		}

		err = x.store.Merge(ctx, sourceID, targetID, source.Version)
		if err == nil {
			x.cache.purge()
			zap.L().Info("identity merged",
				zap.String("source_id", sourceID),
				zap.String("target_id", targetID),
				zap.String("actor", actor),
			)
			return nil
		}
		if attempt == 0 && isConcurrent(err) {
			continue // refresh and retry once
		}
		return err
	}
}

func isConcurrent(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
