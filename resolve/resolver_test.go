package resolve_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/match"
	"github.com/warp/payroll-engine/resolve"
	"github.com/warp/payroll-engine/review"
	"github.com/warp/payroll-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestResolver(t *testing.T) (*resolve.Resolver, *identity.Index, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	index := identity.NewIndex(store, match.NewScorer())
	resolver := resolve.NewResolver(index, store, store, resolve.DefaultConfig())
	return resolver, index, store
}

func seedIdentity(t *testing.T, index *identity.Index, name string, seeds ...string) *identity.Identity {
	t.Helper()
	if len(seeds) == 0 {
		seeds = []string{name}
	}
	ident, err := index.CreateIdentity(context.Background(), name, seeds)
	require.NoError(t, err)
	return ident
}

func pendingTuple(projectID string, seq int, regular float64) *review.PendingTuple {
	return &review.PendingTuple{
		ProjectID: projectID,
		Date:      time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		Seq:       seq,
		Hours:     ledger.NewHours(regular, 0, 0),
	}
}

// =============================================================================
// EXACT MATCH TESTS
// =============================================================================

func TestResolve_ExactCanonicalName(t *testing.T) {
	// GIVEN: "Tommy Rodriguez" exists
	// WHEN: A report says "tommy rodriguez"
	// THEN: Resolved exactly, confidence 1.0

	resolver, index, _ := newTestResolver(t)
	ctx := context.Background()

	tommy := seedIdentity(t, index, "Tommy Rodriguez")

	out, err := resolver.Resolve(ctx, resolve.Request{SpokenName: "tommy rodriguez"})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindResolved, out.Kind)
	assert.Equal(t, tommy.ID, out.Identity.ID)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestResolve_ExactAlias(t *testing.T) {
	// GIVEN: "Tommy Rodriguez" with the learned alias "tommy"
	// WHEN: A report says "Tommy"
	// THEN: Resolved exactly via the alias

	resolver, index, _ := newTestResolver(t)
	ctx := context.Background()

	tommy := seedIdentity(t, index, "Tommy Rodriguez", "Tommy Rodriguez", "Tommy")

	out, err := resolver.Resolve(ctx, resolve.Request{SpokenName: "Tommy"})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindResolved, out.Kind)
	assert.Equal(t, tommy.ID, out.Identity.ID)
}

// =============================================================================
// FUZZY MATCH TESTS
// =============================================================================

func TestResolve_FuzzySingleCandidate(t *testing.T) {
	// GIVEN: Only "Michael Anderson" exists
	// WHEN: A report says "Mike Anderson"
	// THEN: Resolved fuzzily with the match score as confidence

	resolver, index, _ := newTestResolver(t)
	ctx := context.Background()

	michael := seedIdentity(t, index, "Michael Anderson")

	out, err := resolver.Resolve(ctx, resolve.Request{SpokenName: "Mike Anderson"})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindResolvedFuzzy, out.Kind)
	assert.Equal(t, michael.ID, out.Identity.ID)
	assert.GreaterOrEqual(t, out.Confidence, 0.70)
	assert.Less(t, out.Confidence, 1.0, "fuzzy confidence is never perfect")
}

func TestResolve_AmbiguousGoesToReview(t *testing.T) {
	// GIVEN: "Michael Anderson" and "Mike Smith" both exist
	// WHEN: A report says just "Mike"
	// THEN: Never a guess: a review item holds both candidates and the
	//       tuple, and no identity is returned

	resolver, index, store := newTestResolver(t)
	ctx := context.Background()

	anderson := seedIdentity(t, index, "Michael Anderson")
	smith := seedIdentity(t, index, "Mike Smith")

	tuple := pendingTuple("proj-1", 0, 8)
	out, err := resolver.Resolve(ctx, resolve.Request{
		SpokenName: "Mike",
		ReportID:   "r-1",
		Tuple:      tuple,
	})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindNeedsReview, out.Kind)
	assert.Nil(t, out.Identity)
	require.NotNil(t, out.Review)
	assert.Equal(t, review.SubjectAmbiguousIdentity, out.Review.Subject)
	assert.Equal(t, "r-1", out.Review.ReportID)
	require.NotNil(t, out.Review.Tuple, "the tuple is held back for later ledgering")

	require.Len(t, out.Review.Candidates, 2)
	assert.Equal(t, smith.ID, out.Review.Candidates[0].IdentityID, "closest candidate first")
	assert.Equal(t, anderson.ID, out.Review.Candidates[1].IdentityID)

	open, err := store.ListItems(ctx, true)
	require.NoError(t, err)
	assert.Len(t, open, 1, "the item is persisted, not just returned")
}

// =============================================================================
// CONTEXT NARROWING TESTS
// =============================================================================

func seedProjectHistory(t *testing.T, index *identity.Index, store *memory.Store, projectID string) *identity.Identity {
	t.Helper()
	ctx := context.Background()

	william := seedIdentity(t, index, "William Johnson")
	_, err := index.Activate(ctx, william.ID, "E-9", decimal.NewFromInt(30), decimal.NewFromInt(45))
	require.NoError(t, err)

	led := ledger.New(store, store)
	_, _, err = led.CreateEntry(ctx, ledger.CreateInput{
		ReportID:   "r-prev",
		IdentityID: william.ID,
		ProjectID:  projectID,
		Date:       time.Now().UTC().AddDate(0, 0, -3),
		Seq:        0,
		Hours:      ledger.NewHours(8, 0, 0),
	})
	require.NoError(t, err)
	return william
}

func TestResolve_ContextNarrowing_RescuesNearMiss(t *testing.T) {
	// GIVEN: "William Johnson" worked proj-7 this month; "Bill" scores
	//        below the 0.70 acceptance bar but above the relaxed 0.55
	// WHEN: Resolving "Bill" on a proj-7 report
	// THEN: The project context rescues the match

	resolver, index, store := newTestResolver(t)
	ctx := context.Background()

	william := seedProjectHistory(t, index, store, "proj-7")

	out, err := resolver.Resolve(ctx, resolve.Request{
		SpokenName:       "Bill",
		ProjectID:        "proj-7",
		RecentWindowDays: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindResolvedFuzzy, out.Kind)
	assert.Equal(t, william.ID, out.Identity.ID)
	assert.GreaterOrEqual(t, out.Confidence, 0.55)
	assert.Less(t, out.Confidence, 0.70, "only the relaxed threshold accepted this")
}

func TestResolve_NoContext_CreatesInstead(t *testing.T) {
	// GIVEN: The same "William Johnson" history, but on another project
	// WHEN: Resolving "Bill" with no usable context
	// THEN: No match clears the full-pool bar, so a new identity is created

	resolver, index, store := newTestResolver(t)
	ctx := context.Background()

	william := seedProjectHistory(t, index, store, "proj-7")

	out, err := resolver.Resolve(ctx, resolve.Request{
		SpokenName:       "Bill",
		ProjectID:        "proj-other",
		RecentWindowDays: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindCreated, out.Kind)
	assert.NotEqual(t, william.ID, out.Identity.ID)
	assert.Equal(t, identity.StatusIncomplete, out.Identity.Status)
}

func TestResolve_FullNameMiss_CreatesDespiteContext(t *testing.T) {
	// GIVEN: "Maria Lopez" worked proj-7 recently; "Dale Cooper" clears
	//        the relaxed 0.55 against her but is plainly a new person
	// WHEN: Resolving "Dale Cooper" on a proj-7 report
	// THEN: Full names never take the context shortcut: a new Incomplete
	//       identity is created instead of attributing Dale's hours to Maria

	resolver, index, store := newTestResolver(t)
	ctx := context.Background()

	maria := seedIdentity(t, index, "Maria Lopez")
	_, err := index.Activate(ctx, maria.ID, "E-12", decimal.NewFromInt(30), decimal.NewFromInt(45))
	require.NoError(t, err)

	led := ledger.New(store, store)
	_, _, err = led.CreateEntry(ctx, ledger.CreateInput{
		ReportID:   "r-prev",
		IdentityID: maria.ID,
		ProjectID:  "proj-7",
		Date:       time.Now().UTC().AddDate(0, 0, -3),
		Seq:        0,
		Hours:      ledger.NewHours(8, 0, 0),
	})
	require.NoError(t, err)

	out, err := resolver.Resolve(ctx, resolve.Request{
		SpokenName:       "Dale Cooper",
		ProjectID:        "proj-7",
		RecentWindowDays: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindCreated, out.Kind)
	require.NotNil(t, out.Identity)
	assert.NotEqual(t, maria.ID, out.Identity.ID, "hours must never silently land on a crewmate")
	assert.Equal(t, "Dale Cooper", out.Identity.CanonicalName)
}

// =============================================================================
// CREATION TESTS
// =============================================================================

func TestResolve_UnknownName_CreatesIncompleteIdentity(t *testing.T) {
	// GIVEN: An empty system
	// WHEN: A report says "Tommy Rodriguez"
	// THEN: A new Incomplete identity is created, seeded so both
	//       "tommy rodriguez" and "tommy" resolve exactly next time

	resolver, index, _ := newTestResolver(t)
	ctx := context.Background()

	out, err := resolver.Resolve(ctx, resolve.Request{SpokenName: "Tommy Rodriguez"})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindCreated, out.Kind)
	require.NotNil(t, out.Identity)
	assert.Equal(t, "Tommy Rodriguez", out.Identity.CanonicalName)
	assert.Equal(t, identity.StatusIncomplete, out.Identity.Status)

	byToken, err := index.LookupByAlias(ctx, "tommy")
	require.NoError(t, err)
	require.NotNil(t, byToken)
	assert.Equal(t, out.Identity.ID, byToken.ID)

	again, err := resolver.Resolve(ctx, resolve.Request{SpokenName: "Tommy"})
	require.NoError(t, err)
	assert.Equal(t, resolve.KindResolved, again.Kind, "the seeded alias makes the next reference exact")
	assert.Equal(t, out.Identity.ID, again.Identity.ID)
}

// =============================================================================
// CREATION RACE TESTS
// =============================================================================

// raceStore loses its first CreateIdentity call, simulating a concurrent
// resolver that created the same person an instant earlier.
type raceStore struct {
	*memory.Store
	winner *identity.Identity
	lost   bool
}

func (s *raceStore) CreateIdentity(ctx context.Context, ident *identity.Identity, keys []string) error {
	if !s.lost {
		s.lost = true
		// The winner grabbed the alias before our create landed.
		if err := s.Store.BindAlias(ctx, s.winner.ID, keys[0]); err != nil {
			return err
		}
		return &identity.AliasCollisionError{Key: keys[0], ExistingID: s.winner.ID}
	}
	return s.Store.CreateIdentity(ctx, ident, keys)
}

func TestResolve_CreationRace_ReResolvesAgainstWinner(t *testing.T) {
	// GIVEN: Two reports name brand-new "Tommy Rodriguez" concurrently
	//        and this resolver loses the create race
	// WHEN: It sees the alias collision
	// THEN: It discards its tentative identity and re-resolves once,
	//       landing on the winner's record - one person, one identity

	inner := memory.NewStore()
	ctx := context.Background()

	now := time.Now().UTC()
	winner := &identity.Identity{
		ID:            "winner-id",
		CanonicalName: "Dale Cooper",
		Status:        identity.StatusIncomplete,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, inner.CreateIdentity(ctx, winner, nil))

	rs := &raceStore{Store: inner, winner: winner}
	index := identity.NewIndex(rs, match.NewScorer())
	resolver := resolve.NewResolver(index, inner, inner, resolve.DefaultConfig())

	out, err := resolver.Resolve(ctx, resolve.Request{SpokenName: "Tommy Rodriguez"})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindResolved, out.Kind, "retry finds the winner via the now-bound alias")
	assert.Equal(t, winner.ID, out.Identity.ID)
	assert.True(t, rs.lost, "the simulated race must have fired")
}

// collidingStore rejects every CreateIdentity call, simulating a race
// that keeps losing.
type collidingStore struct {
	*memory.Store
	existingID string
}

func (s *collidingStore) CreateIdentity(_ context.Context, _ *identity.Identity, keys []string) error {
	return &identity.AliasCollisionError{Key: keys[0], ExistingID: s.existingID}
}

func TestResolve_RepeatedCollision_EscalatesToReview(t *testing.T) {
	// GIVEN: Identity creation collides on the retry as well
	// WHEN: Resolving the new name
	// THEN: No retry loop: the decision escalates to a review item naming
	//       the colliding identity

	inner := memory.NewStore()
	ctx := context.Background()

	now := time.Now().UTC()
	existing := &identity.Identity{
		ID:            "existing-id",
		CanonicalName: "Dale Cooper",
		Status:        identity.StatusIncomplete,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, inner.CreateIdentity(ctx, existing, nil))

	cs := &collidingStore{Store: inner, existingID: existing.ID}
	index := identity.NewIndex(cs, match.NewScorer())
	resolver := resolve.NewResolver(index, inner, inner, resolve.DefaultConfig())

	out, err := resolver.Resolve(ctx, resolve.Request{SpokenName: "Tommy Rodriguez", ReportID: "r-1"})
	require.NoError(t, err)

	assert.Equal(t, resolve.KindNeedsReview, out.Kind)
	require.NotNil(t, out.Review)
	assert.Equal(t, review.SubjectAliasCollision, out.Review.Subject)
	require.NotEmpty(t, out.Review.Candidates)
	assert.Equal(t, existing.ID, out.Review.Candidates[0].IdentityID)
}
