package review_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/match"
	"github.com/warp/payroll-engine/review"
	"github.com/warp/payroll-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store *memory.Store
	index *identity.Index
	led   *ledger.Ledger
	queue *review.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	index := identity.NewIndex(store, match.NewScorer())
	led := ledger.New(store, store)
	return &fixture{
		store: store,
		index: index,
		led:   led,
		queue: review.NewQueue(store, index, led),
	}
}

func (f *fixture) activeIdentity(t *testing.T, name, number string, hourly, overtime float64) *identity.Identity {
	t.Helper()
	ctx := context.Background()
	ident, err := f.index.CreateIdentity(ctx, name, []string{name})
	require.NoError(t, err)
	ident, err = f.index.Activate(ctx, ident.ID, number,
		decimal.NewFromFloat(hourly), decimal.NewFromFloat(overtime))
	require.NoError(t, err)
	return ident
}

func (f *fixture) openItem(t *testing.T, item *review.Item) *review.Item {
	t.Helper()
	item.ID = uuid.NewString()
	item.Status = review.StatusOpen
	item.CreatedAt = time.Now().UTC()
	require.NoError(t, f.store.AddItem(context.Background(), item))
	return item
}

var reportDay = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

// =============================================================================
// AMBIGUOUS IDENTITY RESOLUTION
// =============================================================================

func TestResolveAmbiguous_ChoosingCandidate(t *testing.T) {
	// GIVEN: "Mike" was ambiguous between two identities; the tuple is
	//        held back on the item
	// WHEN: A human picks Michael Anderson
	// THEN: The held-back entry is created at Michael's rate, "mike"
	//       becomes his alias, and the item closes with the decision

	f := newFixture(t)
	ctx := context.Background()

	michael := f.activeIdentity(t, "Michael Anderson", "E-1", 30, 45)
	smith := f.activeIdentity(t, "Mike Smith", "E-2", 28, 42)

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectAmbiguousIdentity,
		SpokenName: "Mike",
		Candidates: []review.CandidateRef{
			{IdentityID: smith.ID, Score: 0.88},
			{IdentityID: michael.ID, Score: 0.72},
		},
		ReportID: "r-1",
		Tuple: &review.PendingTuple{
			ProjectID: "proj-1",
			Date:      reportDay,
			Seq:       0,
			Hours:     ledger.NewHours(8, 0, 0),
		},
	})

	ident, entry, err := f.queue.ResolveAmbiguous(ctx, item.ID, michael.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, michael.ID, ident.ID)
	require.NotNil(t, entry, "the held-back tuple is ledgered on resolution")
	assert.Equal(t, michael.ID, entry.IdentityID)
	assert.True(t, entry.TotalPay.Equal(decimal.NewFromInt(240)), "8h at Michael's $30")

	learned, err := f.index.LookupByAlias(ctx, "mike")
	require.NoError(t, err)
	require.NotNil(t, learned)
	assert.Equal(t, michael.ID, learned.ID, "the queue teaches the index")

	closed, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusResolved, closed.Status)
	assert.Equal(t, "chose "+michael.ID, closed.Resolution)
	assert.Equal(t, "admin", closed.ResolvedBy)
	require.NotNil(t, closed.ResolvedAt)
}

func TestResolveAmbiguous_HeldSeqCollision_GetsNextSeq(t *testing.T) {
	// GIVEN: Michael already has 8h at (r-1, seq 0) and the held "Mike"
	//        tuple carries the same report and sequence
	// WHEN: A human resolves the item to Michael
	// THEN: The held 6h ledger as a new entry on the next free sequence;
	//       the report totals 14h, nothing is swallowed by idempotency

	f := newFixture(t)
	ctx := context.Background()

	michael := f.activeIdentity(t, "Michael Anderson", "E-1", 30, 45)
	smith := f.activeIdentity(t, "Mike Smith", "E-2", 28, 42)

	existing, _, err := f.led.CreateEntry(ctx, ledger.CreateInput{
		ReportID: "r-1", IdentityID: michael.ID, ProjectID: "proj-1",
		Date: reportDay, Seq: 0, Hours: ledger.NewHours(8, 0, 0),
	})
	require.NoError(t, err)

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectAmbiguousIdentity,
		SpokenName: "Mike",
		Candidates: []review.CandidateRef{
			{IdentityID: smith.ID, Score: 0.88},
			{IdentityID: michael.ID, Score: 0.72},
		},
		ReportID: "r-1",
		Tuple: &review.PendingTuple{
			ProjectID: "proj-1",
			Date:      reportDay,
			Seq:       0,
			Hours:     ledger.NewHours(6, 0, 0),
		},
	})

	_, entry, err := f.queue.ResolveAmbiguous(ctx, item.ID, michael.ID, "admin")
	require.NoError(t, err)

	require.NotNil(t, entry)
	assert.NotEqual(t, existing.ID, entry.ID, "the held hours need their own entry")
	assert.Equal(t, 1, entry.Seq)
	assert.True(t, entry.Hours.Regular.Equal(decimal.NewFromInt(6)))

	entries, err := f.led.EntriesByReport(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Hours.Total())
	}
	assert.True(t, total.Equal(decimal.NewFromInt(14)), "8h existing plus 6h held")
}

func TestResolveAmbiguous_CreateNew(t *testing.T) {
	// GIVEN: An ambiguous item where neither candidate is right
	// WHEN: The human chooses create-new
	// THEN: A fresh Incomplete identity owns the spoken name and the
	//       held-back entry lands on it flagged missing_rate

	f := newFixture(t)
	ctx := context.Background()

	other := f.activeIdentity(t, "Marcus Webb", "E-1", 30, 45)

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectAmbiguousIdentity,
		SpokenName: "Mark Webber",
		Candidates: []review.CandidateRef{{IdentityID: other.ID, Score: 0.74}},
		ReportID:   "r-1",
		Tuple: &review.PendingTuple{
			ProjectID: "proj-1",
			Date:      reportDay,
			Seq:       0,
			Hours:     ledger.NewHours(8, 0, 0),
		},
	})

	ident, entry, err := f.queue.ResolveAmbiguous(ctx, item.ID, review.ChoiceCreateNew, "admin")
	require.NoError(t, err)

	assert.NotEqual(t, other.ID, ident.ID)
	assert.Equal(t, "Mark Webber", ident.CanonicalName)
	assert.Equal(t, identity.StatusIncomplete, ident.Status)

	require.NotNil(t, entry)
	assert.Equal(t, ident.ID, entry.IdentityID)
	assert.True(t, entry.NeedsReview, "no rate yet, so the entry carries the flag")
	assert.Contains(t, entry.ReviewReason, ledger.ReasonMissingRate)
}

func TestResolveAmbiguous_ReattributesExistingEntry(t *testing.T) {
	// GIVEN: An entry already booked under the wrong identity, referenced
	//        by the review item
	// WHEN: The human picks the other identity
	// THEN: The entry is superseded and re-issued under the chosen one

	f := newFixture(t)
	ctx := context.Background()

	wrong := f.activeIdentity(t, "Mike Smith", "E-1", 30, 45)
	right := f.activeIdentity(t, "Michael Anderson", "E-2", 40, 60)

	booked, _, err := f.led.CreateEntry(ctx, ledger.CreateInput{
		ReportID:   "r-1",
		IdentityID: wrong.ID,
		ProjectID:  "proj-1",
		Date:       reportDay,
		Seq:        0,
		Hours:      ledger.NewHours(8, 0, 0),
	})
	require.NoError(t, err)

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectAmbiguousIdentity,
		SpokenName: "Mike A",
		Candidates: []review.CandidateRef{{IdentityID: wrong.ID, Score: 0.9}, {IdentityID: right.ID, Score: 0.85}},
		ReportID:   "r-1",
		EntryID:    booked.ID,
	})

	_, entry, err := f.queue.ResolveAmbiguous(ctx, item.ID, right.ID, "admin")
	require.NoError(t, err)

	require.NotNil(t, entry)
	assert.Equal(t, right.ID, entry.IdentityID)
	assert.Equal(t, booked.ID, entry.OriginalEntryID)

	original, err := f.store.GetEntry(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuperseded, original.Status)
}

func TestResolveAmbiguous_Finality(t *testing.T) {
	// GIVEN: A resolved ambiguous item
	// WHEN: Resolving it again
	// THEN: ErrAlreadyResolved - decisions are final

	f := newFixture(t)
	ctx := context.Background()

	michael := f.activeIdentity(t, "Michael Anderson", "E-1", 30, 45)

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectAmbiguousIdentity,
		SpokenName: "Mike",
		Candidates: []review.CandidateRef{{IdentityID: michael.ID, Score: 0.72}},
		ReportID:   "r-1",
	})

	_, _, err := f.queue.ResolveAmbiguous(ctx, item.ID, michael.ID, "admin")
	require.NoError(t, err)

	_, _, err = f.queue.ResolveAmbiguous(ctx, item.ID, michael.ID, "admin")
	assert.ErrorIs(t, err, review.ErrAlreadyResolved)
}

func TestResolveAmbiguous_RejectsWrongSubject(t *testing.T) {
	// GIVEN: An entry-incomplete item
	// WHEN: Pushing it through the ambiguous-identity resolution
	// THEN: The mismatch is an error, the item stays open

	f := newFixture(t)
	ctx := context.Background()

	michael := f.activeIdentity(t, "Michael Anderson", "E-1", 30, 45)

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectEntryIncomplete,
		SpokenName: "Mike",
		ReportID:   "r-1",
		EntryID:    "entry-1",
	})

	_, _, err := f.queue.ResolveAmbiguous(ctx, item.ID, michael.ID, "admin")
	require.Error(t, err)

	still, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusOpen, still.Status)
}

func TestResolveAmbiguous_MergedChoiceRejected(t *testing.T) {
	// GIVEN: The chosen candidate was merged away since the item was queued
	// WHEN: Resolving with the tombstone's id
	// THEN: ErrAlreadyMerged

	f := newFixture(t)
	ctx := context.Background()

	source := f.activeIdentity(t, "Bob Martinez", "E-1", 30, 45)
	target := f.activeIdentity(t, "Robert Martinez", "E-2", 30, 45)
	require.NoError(t, f.index.MergeIdentity(ctx, source.ID, target.ID, "admin"))

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectAmbiguousIdentity,
		SpokenName: "Bobby",
		Candidates: []review.CandidateRef{{IdentityID: source.ID, Score: 0.8}},
		ReportID:   "r-1",
	})

	_, _, err := f.queue.ResolveAmbiguous(ctx, item.ID, source.ID, "admin")
	assert.ErrorIs(t, err, identity.ErrAlreadyMerged)
}

// =============================================================================
// INCOMPLETE ENTRY RESOLUTION
// =============================================================================

func TestResolveIncompleteEntry_AppliesCorrection(t *testing.T) {
	// GIVEN: A zero-pay entry flagged missing_rate, queued for review,
	//        and the identity has since been activated at $30/h
	// WHEN: The reviewer resolves the item
	// THEN: A correction replaces the entry with real pay and the item closes

	f := newFixture(t)
	ctx := context.Background()

	tommy, err := f.index.CreateIdentity(ctx, "Tommy Rodriguez", []string{"Tommy Rodriguez"})
	require.NoError(t, err)

	flagged, _, err := f.led.CreateEntry(ctx, ledger.CreateInput{
		ReportID:   "r-1",
		IdentityID: tommy.ID,
		ProjectID:  "proj-1",
		Date:       reportDay,
		Seq:        0,
		Hours:      ledger.NewHours(8, 0, 0),
	})
	require.NoError(t, err)
	require.True(t, flagged.NeedsReview)

	item := f.openItem(t, &review.Item{
		Subject:    review.SubjectEntryIncomplete,
		SpokenName: "Tommy Rodriguez",
		ReportID:   "r-1",
		EntryID:    flagged.ID,
	})

	_, err = f.index.Activate(ctx, tommy.ID, "E-7", decimal.NewFromInt(30), decimal.NewFromInt(45))
	require.NoError(t, err)

	entry, err := f.queue.ResolveIncompleteEntry(ctx, item.ID, nil, "rate supplied", "admin")
	require.NoError(t, err)

	assert.True(t, entry.TotalPay.Equal(decimal.NewFromInt(240)), "8h at the supplied $30")
	assert.False(t, entry.NeedsReview)

	closed, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusResolved, closed.Status)

	_, err = f.queue.ResolveIncompleteEntry(ctx, item.ID, nil, "again", "admin")
	assert.ErrorIs(t, err, review.ErrAlreadyResolved)
}

// =============================================================================
// LISTING
// =============================================================================

func TestList_OpenOnlyByDefault(t *testing.T) {
	// GIVEN: One open and one resolved item
	// WHEN: Listing open-only and listing all
	// THEN: Open-only hides the resolved item; all shows both

	f := newFixture(t)
	ctx := context.Background()

	michael := f.activeIdentity(t, "Michael Anderson", "E-1", 30, 45)

	resolved := f.openItem(t, &review.Item{
		Subject:    review.SubjectAmbiguousIdentity,
		SpokenName: "Mike",
		Candidates: []review.CandidateRef{{IdentityID: michael.ID, Score: 0.72}},
		ReportID:   "r-1",
	})
	open := f.openItem(t, &review.Item{
		Subject:    review.SubjectEntryIncomplete,
		SpokenName: "Sarah",
		ReportID:   "r-2",
		EntryID:    "entry-2",
	})

	_, _, err := f.queue.ResolveAmbiguous(ctx, resolved.ID, michael.ID, "admin")
	require.NoError(t, err)

	openItems, err := f.queue.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, openItems, 1)
	assert.Equal(t, open.ID, openItems[0].ID)

	all, err := f.queue.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
