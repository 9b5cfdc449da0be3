package ledger_test

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
	"github.com/warp/payroll-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return ledger.New(store, store), store
}

func seedActive(t *testing.T, store *memory.Store, name, number string, hourly, overtime float64) *identity.Identity {
	t.Helper()
	h := decimal.NewFromFloat(hourly)
	o := decimal.NewFromFloat(overtime)
	now := time.Now().UTC()
	ident := &identity.Identity{
		ID:             uuid.NewString(),
		CanonicalName:  name,
		EmployeeNumber: number,
		HourlyRate:     &h,
		OvertimeRate:   &o,
		Status:         identity.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateIdentity(context.Background(), ident, []string{match.Normalize(name)}))
	return ident
}

func seedIncomplete(t *testing.T, store *memory.Store, name string) *identity.Identity {
	t.Helper()
	now := time.Now().UTC()
	ident := &identity.Identity{
		ID:            uuid.NewString(),
		CanonicalName: name,
		Status:        identity.StatusIncomplete,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateIdentity(context.Background(), ident, []string{match.Normalize(name)}))
	return ident
}

func setRates(t *testing.T, store *memory.Store, id string, hourly, overtime float64) {
	t.Helper()
	ctx := context.Background()
	ident, err := store.GetIdentity(ctx, id)
	require.NoError(t, err)
	h := decimal.NewFromFloat(hourly)
	o := decimal.NewFromFloat(overtime)
	ident.HourlyRate = &h
	ident.OvertimeRate = &o
	ident.Status = identity.StatusActive
	require.NoError(t, store.UpdateIdentity(ctx, ident))
}

var march10 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func entryInput(reportID string, ident *identity.Identity, seq int, regular, overtime float64) ledger.CreateInput {
	return ledger.CreateInput{
		ReportID:   reportID,
		IdentityID: ident.ID,
		ProjectID:  "proj-1",
		Date:       march10,
		Seq:        seq,
		Hours:      ledger.NewHours(regular, overtime, 0),
	}
}

// =============================================================================
// RATE SNAPSHOT TESTS
// =============================================================================

func TestCreateEntry_FreezesRateSnapshot(t *testing.T) {
	// GIVEN: Maria works 10 regular hours at $30/h
	// WHEN: Her rate is raised to $35/h and she works another 10 hours
	// THEN: The old entry still pays $300; only the new one pays $350

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	before, created, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 10, 0))
	require.NoError(t, err)
	require.True(t, created)
	assert.True(t, before.TotalPay.Equal(decimal.NewFromInt(300)), "10h at $30")

	setRates(t, store, maria.ID, 35, 52.5)

	after, _, err := led.CreateEntry(ctx, entryInput("r-2", maria, 0, 10, 0))
	require.NoError(t, err)
	assert.True(t, after.TotalPay.Equal(decimal.NewFromInt(350)), "10h at the new $35")

	reread, err := store.GetEntry(ctx, before.ID)
	require.NoError(t, err)
	assert.True(t, reread.Rate.Hourly.Equal(decimal.NewFromInt(30)), "snapshot is never re-read")
	assert.True(t, reread.TotalPay.Equal(decimal.NewFromInt(300)))
}

func TestCreateEntry_OvertimeAndDoubletimePay(t *testing.T) {
	// GIVEN: An identity at $30/h regular, $45/h overtime
	// WHEN: Recording 8 regular + 2 overtime + 1 doubletime hours
	// THEN: Pay is 8*30 + 2*45 + 1*60 = $390 (doubletime is twice hourly)

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	in := entryInput("r-1", maria, 0, 8, 2)
	in.Hours.Doubletime = decimal.NewFromInt(1)

	entry, _, err := led.CreateEntry(ctx, in)
	require.NoError(t, err)
	assert.True(t, entry.TotalPay.Equal(decimal.NewFromInt(390)), "got %s", entry.TotalPay)
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestCreateEntry_Idempotent(t *testing.T) {
	// GIVEN: An entry for (report r-1, Maria, seq 0)
	// WHEN: The same tuple is submitted again
	// THEN: The existing entry comes back unchanged, created=false

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	first, created, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 8, 0))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 8, 0))
	require.NoError(t, err)
	assert.False(t, created, "reprocessing must not duplicate")
	assert.Equal(t, first.ID, second.ID)

	entries, err := led.EntriesByReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCreateEntry_SplitShiftGetsOwnSeq(t *testing.T) {
	// GIVEN: Maria worked a split shift reported as two tuples
	// WHEN: They arrive with seq 0 and seq 1
	// THEN: Both are recorded as distinct entries

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	_, created, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 4, 0))
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = led.CreateEntry(ctx, entryInput("r-1", maria, 1, 5, 0))
	require.NoError(t, err)
	assert.True(t, created, "a new seq is a genuinely new tuple")

	entries, err := led.EntriesByReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// =============================================================================
// FLAG, DON'T DROP TESTS
// =============================================================================

func TestCreateEntry_MissingRate_FlagsZeroPay(t *testing.T) {
	// GIVEN: Tommy's identity is still Incomplete (no rates)
	// WHEN: His hours are reported
	// THEN: The entry is recorded at zero pay and flagged, never dropped

	led, store := newTestLedger(t)
	ctx := context.Background()

	tommy := seedIncomplete(t, store, "Tommy Rodriguez")

	entry, created, err := led.CreateEntry(ctx, entryInput("r-1", tommy, 0, 8, 0))
	require.NoError(t, err)
	require.True(t, created)

	assert.True(t, entry.NeedsReview)
	assert.Contains(t, entry.ReviewReason, ledger.ReasonMissingRate)
	assert.True(t, entry.TotalPay.IsZero())
	assert.Equal(t, ledger.StatusPending, entry.Status, "flagged entries still enter the normal lifecycle")
}

func TestCreateEntry_HoursExceedDay_FlaggedNotRejected(t *testing.T) {
	// GIVEN: A tuple claiming 26 hours in one day
	// WHEN: It is ledgered
	// THEN: The entry exists, flagged hours_exceed_day, pay computed as reported

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	entry, _, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 20, 6))
	require.NoError(t, err)

	assert.True(t, entry.NeedsReview)
	assert.Contains(t, entry.ReviewReason, ledger.ReasonHoursExceedDay)
	assert.True(t, entry.TotalPay.Equal(decimal.NewFromInt(870)), "20*30 + 6*45, recorded as reported")
}

func TestCreateEntry_NegativeHours_FailHard(t *testing.T) {
	// GIVEN: A tuple with negative overtime
	// WHEN: It is ledgered
	// THEN: Hard failure naming the component; nothing is recorded

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	_, _, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 8, -1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidHours)

	var invalid *ledger.InvalidHoursError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "overtime", invalid.Component)

	entries, err := led.EntriesByReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// CORRECTION TESTS
// =============================================================================

func TestCorrectEntry_SupersedesAtFrozenRate(t *testing.T) {
	// GIVEN: An entry of 10h at $30, and a rate raise to $99 afterwards
	// WHEN: The hours are corrected down to 8
	// THEN: The replacement pays 8*$30 from the original snapshot, the
	//       original is superseded, and sums see only the replacement

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	original, _, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 10, 0))
	require.NoError(t, err)

	setRates(t, store, maria.ID, 99, 148.5)

	hours := ledger.NewHours(8, 0, 0)
	replacement, err := led.CorrectEntry(ctx, original.ID, &hours, "overstated hours", "admin")
	require.NoError(t, err)

	assert.True(t, replacement.Rate.Hourly.Equal(decimal.NewFromInt(30)), "correction keeps the original snapshot")
	assert.True(t, replacement.TotalPay.Equal(decimal.NewFromInt(240)))
	assert.Equal(t, original.ID, replacement.OriginalEntryID)
	assert.Equal(t, "overstated hours", replacement.CorrectionReason)
	assert.Equal(t, ledger.StatusPending, replacement.Status)

	superseded, err := store.GetEntry(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuperseded, superseded.Status)
	assert.True(t, superseded.TotalPay.Equal(decimal.NewFromInt(300)), "history is immutable")

	sum, err := ledger.NewAggregator(store).HoursForIdentity(ctx, maria.ID, march10, march10)
	require.NoError(t, err)
	assert.True(t, sum.Regular.Equal(decimal.NewFromInt(8)), "only the replacement counts")
	assert.True(t, sum.TotalPay.Equal(decimal.NewFromInt(240)))
}

func TestCorrectEntry_AlreadySuperseded(t *testing.T) {
	// GIVEN: An entry that was already corrected
	// WHEN: Correcting the original again
	// THEN: ErrAlreadySuperseded - the chain only moves forward

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	original, _, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 10, 0))
	require.NoError(t, err)

	_, err = led.CorrectEntry(ctx, original.ID, nil, "first fix", "admin")
	require.NoError(t, err)

	_, err = led.CorrectEntry(ctx, original.ID, nil, "second fix", "admin")
	assert.ErrorIs(t, err, ledger.ErrAlreadySuperseded)
}

func TestCorrectEntry_MissingRate_RereadsIdentityOnce(t *testing.T) {
	// GIVEN: An entry flagged missing_rate because the identity was Incomplete
	// WHEN: The identity gains rates and the entry is corrected
	// THEN: The replacement uses the now-known rate and drops the flag

	led, store := newTestLedger(t)
	ctx := context.Background()

	tommy := seedIncomplete(t, store, "Tommy Rodriguez")

	flagged, _, err := led.CreateEntry(ctx, entryInput("r-1", tommy, 0, 8, 0))
	require.NoError(t, err)
	require.True(t, flagged.NeedsReview)

	setRates(t, store, tommy.ID, 28, 42)

	replacement, err := led.CorrectEntry(ctx, flagged.ID, nil, "rate supplied", "admin")
	require.NoError(t, err)

	assert.True(t, replacement.Rate.Hourly.Equal(decimal.NewFromInt(28)))
	assert.True(t, replacement.TotalPay.Equal(decimal.NewFromInt(224)), "8h at the supplied $28")
	assert.False(t, replacement.NeedsReview, "flag cleared once the rate exists")
}

func TestCorrectEntry_RejectedEntry(t *testing.T) {
	// GIVEN: A rejected entry
	// WHEN: Correcting it
	// THEN: ErrEntryRejected - rejected hours never happened, re-enter instead

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	entry, _, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 10, 0))
	require.NoError(t, err)
	require.NoError(t, led.Reject(ctx, entry.ID, "admin", "never on site"))

	_, err = led.CorrectEntry(ctx, entry.ID, nil, "fix", "admin")
	assert.ErrorIs(t, err, ledger.ErrEntryRejected)
}

// =============================================================================
// REATTRIBUTION TESTS
// =============================================================================

func TestReattribute_MovesEntryToNewIdentity(t *testing.T) {
	// GIVEN: An entry booked under the wrong person ($30/h)
	// WHEN: It is reattributed to the right person ($40/h)
	// THEN: The replacement carries the new identity's fresh rate; sums
	//       move from the wrong person to the right one

	led, store := newTestLedger(t)
	ctx := context.Background()

	wrong := seedActive(t, store, "Mike Smith", "E-1", 30, 45)
	right := seedActive(t, store, "Michael Anderson", "E-2", 40, 60)

	original, _, err := led.CreateEntry(ctx, entryInput("r-1", wrong, 0, 8, 0))
	require.NoError(t, err)

	replacement, err := led.Reattribute(ctx, original.ID, right.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, right.ID, replacement.IdentityID)
	assert.True(t, replacement.Rate.Hourly.Equal(decimal.NewFromInt(40)), "reattribution snapshots the NEW identity")
	assert.True(t, replacement.TotalPay.Equal(decimal.NewFromInt(320)))

	agg := ledger.NewAggregator(store)
	wrongSum, err := agg.HoursForIdentity(ctx, wrong.ID, march10, march10)
	require.NoError(t, err)
	assert.True(t, wrongSum.Regular.IsZero(), "the wrong person's sum drops to zero")

	rightSum, err := agg.HoursForIdentity(ctx, right.ID, march10, march10)
	require.NoError(t, err)
	assert.True(t, rightSum.Regular.Equal(decimal.NewFromInt(8)))
}

// =============================================================================
// SIGN-OFF TESTS
// =============================================================================

func TestApproveAndReject_Transitions(t *testing.T) {
	// GIVEN: Two pending entries
	// WHEN: One is approved and one rejected; then each transition repeats
	// THEN: First transitions succeed, repeats fail with ErrNotPending

	led, store := newTestLedger(t)
	ctx := context.Background()

	maria := seedActive(t, store, "Maria Lopez", "E-12", 30, 45)

	first, _, err := led.CreateEntry(ctx, entryInput("r-1", maria, 0, 8, 0))
	require.NoError(t, err)
	second, _, err := led.CreateEntry(ctx, entryInput("r-1", maria, 1, 4, 0))
	require.NoError(t, err)

	require.NoError(t, led.Approve(ctx, first.ID, "supervisor"))
	require.NoError(t, led.Reject(ctx, second.ID, "supervisor", "not on site"))

	approved, err := store.GetEntry(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, approved.Status)
	assert.Equal(t, "supervisor", approved.StatusChangedBy)

	rejected, err := store.GetEntry(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, rejected.Status)
	assert.Equal(t, "not on site", rejected.StatusReason)

	assert.ErrorIs(t, led.Approve(ctx, first.ID, "supervisor"), ledger.ErrNotPending)
	assert.ErrorIs(t, led.Reject(ctx, first.ID, "supervisor", "x"), ledger.ErrNotPending)
}
