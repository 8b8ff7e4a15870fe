package consumption_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
	"github.com/warp/meal-ledger/store/memory"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var april2025 = generic.NewMonthKey(2025, time.April)

type fixture struct {
	ctx   context.Context
	svc   *consumption.Service
	store *memory.TxMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewTxMemory()
	return &fixture{
		ctx:   context.Background(),
		store: store,
		svc: consumption.NewService(consumption.ServiceParam{
			Store: store,
			Clock: generic.FixedClock{At: time.Date(2025, time.March, 20, 9, 30, 0, 0, time.UTC)},
			Log:   zaptest.NewLogger(t),
		}),
	}
}

// configure saves a 0.1 kg/student rice configuration with the given opening
// and a confirmed amount configuration.
func (f *fixture) configure(t *testing.T, month generic.MonthKey, opening generic.BySegment) {
	t.Helper()
	f.saveRice(t, month, opening)
	amount := *confirmedAmount()
	amount.Month = month
	_, err := f.svc.SaveAmountConfig(f.ctx, amount, "admin")
	require.NoError(t, err)
}

func (f *fixture) saveRice(t *testing.T, month generic.MonthKey, opening generic.BySegment) {
	t.Helper()
	_, err := f.svc.SaveRiceConfig(f.ctx, consumption.RiceConfig{
		School:  testSchool,
		Month:   month,
		Rate:    kgs("0.1", "0.1"),
		Opening: opening,
	}, "admin")
	require.NoError(t, err)
}

func (f *fixture) serve(t *testing.T, date generic.TimePoint, primary, middle int) *consumption.EntryResult {
	t.Helper()
	res, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{
		School: testSchool, Date: date, ServedPrimary: primary, ServedMiddle: middle,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) complete(t *testing.T, month generic.MonthKey) *consumption.CompletionSnapshot {
	t.Helper()
	snap, err := f.svc.CompleteMonth(f.ctx, consumption.CompleteInput{School: testSchool, Month: month, CompletedBy: "headmaster"})
	require.NoError(t, err)
	return snap
}

func (f *fixture) summary(t *testing.T, month generic.MonthKey) *consumption.MonthSummary {
	t.Helper()
	sum, err := f.svc.GetMonthSummary(f.ctx, testSchool, month)
	require.NoError(t, err)
	return sum
}

func aprilDay(d int) generic.TimePoint { return generic.NewTimePoint(2025, time.April, d) }

// =============================================================================
// DAILY ENTRIES
// =============================================================================

func TestService_EntriesDrawDownStock(t *testing.T) {
	// GIVEN: 100 kg opening at 0.1 kg per student
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))

	// WHEN: 200 then 300 students are served
	d1 := f.serve(t, day(1), 200, 0)
	d2 := f.serve(t, day(2), 300, 0)

	// THEN
	assertDecimal(t, "20", d1.RiceConsumed().Value)
	assertDecimal(t, "80", d1.RiceBalanceAfter().Value)
	assertDecimal(t, "30", d2.RiceConsumed().Value)
	assertDecimal(t, "50", d2.RiceBalanceAfter().Value)
	assertDecimal(t, "1635", d2.AmountConsumed().Value)
	assert.Empty(t, d2.Anomalies)
}

func TestService_DeleteReplaysLaterDays(t *testing.T) {
	// GIVEN: Two days recorded
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 200, 0)
	f.serve(t, day(2), 300, 0)

	// WHEN: Day 1 is deleted
	res, err := f.svc.DeleteDailyEntry(f.ctx, testSchool, day(1))

	// THEN: Day 2 now draws from the full opening
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assertDecimal(t, "70", res.Entries[0].RiceBalanceAfterTotal().Value)

	stored, err := f.store.GetEntry(f.ctx, testSchool, day(2))
	require.NoError(t, err)
	assertDecimal(t, "70", stored.RiceBalanceAfterTotal().Value)
	assertDecimal(t, "1635", stored.AmountCumulative.Value)
}

func TestService_RetroactiveEditReplaysMonth(t *testing.T) {
	// GIVEN: Days 1, 2 and 3 recorded
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 200, 0)
	f.serve(t, day(2), 300, 0)
	f.serve(t, day(3), 100, 0)

	// WHEN: Day 1 is corrected from 200 to 100 students
	res, err := f.svc.UpdateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(1), ServedPrimary: 100})
	require.NoError(t, err)

	// THEN: Every later balance moves up by 10 kg
	assertDecimal(t, "90", res.RiceBalanceAfter().Value)
	sum := f.summary(t, march2025)
	require.Len(t, sum.Days, 3)
	assertDecimal(t, "60", sum.Days[1].RiceBalanceAfterTotal().Value)
	assertDecimal(t, "50", sum.Days[2].RiceBalanceAfterTotal().Value)
	assertDecimal(t, "50", sum.Closing.Total().Value)
}

func TestService_OutOfOrderWritesMatchInOrderWrites(t *testing.T) {
	// GIVEN: Two schools with the same data entered in different orders
	f := newFixture(t)
	other := generic.SchoolID("school-2")
	f.configure(t, march2025, kgs("100", "0"))
	_, err := f.svc.SaveRiceConfig(f.ctx, consumption.RiceConfig{School: other, Month: march2025, Rate: kgs("0.1", "0.1"), Opening: kgs("100", "0")}, "admin")
	require.NoError(t, err)
	amount := *confirmedAmount()
	amount.School = other
	_, err = f.svc.SaveAmountConfig(f.ctx, amount, "admin")
	require.NoError(t, err)

	// WHEN
	for _, d := range []int{1, 2, 3} {
		f.serve(t, day(d), 100*d, 0)
	}
	for _, d := range []int{3, 1, 2} {
		_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: other, Date: day(d), ServedPrimary: 100 * d})
		require.NoError(t, err)
	}

	// THEN
	a := f.summary(t, march2025)
	b, err := f.svc.GetMonthSummary(f.ctx, other, march2025)
	require.NoError(t, err)
	for i := range a.Days {
		assertDecimal(t, a.Days[i].RiceBalanceAfterTotal().Value.String(), b.Days[i].RiceBalanceAfterTotal().Value)
		assertDecimal(t, a.Days[i].AmountCumulative.Value.String(), b.Days[i].AmountCumulative.Value)
	}
}

func TestService_DuplicateAndMissingEntries(t *testing.T) {
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 10, 0)

	// Second create for the same day
	_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(1), ServedPrimary: 20})
	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)

	// Update of a missing day
	_, err = f.svc.UpdateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(2), ServedPrimary: 20})
	assert.ErrorIs(t, err, generic.ErrEntryNotFound)

	// Delete of a missing day
	_, err = f.svc.DeleteDailyEntry(f.ctx, testSchool, day(9))
	assert.ErrorIs(t, err, generic.ErrEntryNotFound)

	// Upsert takes both paths
	res, err := f.svc.CreateOrUpdateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(1), ServedPrimary: 50, Remarks: "corrected"})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Entry.ServedPrimary)
	assert.Equal(t, "corrected", res.Entry.Remarks)
	_, err = f.svc.CreateOrUpdateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(2), ServedPrimary: 50})
	require.NoError(t, err)
	assert.Len(t, f.summary(t, march2025).Days, 2)
}

func TestService_EntryValidation(t *testing.T) {
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))

	_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(1), ServedPrimary: -1})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, ServedPrimary: 1})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestService_EntryRequiresConfiguration(t *testing.T) {
	// GIVEN: No configuration at all
	f := newFixture(t)

	// WHEN
	_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(1), ServedPrimary: 10})

	// THEN: Both configurations are reported missing
	var cfgErr *generic.ConfigurationIncompleteError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Missing, "rice configuration")
	assert.Contains(t, cfgErr.Missing, "amount configuration")
}

func TestService_ShortfallIsReportedNotRejected(t *testing.T) {
	// GIVEN: 5 kg of primary stock
	f := newFixture(t)
	f.configure(t, march2025, kgs("5", "0"))

	// WHEN: 100 students need 10 kg
	res := f.serve(t, day(1), 100, 0)

	// THEN: The entry is saved, clamped and flagged
	assertDecimal(t, "10", res.RiceConsumed().Value)
	assertDecimal(t, "0", res.RiceBalanceAfter().Value)
	assert.True(t, res.Entry.StockAnomaly)
	require.Len(t, res.Anomalies, 1)
	assertDecimal(t, "5", res.Anomalies[0].Shortfall.Value)
}

func TestService_ConcurrentWritesKeepBalanceConsistent(t *testing.T) {
	// GIVEN: A configured month
	f := newFixture(t)
	f.configure(t, march2025, kgs("1000", "1000"))

	// WHEN: 20 days are written concurrently
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for d := 1; d <= 20; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(d), ServedPrimary: 100, ServedMiddle: 50})
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN: Each day is exactly 10 kg + 5 kg below the previous one
	sum := f.summary(t, march2025)
	require.Len(t, sum.Days, 20)
	for i, e := range sum.Days {
		assertDecimal(t, fmt.Sprint(1000-10*(i+1)), e.RiceBalanceAfter.Primary.Value)
		assertDecimal(t, fmt.Sprint(1000-5*(i+1)), e.RiceBalanceAfter.Middle.Value)
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestService_RiceConfigChangeReplaysEntries(t *testing.T) {
	// GIVEN: One day at 0.1 kg per student
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 200, 0)

	// WHEN: The rate and lifted stock are corrected
	_, err := f.svc.SaveRiceConfig(f.ctx, consumption.RiceConfig{
		School: testSchool, Month: march2025,
		Rate: kgs("0.15", "0.15"), Opening: kgs("100", "0"), Lifted: kgs("20", "0"),
	}, "admin")
	require.NoError(t, err)

	// THEN: 120 kg available, 30 kg consumed
	sum := f.summary(t, march2025)
	assertDecimal(t, "120", sum.Opening.Total().Value)
	assertDecimal(t, "90", sum.Days[0].RiceBalanceAfterTotal().Value)
}

func TestService_DraftAmountConfig(t *testing.T) {
	// GIVEN: Rice configured, salt percentages summing to 95
	f := newFixture(t)
	f.saveRice(t, march2025, kgs("100", "0"))
	draft := *confirmedAmount()
	draft.Salt.OtherCondiments = dec("10")

	// WHEN: The draft is saved before any entry exists
	saved, err := f.svc.SaveAmountConfig(f.ctx, draft, "admin")

	// THEN: It is stored unconfirmed and entries are blocked
	require.NoError(t, err)
	assert.False(t, saved.Confirmed)
	_, amount, err := f.svc.GetConfig(f.ctx, testSchool, march2025)
	require.NoError(t, err)
	require.NotNil(t, amount)
	assert.False(t, amount.Confirmed)

	_, err = f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(1), ServedPrimary: 10})
	var cfgErr *generic.ConfigurationIncompleteError
	require.ErrorAs(t, err, &cfgErr)
	require.NotNil(t, cfgErr.Shortfall)
	assertDecimal(t, "5", *cfgErr.Shortfall)

	_, err = f.svc.CompleteMonth(f.ctx, consumption.CompleteInput{School: testSchool, Month: march2025})
	assert.ErrorIs(t, err, generic.ErrConfigurationIncomplete)
}

func TestService_DraftRejectedOnceEntriesExist(t *testing.T) {
	// GIVEN: A confirmed configuration with entries
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 10, 0)

	// WHEN: An invalid split is saved
	draft := *confirmedAmount()
	draft.Salt.CommonSalt = dec("50")
	_, err := f.svc.SaveAmountConfig(f.ctx, draft, "admin")

	// THEN: It is rejected and the confirmed configuration survives
	var cfgErr *generic.ConfigurationIncompleteError
	require.ErrorAs(t, err, &cfgErr)
	assertDecimal(t, "120", *cfgErr.PercentageSum)
	assertDecimal(t, "-20", *cfgErr.Shortfall)

	_, amount, err := f.svc.GetConfig(f.ctx, testSchool, march2025)
	require.NoError(t, err)
	assert.True(t, amount.Confirmed)
	assertDecimal(t, "30", amount.Salt.CommonSalt)
}

func TestService_SummarySplitsSalt(t *testing.T) {
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "100"))
	f.serve(t, day(1), 20, 0)

	sum := f.summary(t, march2025)

	// 20 × ₹0.50 = ₹10 of salt, split 30/20/20/15/15
	require.NotNil(t, sum.Salt)
	assertDecimal(t, "3", sum.Salt.Primary.CommonSalt)
	assertDecimal(t, "1.5", sum.Salt.Primary.OtherCondiments)
	assert.True(t, sum.AmountConfirmed)
	assert.Equal(t, 1, sum.Totals.DaysServed)
	assert.Equal(t, 20, sum.Totals.Students.Total())
	assertDecimal(t, "109", sum.Totals.Cumulative.Value)
}

// =============================================================================
// LOCKING
// =============================================================================

func TestService_LockedMonthRejectsWrites(t *testing.T) {
	// GIVEN: A locked month
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 10, 0)
	rec, err := f.svc.ToggleLock(f.ctx, testSchool, march2025, true, "district audit", "officer")
	require.NoError(t, err)
	assert.True(t, rec.Locked)

	// WHEN / THEN: Every write is rejected with the reason
	_, err = f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(2), ServedPrimary: 10})
	var locked *generic.MonthLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "district audit", locked.Reason)

	_, err = f.svc.DeleteDailyEntry(f.ctx, testSchool, day(1))
	assert.ErrorIs(t, err, generic.ErrMonthLocked)
	_, err = f.svc.SaveRiceConfig(f.ctx, consumption.RiceConfig{School: testSchool, Month: march2025, Rate: kgs("0.1", "0.1")}, "admin")
	assert.ErrorIs(t, err, generic.ErrMonthLocked)
	_, err = f.svc.CompleteMonth(f.ctx, consumption.CompleteInput{School: testSchool, Month: march2025})
	assert.ErrorIs(t, err, generic.ErrMonthLocked)

	// Unlocking restores writes
	_, err = f.svc.ToggleLock(f.ctx, testSchool, march2025, false, "", "officer")
	require.NoError(t, err)
	f.serve(t, day(2), 10, 0)
}

// =============================================================================
// MONTH LIFECYCLE
// =============================================================================

func TestService_CompleteRequiresConfiguration(t *testing.T) {
	// GIVEN: Only the rice configuration
	f := newFixture(t)
	f.saveRice(t, march2025, kgs("100", "0"))

	// WHEN
	_, err := f.svc.CompleteMonth(f.ctx, consumption.CompleteInput{School: testSchool, Month: march2025})

	// THEN: The month stays open with no snapshot
	var cfgErr *generic.ConfigurationIncompleteError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"amount configuration not completed"}, cfgErr.Missing)
	assert.Equal(t, consumption.MonthOpen, f.summary(t, march2025).State)
	snaps, err := f.svc.ListCompletions(f.ctx, testSchool, march2025)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestService_CompleteRequiresEntries(t *testing.T) {
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))

	_, err := f.svc.CompleteMonth(f.ctx, consumption.CompleteInput{School: testSchool, Month: march2025})

	assert.ErrorIs(t, err, generic.ErrNoEntries)
	assert.Equal(t, consumption.MonthOpen, f.summary(t, march2025).State)
	next, err := f.store.GetMonth(f.ctx, testSchool, april2025)
	require.NoError(t, err)
	assert.Nil(t, next, "nothing is carried forward")
}

func TestService_CompleteCarriesClosingForward(t *testing.T) {
	// GIVEN: March with 100/50 kg opening and two days served
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "50"))
	f.serve(t, day(1), 200, 100)
	f.serve(t, day(2), 100, 100)

	// WHEN
	snap := f.complete(t, march2025)

	// THEN: Snapshot freezes the month
	assert.Equal(t, 1, snap.Revision)
	assert.NotEmpty(t, snap.ID)
	assertDecimal(t, "70", snap.ClosingRice.Primary.Value)
	assertDecimal(t, "30", snap.ClosingRice.Middle.Value)
	assertDecimal(t, "150", snap.Opening.Total().Value)
	assert.Equal(t, 2, snap.DaysServed)
	assert.Equal(t, 500, snap.StudentsServed.Total())
	assertDecimal(t, "2725", snap.ClosingAmount.Value)
	assert.False(t, snap.Stale)

	march := f.summary(t, march2025)
	assert.Equal(t, consumption.MonthCompleted, march.State)

	// AND: April opens with March's closing
	april := f.summary(t, april2025)
	assertDecimal(t, "70", april.Opening.Primary.Value)
	assertDecimal(t, "30", april.Opening.Middle.Value)
}

func TestService_CarriedOpeningBeatsConfiguredOpening(t *testing.T) {
	// GIVEN: March completed with 70 kg primary left
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 300, 0)
	f.complete(t, march2025)

	// WHEN: April is configured with its own opening and lifted stock
	_, err := f.svc.SaveRiceConfig(f.ctx, consumption.RiceConfig{
		School: testSchool, Month: april2025,
		Rate: kgs("0.1", "0.1"), Opening: kgs("999", "999"), Lifted: kgs("10", "0"),
	}, "admin")
	require.NoError(t, err)

	// THEN: April starts from the carried 70 kg plus lifted rice
	april := f.summary(t, april2025)
	assertDecimal(t, "80", april.Opening.Primary.Value)
	assertDecimal(t, "0", april.Opening.Middle.Value)
}

func TestService_CompleteReconcilesConfiguredNextMonth(t *testing.T) {
	// GIVEN: April already has entries against its own opening
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 500, 0)
	f.configure(t, april2025, kgs("0", "0"))
	_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: aprilDay(1), ServedPrimary: 100})
	require.NoError(t, err)

	// WHEN: March is completed with 50 kg left
	f.complete(t, march2025)

	// THEN: April's entries are replayed from the carried stock
	stored, err := f.store.GetEntry(f.ctx, testSchool, aprilDay(1))
	require.NoError(t, err)
	assertDecimal(t, "40", stored.RiceBalanceAfterTotal().Value)
	assert.False(t, stored.StockAnomaly)
}

func TestService_CompletedMonthRejectsEdits(t *testing.T) {
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 10, 0)
	f.complete(t, march2025)

	_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(2), ServedPrimary: 10})
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = f.svc.CompleteMonth(f.ctx, consumption.CompleteInput{School: testSchool, Month: march2025})
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = f.svc.Reconcile(f.ctx, testSchool, march2025)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestService_CompleteFailsWhenNextMonthLocked(t *testing.T) {
	// GIVEN: April is locked
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 10, 0)
	_, err := f.svc.ToggleLock(f.ctx, testSchool, april2025, true, "frozen", "officer")
	require.NoError(t, err)

	// WHEN
	_, err = f.svc.CompleteMonth(f.ctx, consumption.CompleteInput{School: testSchool, Month: march2025})

	// THEN: Nothing is committed
	assert.ErrorIs(t, err, generic.ErrMonthLocked)
	assert.Equal(t, consumption.MonthOpen, f.summary(t, march2025).State)
	snaps, err := f.svc.ListCompletions(f.ctx, testSchool, march2025)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestService_ReopenAndCompleteAgain(t *testing.T) {
	// GIVEN: A completed March
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 200, 0)
	first := f.complete(t, march2025)

	// WHEN: March is reopened, corrected and completed again
	rec, err := f.svc.ReopenMonth(f.ctx, testSchool, march2025, "officer", "wrong count on the 1st")
	require.NoError(t, err)
	assert.Equal(t, consumption.MonthOpen, rec.State)

	_, err = f.svc.UpdateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(1), ServedPrimary: 100})
	require.NoError(t, err)
	second := f.complete(t, march2025)

	// THEN: Revisions are appended and the old one is stale
	assert.Equal(t, 2, second.Revision)
	assert.NotEqual(t, first.ID, second.ID)
	snaps, err := f.svc.ListCompletions(f.ctx, testSchool, march2025)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Stale)
	assertDecimal(t, "80", snaps[0].ClosingRice.Total().Value)
	assert.False(t, snaps[1].Stale)
	assertDecimal(t, "90", snaps[1].ClosingRice.Total().Value)

	// AND: April's opening follows the corrected closing
	assertDecimal(t, "90", f.summary(t, april2025).Opening.Primary.Value)
}

func TestService_ReopenRequiresCompletedMonth(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ReopenMonth(f.ctx, testSchool, march2025, "officer", "")
	assert.ErrorIs(t, err, generic.ErrMonthNotFound)

	f.configure(t, march2025, kgs("100", "0"))
	_, err = f.svc.ReopenMonth(f.ctx, testSchool, march2025, "officer", "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestService_AuditTrail(t *testing.T) {
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 10, 0)
	_, err := f.svc.ToggleLock(f.ctx, testSchool, march2025, true, "check", "officer")
	require.NoError(t, err)
	_, err = f.svc.ToggleLock(f.ctx, testSchool, march2025, false, "", "officer")
	require.NoError(t, err)
	f.complete(t, march2025)

	entries, err := f.svc.ListAudit(f.ctx, testSchool, march2025)
	require.NoError(t, err)

	var actions []generic.AuditAction
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []generic.AuditAction{
		generic.AuditConfigSaved,
		generic.AuditConfigSaved,
		generic.AuditMonthLocked,
		generic.AuditMonthUnlocked,
		generic.AuditMonthCompleted,
	}, actions)

	april, err := f.svc.ListAudit(f.ctx, testSchool, april2025)
	require.NoError(t, err)
	require.Len(t, april, 1)
	assert.Equal(t, generic.AuditOpeningCarried, april[0].Action)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestService_ReportRequiresCompletedMonth(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportRice, "officer")
	assert.ErrorIs(t, err, generic.ErrStaleReportRequest)

	f.configure(t, march2025, kgs("100", "0"))
	f.serve(t, day(1), 10, 0)
	_, err = f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportRice, "officer")
	var stale *generic.StaleReportError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, string(consumption.MonthOpen), stale.State)

	_, err = f.svc.GetReport(f.ctx, testSchool, march2025, consumption.ReportRice)
	assert.ErrorIs(t, err, generic.ErrReportNotFound)
}

func TestService_RiceReport(t *testing.T) {
	// GIVEN: A completed month with a holiday
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "50"))
	f.serve(t, day(1), 200, 100)
	_, err := f.svc.CreateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: day(2), Remarks: "holiday"})
	require.NoError(t, err)
	snap := f.complete(t, march2025)

	// WHEN
	report, err := f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportRice, "officer")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, snap.ID, report.CompletionID)
	assert.Equal(t, 1, report.CompletionRevision)
	assert.Equal(t, 1, report.Totals.DaysServed)
	assert.Equal(t, 300, report.Totals.Students.Total())
	require.NotNil(t, report.Totals.Rice)
	assertDecimal(t, "20", report.Totals.Rice.Primary)
	assertDecimal(t, "10", report.Totals.Rice.Middle)
	assertDecimal(t, "120", report.Closing.Total().Value)
	assert.Nil(t, report.SaltPercentages)
	assert.Contains(t, string(report.Days), `"remarks":"holiday"`)

	stored, err := f.svc.GetReport(f.ctx, testSchool, march2025, consumption.ReportRice)
	require.NoError(t, err)
	assert.Equal(t, report.Days, stored.Days)
}

func TestService_AmountReportFreezesPercentages(t *testing.T) {
	// GIVEN: An amount report generated for a completed month
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "100"))
	f.serve(t, day(1), 20, 0)
	f.complete(t, march2025)
	report, err := f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportAmount, "officer")
	require.NoError(t, err)
	require.NotNil(t, report.Totals.Salt)
	assertDecimal(t, "3", report.Totals.Salt.Primary.CommonSalt)

	// WHEN: The month is reopened and the split changes
	_, err = f.svc.ReopenMonth(f.ctx, testSchool, march2025, "officer", "new split")
	require.NoError(t, err)
	changed := *confirmedAmount()
	changed.Salt.CommonSalt, changed.Salt.OtherCondiments = dec("40"), dec("5")
	_, err = f.svc.SaveAmountConfig(f.ctx, changed, "admin")
	require.NoError(t, err)

	// THEN: The stored report keeps its frozen percentages
	stored, err := f.svc.GetReport(f.ctx, testSchool, march2025, consumption.ReportAmount)
	require.NoError(t, err)
	assertDecimal(t, "30", stored.SaltPercentages.CommonSalt)

	// AND: The reopened month cannot be reported until completed again
	_, err = f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportAmount, "officer")
	assert.ErrorIs(t, err, generic.ErrStaleReportRequest)

	f.complete(t, march2025)
	regenerated, err := f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportAmount, "officer")
	require.NoError(t, err)
	assert.Equal(t, 2, regenerated.CompletionRevision)
	assertDecimal(t, "40", regenerated.SaltPercentages.CommonSalt)
	assertDecimal(t, "4", regenerated.Totals.Salt.Primary.CommonSalt)

	stored, err = f.svc.GetReport(f.ctx, testSchool, march2025, consumption.ReportAmount)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CompletionRevision)
}

func TestService_ReportUnaffectedByOtherMonthWrites(t *testing.T) {
	// GIVEN: Rice and amount reports for a completed March
	f := newFixture(t)
	f.configure(t, march2025, kgs("100", "100"))
	f.serve(t, day(1), 200, 100)
	f.complete(t, march2025)
	rice, err := f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportRice, "officer")
	require.NoError(t, err)
	amount, err := f.svc.GenerateReport(f.ctx, testSchool, march2025, consumption.ReportAmount, "officer")
	require.NoError(t, err)

	// WHEN: Entries in the still-open April are created, updated and deleted
	f.configure(t, april2025, kgs("0", "0"))
	f.serve(t, aprilDay(1), 50, 50)
	f.serve(t, aprilDay(2), 60, 10)
	_, err = f.svc.UpdateDailyEntry(f.ctx, consumption.EntryInput{School: testSchool, Date: aprilDay(1), ServedPrimary: 500})
	require.NoError(t, err)
	_, err = f.svc.DeleteDailyEntry(f.ctx, testSchool, aprilDay(2))
	require.NoError(t, err)

	// THEN: Both stored March reports are exactly as generated
	storedRice, err := f.svc.GetReport(f.ctx, testSchool, march2025, consumption.ReportRice)
	require.NoError(t, err)
	assert.Equal(t, rice.GeneratedAt, storedRice.GeneratedAt)
	assert.Equal(t, rice.CompletionID, storedRice.CompletionID)
	assert.JSONEq(t, string(rice.Days), string(storedRice.Days))
	assertDecimal(t, rice.Closing.Total().Value.String(), storedRice.Closing.Total().Value)
	assert.Equal(t, rice.Totals.Students, storedRice.Totals.Students)

	storedAmount, err := f.svc.GetReport(f.ctx, testSchool, march2025, consumption.ReportAmount)
	require.NoError(t, err)
	assert.JSONEq(t, string(amount.Days), string(storedAmount.Days))
	require.NotNil(t, storedAmount.Totals.Amount)
	assertDecimal(t, amount.Totals.Amount.Primary.String(), storedAmount.Totals.Amount.Primary)
	assertDecimal(t, "30", storedAmount.SaltPercentages.CommonSalt)
}

func TestService_UnknownReportKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GenerateReport(f.ctx, testSchool, march2025, "fuel", "officer")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}
