package consumption_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
)

func reportInput() consumption.ReportInput {
	res := consumption.Reconcile(consumption.ReconcileInput{
		Available: kgs("100", "100"),
		Rate:      kgs("0.1", "0.15"),
		Amount:    confirmedAmount(),
		Entries:   []consumption.DailyEntry{entry(1, 100, 40), entry(2, 80, 40)},
	})
	return consumption.ReportInput{
		Completion: consumption.CompletionSnapshot{
			ID: "c-1", School: testSchool, Month: march2025, Revision: 3,
			Opening: res.Available, ClosingRice: res.Closing,
		},
		Entries:     res.Entries,
		Amount:      confirmedAmount(),
		GeneratedAt: time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestBuildReport_Deterministic(t *testing.T) {
	// GIVEN: The same input twice
	// WHEN
	a, err := consumption.BuildReport(consumption.ReportRice, reportInput())
	require.NoError(t, err)
	b, err := consumption.BuildReport(consumption.ReportRice, reportInput())
	require.NoError(t, err)

	// THEN: Byte-identical day breakdowns
	assert.Equal(t, string(a.Days), string(b.Days))
	assert.Equal(t, 3, a.CompletionRevision)
	assertDecimal(t, "18", a.Totals.Rice.Primary)
	assertDecimal(t, "12", a.Totals.Rice.Middle)
}

func TestBuildAmountReport_Totals(t *testing.T) {
	report, err := consumption.BuildReport(consumption.ReportAmount, reportInput())
	require.NoError(t, err)

	// 180 primary + 80 middle students at ₹5.45
	assertDecimal(t, "981", report.Totals.Amount.Primary)
	assertDecimal(t, "436", report.Totals.Amount.Middle)
	assertDecimal(t, "1417", report.Closing.Total().Value)
	assertDecimal(t, "90", report.Totals.Categories.Primary.Salt)
	assertDecimal(t, "90", report.Totals.Salt.Primary.Total())
	require.NotNil(t, report.SaltPercentages)
	assertDecimal(t, "30", report.SaltPercentages.CommonSalt)
}

func TestBuildAmountReport_RequiresConfig(t *testing.T) {
	in := reportInput()
	in.Amount = nil

	_, err := consumption.BuildReport(consumption.ReportAmount, in)

	assert.ErrorIs(t, err, generic.ErrConfigurationIncomplete)
}

func TestBuildReport_UnknownKind(t *testing.T) {
	_, err := consumption.BuildReport("stock", reportInput())
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}
