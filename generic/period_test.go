package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meal-ledger/generic"
)

func TestMonthKey_NextRollsOverYear(t *testing.T) {
	dec := generic.NewMonthKey(2024, time.December)

	assert.Equal(t, generic.NewMonthKey(2025, time.January), dec.Next())
	assert.Equal(t, generic.NewMonthKey(2024, time.November), dec.Prev())
	assert.Equal(t, dec, dec.Next().Prev())
	assert.True(t, dec.Before(dec.Next()))
}

func TestMonthKey_Bounds(t *testing.T) {
	feb := generic.NewMonthKey(2024, time.February)

	assert.Equal(t, "2024-02-01", feb.Start().String())
	assert.Equal(t, "2024-02-29", feb.End().String(), "leap year")
	assert.Len(t, feb.Period().Days(), 29)
	assert.True(t, feb.Period().Contains(generic.NewTimePoint(2024, time.February, 15)))
	assert.False(t, feb.Period().Contains(generic.NewTimePoint(2024, time.March, 1)))
}

func TestParseMonthKey(t *testing.T) {
	k, err := generic.ParseMonthKey("2025-03")
	require.NoError(t, err)
	assert.Equal(t, "2025-03", k.String())
	assert.True(t, k.Valid())

	_, err = generic.ParseMonthKey("2025-13")
	assert.Error(t, err)

	assert.False(t, generic.NewMonthKey(2025, 0).Valid())
}

func TestParseDate_MonthKey(t *testing.T) {
	d, err := generic.ParseDate("2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, generic.NewMonthKey(2025, time.March), d.MonthKey())

	_, err = generic.ParseDate("31/03/2025")
	assert.Error(t, err)
}

func TestDayOf_IgnoresTimeOfDay(t *testing.T) {
	a := generic.DayOf(time.Date(2025, time.March, 5, 23, 59, 0, 0, time.UTC))
	b := generic.NewTimePoint(2025, time.March, 5)
	assert.True(t, a.Equal(b))
	assert.True(t, a.AddDays(1).After(b))
}

func TestBySegment_Total(t *testing.T) {
	b := generic.BySegment{
		Primary: generic.NewAmount(12.5, generic.UnitKilograms),
		Middle:  generic.NewAmount(7.5, generic.UnitKilograms),
	}
	assert.Equal(t, "20", b.Total().Value.String())
	assert.Equal(t, generic.UnitKilograms, b.Total().Unit)

	b.Set(generic.SegmentMiddle, generic.NewAmount(-1, generic.UnitKilograms))
	assert.True(t, b.Get(generic.SegmentMiddle).ClampZero().IsZero())
}
