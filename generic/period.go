package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH KEY - The unit of reconciliation, locking and completion
// =============================================================================

// MonthKey identifies a calendar month. Every configuration row, lifecycle
// record and report is keyed by (SchoolID, MonthKey).
type MonthKey struct {
	Year  int
	Month time.Month
}

func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKey{Year: year, Month: month}
}

// ParseMonthKey parses a YYYY-MM string.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, err
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

func (k MonthKey) Valid() bool {
	return k.Year > 0 && k.Month >= time.January && k.Month <= time.December
}

func (k MonthKey) Start() TimePoint { return NewTimePoint(k.Year, k.Month, 1) }

func (k MonthKey) End() TimePoint {
	t := time.Date(k.Year, k.Month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return TimePoint{Time: t}
}

// Next returns the following month, rolling the year over after December.
func (k MonthKey) Next() MonthKey {
	t := time.Date(k.Year, k.Month+1, 1, 0, 0, 0, 0, time.UTC)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Prev returns the preceding month.
func (k MonthKey) Prev() MonthKey {
	t := time.Date(k.Year, k.Month-1, 1, 0, 0, 0, 0, time.UTC)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

func (k MonthKey) Before(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

func (k MonthKey) Period() Period { return Period{Start: k.Start(), End: k.End()} }

func (k MonthKey) String() string { return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month)) }

// =============================================================================
// PERIOD - Inclusive day range
// =============================================================================

type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
