/*
report.go - Report Snapshot Builder

PURPOSE:
  Aggregates a completed month into an immutable report record for audit
  and PDF rendering. Totals are re-derived from the daily entries; balances
  come from the Completion Snapshot; amount reports freeze a copy of the salt
  percentages so a later configuration change never alters a published
  report.

REGENERATION:
  Building is pure. The service stores the result keyed by
  (school, month, kind); building again and saving overwrites it.

DAYS BLOB:
  The day-by-day breakdown is encoded with encoding/json over ordered
  structs, so the same entries always produce the same bytes.
*/
package consumption

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/meal-ledger/generic"
)

// SegmentDecimals is a plain per-segment pair for report payloads.
type SegmentDecimals struct {
	Primary decimal.Decimal `json:"primary"`
	Middle  decimal.Decimal `json:"middle"`
}

func segmentDecimals(b generic.BySegment) *SegmentDecimals {
	return &SegmentDecimals{Primary: b.Primary.Value, Middle: b.Middle.Value}
}

// ReportTotals are the section totals of a report. Rice fields are set on
// rice reports, category and salt fields on amount reports.
type ReportTotals struct {
	DaysServed int           `json:"days_served"`
	Students   StudentCounts `json:"students"`

	Rice     *SegmentDecimals `json:"rice_kg,omitempty"`
	Lifted   *SegmentDecimals `json:"lifted_kg,omitempty"`
	Arranged *SegmentDecimals `json:"arranged_kg,omitempty"`

	Amount     *SegmentDecimals  `json:"amount,omitempty"`
	Categories *Allocation       `json:"categories,omitempty"`
	Salt       *SegmentSaltSplit `json:"salt_split,omitempty"`
}

// RiceReportDay is one row of a rice report.
type RiceReportDay struct {
	Date           string          `json:"date"`
	ServedPrimary  int             `json:"served_primary"`
	ServedMiddle   int             `json:"served_middle"`
	RicePrimary    decimal.Decimal `json:"rice_primary_kg"`
	RiceMiddle     decimal.Decimal `json:"rice_middle_kg"`
	BalancePrimary decimal.Decimal `json:"balance_primary_kg"`
	BalanceMiddle  decimal.Decimal `json:"balance_middle_kg"`
	StockAnomaly   bool            `json:"stock_anomaly,omitempty"`
	Remarks        string          `json:"remarks,omitempty"`
}

// AmountReportDay is one row of an amount report.
type AmountReportDay struct {
	Date          string          `json:"date"`
	ServedPrimary int             `json:"served_primary"`
	ServedMiddle  int             `json:"served_middle"`
	AmountPrimary decimal.Decimal `json:"amount_primary"`
	AmountMiddle  decimal.Decimal `json:"amount_middle"`
	SaltPrimary   decimal.Decimal `json:"salt_primary"`
	SaltMiddle    decimal.Decimal `json:"salt_middle"`
	Cumulative    decimal.Decimal `json:"cumulative"`
	Remarks       string          `json:"remarks,omitempty"`
}

// ReportInput is what a report is built from.
type ReportInput struct {
	Completion  CompletionSnapshot
	Entries     []DailyEntry
	Rice        *RiceConfig
	Amount      *AmountConfig
	GeneratedAt time.Time
}

// BuildReport dispatches on kind.
func BuildReport(kind ReportKind, in ReportInput) (ReportSnapshot, error) {
	switch kind {
	case ReportRice:
		return BuildRiceReport(in)
	case ReportAmount:
		return BuildAmountReport(in)
	default:
		return ReportSnapshot{}, fmt.Errorf("%w: unknown report kind %q", generic.ErrInvalidInput, kind)
	}
}

func baseReport(kind ReportKind, in ReportInput) ReportSnapshot {
	return ReportSnapshot{
		School:             in.Completion.School,
		Month:              in.Completion.Month,
		Kind:               kind,
		GeneratedAt:        in.GeneratedAt,
		CompletionID:       in.Completion.ID,
		CompletionRevision: in.Completion.Revision,
	}
}

func countTotals(entries []DailyEntry) (days int, students StudentCounts) {
	for _, e := range entries {
		if e.TotalServed() > 0 {
			days++
		}
		students.Primary += e.ServedPrimary
		students.Middle += e.ServedMiddle
	}
	return days, students
}

// BuildRiceReport builds the rice stock report.
func BuildRiceReport(in ReportInput) (ReportSnapshot, error) {
	r := baseReport(ReportRice, in)
	r.Opening = kg(in.Completion.Opening)
	r.Closing = kg(in.Completion.ClosingRice)

	rice := generic.NewBySegment(generic.UnitKilograms)
	days := make([]RiceReportDay, 0, len(in.Entries))
	for _, e := range in.Entries {
		rice = rice.Add(e.RiceConsumed)
		days = append(days, RiceReportDay{
			Date:           e.Date.String(),
			ServedPrimary:  e.ServedPrimary,
			ServedMiddle:   e.ServedMiddle,
			RicePrimary:    e.RiceConsumed.Primary.Value,
			RiceMiddle:     e.RiceConsumed.Middle.Value,
			BalancePrimary: e.RiceBalanceAfter.Primary.Value,
			BalanceMiddle:  e.RiceBalanceAfter.Middle.Value,
			StockAnomaly:   e.StockAnomaly,
			Remarks:        e.Remarks,
		})
	}

	r.Totals.DaysServed, r.Totals.Students = countTotals(in.Entries)
	r.Totals.Rice = segmentDecimals(rice)
	if in.Rice != nil {
		r.Totals.Lifted = segmentDecimals(in.Rice.Lifted)
		r.Totals.Arranged = segmentDecimals(in.Rice.Arranged)
	}

	blob, err := json.Marshal(days)
	if err != nil {
		return ReportSnapshot{}, fmt.Errorf("encode rice report days: %w", err)
	}
	r.Days = blob
	return r, nil
}

// BuildAmountReport builds the cooking-cost report and freezes the salt
// percentages of in.Amount into it.
func BuildAmountReport(in ReportInput) (ReportSnapshot, error) {
	if in.Amount == nil {
		return ReportSnapshot{}, &generic.ConfigurationIncompleteError{
			School: in.Completion.School, Month: in.Completion.Month,
			Missing: []string{"amount configuration"},
		}
	}
	cfg := *in.Amount

	r := baseReport(ReportAmount, in)
	frozen := cfg.Salt
	r.SaltPercentages = &frozen

	var (
		categories Allocation
		amount     = generic.NewBySegment(generic.UnitRupees)
		days       = make([]AmountReportDay, 0, len(in.Entries))
	)
	for _, e := range in.Entries {
		alloc, err := AllocateEntry(e, cfg)
		if err != nil {
			return ReportSnapshot{}, err
		}
		categories = categories.Add(alloc)
		amount = amount.Add(e.AmountConsumed)
		days = append(days, AmountReportDay{
			Date:          e.Date.String(),
			ServedPrimary: e.ServedPrimary,
			ServedMiddle:  e.ServedMiddle,
			AmountPrimary: e.AmountConsumed.Primary.Value,
			AmountMiddle:  e.AmountConsumed.Middle.Value,
			SaltPrimary:   alloc.Primary.Salt,
			SaltMiddle:    alloc.Middle.Salt,
			Cumulative:    e.AmountCumulative.Value,
			Remarks:       e.Remarks,
		})
	}

	r.Opening = generic.NewBySegment(generic.UnitRupees)
	r.Closing = amount
	salt := SplitAllocationSalt(categories, frozen)
	r.Totals.DaysServed, r.Totals.Students = countTotals(in.Entries)
	r.Totals.Amount = segmentDecimals(amount)
	r.Totals.Categories = &categories
	r.Totals.Salt = &salt

	blob, err := json.Marshal(days)
	if err != nil {
		return ReportSnapshot{}, fmt.Errorf("encode amount report days: %w", err)
	}
	r.Days = blob
	return r, nil
}
