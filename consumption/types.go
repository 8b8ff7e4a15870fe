/*
Package consumption implements the monthly consumption ledger and cost
allocation engine.

PURPOSE:
  Turns a stream of daily "students served" entries into:
    (a) a running rice-stock ledger with opening/closing balances that stay
        consistent under retroactive edits, and
    (b) a cost-allocation ledger that splits per-student daily rates into
        ingredient amounts and salt subcategories,
  and freezes both into auditable month-end records.

COMPONENTS:
  types.go      Entities and the Store contract
  config.go     Configuration Store model (rates, openings, salt percentages)
  reconcile.go  Balance Reconciliation Engine (full-month replay)
  allocation.go Cost Allocation Engine (category amounts, salt split)
  lifecycle.go  Month Lifecycle state machine
  report.go     Report Snapshot Builder
  service.go    Facade: serialization, persistence, logging, metrics

DATA FLOW:
  config + daily entries -> Reconcile (rice + amount) -> CompleteMonth
  (closing, carry-forward) -> GenerateReport (frozen snapshot)

OWNERSHIP:
  Every record is keyed by SchoolID. No operation reads or writes across
  schools, so no cross-school locking exists.
*/
package consumption

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/meal-ledger/generic"
)

// =============================================================================
// CONFIGURATION - Declarative per-month inputs
// =============================================================================

// RiceConfig holds the rice inputs for one (school, month).
// Rate is kg per student per day. Lifted and Arranged are optional and
// default to zero; they are tracked separately for reporting.
type RiceConfig struct {
	School    generic.SchoolID
	Month     generic.MonthKey
	Rate      generic.BySegment
	Opening   generic.BySegment
	Lifted    generic.BySegment
	Arranged  generic.BySegment
	UpdatedAt time.Time
}

// AmountConfig holds the cooking-cost inputs for one (school, month).
// Salt percentages are unified: the same split applies to both segments.
type AmountConfig struct {
	School    generic.SchoolID
	Month     generic.MonthKey
	Primary   SegmentRates
	Middle    SegmentRates
	Salt      SaltPercentages
	Confirmed bool
	UpdatedAt time.Time
}

// SegmentRates are ₹ per student per day for each category.
// Salt is the composite salt & condiments rate.
type SegmentRates struct {
	Pulses     decimal.Decimal `json:"pulses"`
	Vegetables decimal.Decimal `json:"vegetables"`
	Oil        decimal.Decimal `json:"oil"`
	Salt       decimal.Decimal `json:"salt"`
	Fuel       decimal.Decimal `json:"fuel"`
}

// SaltPercentages split the composite salt amount into five subcategories.
type SaltPercentages struct {
	CommonSalt      decimal.Decimal `json:"common_salt"`
	ChilliPowder    decimal.Decimal `json:"chilli_powder"`
	Turmeric        decimal.Decimal `json:"turmeric"`
	Coriander       decimal.Decimal `json:"coriander"`
	OtherCondiments decimal.Decimal `json:"other_condiments"`
}

// =============================================================================
// DAILY ENTRY - One row per (school, date)
// =============================================================================

// DailyEntry is a day's served counts plus the values derived at save time.
// A day with Remarks and zero counts (a holiday) is valid.
type DailyEntry struct {
	School        generic.SchoolID
	Date          generic.TimePoint
	ServedPrimary int
	ServedMiddle  int
	Remarks       string

	// Derived, rewritten by every reconciliation
	RiceConsumed     generic.BySegment
	RiceBalanceAfter generic.BySegment
	AmountConsumed   generic.BySegment
	AmountCumulative generic.Amount
	StockAnomaly     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e DailyEntry) Served(s generic.Segment) int {
	if s == generic.SegmentMiddle {
		return e.ServedMiddle
	}
	return e.ServedPrimary
}

func (e DailyEntry) TotalServed() int { return e.ServedPrimary + e.ServedMiddle }

func (e DailyEntry) RiceConsumedTotal() generic.Amount     { return e.RiceConsumed.Total() }
func (e DailyEntry) RiceBalanceAfterTotal() generic.Amount { return e.RiceBalanceAfter.Total() }
func (e DailyEntry) AmountConsumedTotal() generic.Amount   { return e.AmountConsumed.Total() }

// =============================================================================
// MONTH LIFECYCLE RECORD
// =============================================================================

type MonthState string

const (
	MonthOpen      MonthState = "open"
	MonthCompleted MonthState = "completed"
)

// MonthRecord is the lifecycle state of one (school, month).
//
// Opening is the base stock before this month's lifted/arranged rice. It is
// either carried forward from the previous month's completion
// (OpeningCarried) or mirrors the rice configuration's opening balance.
type MonthRecord struct {
	School generic.SchoolID
	Month  generic.MonthKey
	State  MonthState

	Locked     bool
	LockReason string
	LockedAt   *time.Time

	RiceConfigCompleted   bool
	AmountConfigCompleted bool

	Opening        generic.BySegment
	OpeningCarried bool
	Closing        generic.BySegment

	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// COMPLETION SNAPSHOT - Append-only record of a month's completion
// =============================================================================

// CompletionSnapshot freezes a month's closing figures. Each completion of
// the same month appends a new Revision; reopening marks the latest one Stale.
type CompletionSnapshot struct {
	ID          string
	School      generic.SchoolID
	Month       generic.MonthKey
	Revision    int
	CompletedAt time.Time
	CompletedBy string
	Notes       string

	Opening        generic.BySegment
	ClosingRice    generic.BySegment
	ClosingAmount  generic.Amount
	DaysServed     int
	StudentsServed StudentCounts
	RiceConsumed   generic.BySegment
	AmountConsumed generic.BySegment

	Stale bool
}

// StudentCounts sums served counts per segment.
type StudentCounts struct {
	Primary int `json:"primary"`
	Middle  int `json:"middle"`
}

func (c StudentCounts) Total() int { return c.Primary + c.Middle }

// =============================================================================
// REPORT SNAPSHOT - Frozen, regenerable month report
// =============================================================================

type ReportKind string

const (
	ReportRice   ReportKind = "rice"
	ReportAmount ReportKind = "amount"
)

func (k ReportKind) Valid() bool { return k == ReportRice || k == ReportAmount }

// ReportSnapshot is unique per (school, month, kind). Regeneration overwrites
// it. Days is the day-by-day breakdown as produced at generation time.
type ReportSnapshot struct {
	School             generic.SchoolID
	Month              generic.MonthKey
	Kind               ReportKind
	GeneratedAt        time.Time
	CompletionID       string
	CompletionRevision int

	Opening generic.BySegment
	Closing generic.BySegment
	Totals  ReportTotals

	// Amount reports only: the percentages in effect at generation time.
	SaltPercentages *SaltPercentages

	Days json.RawMessage
}

// =============================================================================
// STORE - Persistence contract
// =============================================================================

// Store persists every entity of the ledger. Getters return (nil, nil) when
// the row does not exist.
type Store interface {
	GetRiceConfig(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*RiceConfig, error)
	SaveRiceConfig(ctx context.Context, cfg RiceConfig) error
	GetAmountConfig(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*AmountConfig, error)
	SaveAmountConfig(ctx context.Context, cfg AmountConfig) error

	GetMonth(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*MonthRecord, error)
	SaveMonth(ctx context.Context, rec MonthRecord) error

	GetEntry(ctx context.Context, school generic.SchoolID, date generic.TimePoint) (*DailyEntry, error)
	// ListEntries returns the month's entries ordered by date ascending.
	ListEntries(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]DailyEntry, error)
	// InsertEntry fails with generic.ErrDuplicateEntry if (school, date) exists.
	InsertEntry(ctx context.Context, e DailyEntry) error
	// UpdateEntries rewrites existing rows matched by (school, date).
	UpdateEntries(ctx context.Context, entries []DailyEntry) error
	// DeleteEntry fails with generic.ErrEntryNotFound if the row is missing.
	DeleteEntry(ctx context.Context, school generic.SchoolID, date generic.TimePoint) error

	AppendCompletion(ctx context.Context, snap CompletionSnapshot) error
	LatestCompletion(ctx context.Context, school generic.SchoolID, month generic.MonthKey) (*CompletionSnapshot, error)
	ListCompletions(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]CompletionSnapshot, error)
	MarkCompletionStale(ctx context.Context, id string) error

	// SaveReport inserts or fully overwrites the (school, month, kind) report.
	SaveReport(ctx context.Context, r ReportSnapshot) error
	GetReport(ctx context.Context, school generic.SchoolID, month generic.MonthKey, kind ReportKind) (*ReportSnapshot, error)

	AppendAudit(ctx context.Context, e generic.AuditEntry) error
	ListAudit(ctx context.Context, school generic.SchoolID, month generic.MonthKey) ([]generic.AuditEntry, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the given Store is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
