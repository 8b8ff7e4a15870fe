/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMBERS:
  kg and ₹ values are decimals serialized as JSON strings ("12.5"), so no
  client ever sees a float-rounded balance.

VALIDATION:
  Request shape is checked with go-playground/validator struct tags.
  Business rules (non-negative rates, percentage sums) stay in the
  consumption package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

// SegmentValuesRequest is a per-segment decimal input.
type SegmentValuesRequest struct {
	Primary decimal.Decimal `json:"primary"`
	Middle  decimal.Decimal `json:"middle"`
}

func (v *SegmentValuesRequest) bySegment(unit generic.Unit) generic.BySegment {
	if v == nil {
		return generic.NewBySegment(unit)
	}
	return generic.BySegment{
		Primary: generic.NewAmountFromDecimal(v.Primary, unit),
		Middle:  generic.NewAmountFromDecimal(v.Middle, unit),
	}
}

// RiceConfigRequest sets a month's rice inputs. Lifted and arranged default to zero.
type RiceConfigRequest struct {
	Rate     *SegmentValuesRequest `json:"rate" validate:"required"`
	Opening  *SegmentValuesRequest `json:"opening" validate:"required"`
	Lifted   *SegmentValuesRequest `json:"lifted,omitempty"`
	Arranged *SegmentValuesRequest `json:"arranged,omitempty"`
	Actor    string                `json:"actor" validate:"max=100"`
}

// AmountConfigRequest sets a month's per-student category rates and the
// unified salt percentages.
type AmountConfigRequest struct {
	Primary *consumption.SegmentRates    `json:"primary" validate:"required"`
	Middle  *consumption.SegmentRates    `json:"middle" validate:"required"`
	Salt    *consumption.SaltPercentages `json:"salt_percentages" validate:"required"`
	Actor   string                       `json:"actor" validate:"max=100"`
}

// EntryRequest creates or updates a daily entry. Date comes from the URL on
// updates.
type EntryRequest struct {
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	ServedPrimary int    `json:"served_primary" validate:"gte=0"`
	ServedMiddle  int    `json:"served_middle" validate:"gte=0"`
	Remarks       string `json:"remarks" validate:"max=500"`
}

type CompleteRequest struct {
	CompletedBy string `json:"completed_by" validate:"required,max=100"`
	Notes       string `json:"notes" validate:"max=1000"`
}

type ReopenRequest struct {
	Actor  string `json:"actor" validate:"required,max=100"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type LockRequest struct {
	Actor  string `json:"actor" validate:"required,max=100"`
	Reason string `json:"reason" validate:"max=500"`
}

type ReportRequest struct {
	Actor string `json:"actor" validate:"max=100"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// SegmentDTO is a per-segment value with its total.
type SegmentDTO struct {
	Primary decimal.Decimal `json:"primary"`
	Middle  decimal.Decimal `json:"middle"`
	Total   decimal.Decimal `json:"total"`
}

func toSegmentDTO(b generic.BySegment) SegmentDTO {
	return SegmentDTO{Primary: b.Primary.Value, Middle: b.Middle.Value, Total: b.Total().Value}
}

type EntryDTO struct {
	Date             string          `json:"date"`
	ServedPrimary    int             `json:"served_primary"`
	ServedMiddle     int             `json:"served_middle"`
	Remarks          string          `json:"remarks,omitempty"`
	RiceConsumed     SegmentDTO      `json:"rice_consumed_kg"`
	RiceBalanceAfter SegmentDTO      `json:"rice_balance_after_kg"`
	AmountConsumed   SegmentDTO      `json:"amount_consumed"`
	AmountCumulative decimal.Decimal `json:"amount_cumulative"`
	StockAnomaly     bool            `json:"stock_anomaly,omitempty"`
}

func toEntryDTO(e consumption.DailyEntry) EntryDTO {
	return EntryDTO{
		Date:             e.Date.String(),
		ServedPrimary:    e.ServedPrimary,
		ServedMiddle:     e.ServedMiddle,
		Remarks:          e.Remarks,
		RiceConsumed:     toSegmentDTO(e.RiceConsumed),
		RiceBalanceAfter: toSegmentDTO(e.RiceBalanceAfter),
		AmountConsumed:   toSegmentDTO(e.AmountConsumed),
		AmountCumulative: e.AmountCumulative.Value,
		StockAnomaly:     e.StockAnomaly,
	}
}

func toEntryDTOs(entries []consumption.DailyEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// AnomalyDTO reports a clamped negative balance.
type AnomalyDTO struct {
	Date        string          `json:"date"`
	Segment     string          `json:"segment"`
	AvailableKg decimal.Decimal `json:"available_kg"`
	RequiredKg  decimal.Decimal `json:"required_kg"`
	ShortfallKg decimal.Decimal `json:"shortfall_kg"`
}

func toAnomalyDTOs(as []generic.NegativeStockAnomaly) []AnomalyDTO {
	dtos := make([]AnomalyDTO, len(as))
	for i, a := range as {
		dtos[i] = AnomalyDTO{
			Date:        a.Date.String(),
			Segment:     string(a.Segment),
			AvailableKg: a.Available.Value,
			RequiredKg:  a.Required.Value,
			ShortfallKg: a.Shortfall.Value,
		}
	}
	return dtos
}

// EntryResultDTO answers an entry write.
type EntryResultDTO struct {
	Entry            EntryDTO        `json:"entry"`
	RiceConsumed     decimal.Decimal `json:"rice_consumed_kg"`
	RiceBalanceAfter decimal.Decimal `json:"rice_balance_after_kg"`
	AmountConsumed   decimal.Decimal `json:"amount_consumed"`
	Anomalies        []AnomalyDTO    `json:"anomalies"`
}

// ReconcileDTO answers a delete: the replayed month.
type ReconcileDTO struct {
	Available SegmentDTO      `json:"available_kg"`
	Closing   SegmentDTO      `json:"closing_kg"`
	Amount    decimal.Decimal `json:"amount_cumulative"`
	Entries   []EntryDTO      `json:"entries"`
	Anomalies []AnomalyDTO    `json:"anomalies"`
}

type RiceConfigDTO struct {
	Rate      SegmentDTO `json:"rate"`
	Opening   SegmentDTO `json:"opening"`
	Lifted    SegmentDTO `json:"lifted"`
	Arranged  SegmentDTO `json:"arranged"`
	UpdatedAt string     `json:"updated_at"`
}

func toRiceConfigDTO(c *consumption.RiceConfig) *RiceConfigDTO {
	if c == nil {
		return nil
	}
	return &RiceConfigDTO{
		Rate:      toSegmentDTO(c.Rate),
		Opening:   toSegmentDTO(c.Opening),
		Lifted:    toSegmentDTO(c.Lifted),
		Arranged:  toSegmentDTO(c.Arranged),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

type AmountConfigDTO struct {
	Primary       consumption.SegmentRates    `json:"primary"`
	Middle        consumption.SegmentRates    `json:"middle"`
	Salt          consumption.SaltPercentages `json:"salt_percentages"`
	PercentageSum decimal.Decimal             `json:"percentage_sum"`
	Confirmed     bool                        `json:"confirmed"`
	UpdatedAt     string                      `json:"updated_at"`
}

func toAmountConfigDTO(c *consumption.AmountConfig) *AmountConfigDTO {
	if c == nil {
		return nil
	}
	return &AmountConfigDTO{
		Primary:       c.Primary,
		Middle:        c.Middle,
		Salt:          c.Salt,
		PercentageSum: c.Salt.Sum(),
		Confirmed:     c.Confirmed,
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
}

type ConfigDTO struct {
	Month  string           `json:"month"`
	Rice   *RiceConfigDTO   `json:"rice"`
	Amount *AmountConfigDTO `json:"amount"`
}

type MonthDTO struct {
	Month          string     `json:"month"`
	State          string     `json:"state"`
	Locked         bool       `json:"locked"`
	LockReason     string     `json:"lock_reason,omitempty"`
	LockedAt       *string    `json:"locked_at,omitempty"`
	Opening        SegmentDTO `json:"opening_kg"`
	OpeningCarried bool       `json:"opening_carried"`
	Closing        SegmentDTO `json:"closing_kg"`
	CompletedAt    *string    `json:"completed_at,omitempty"`
}

func toMonthDTO(r *consumption.MonthRecord) MonthDTO {
	return MonthDTO{
		Month:          r.Month.String(),
		State:          string(r.State),
		Locked:         r.Locked,
		LockReason:     r.LockReason,
		LockedAt:       timePtr(r.LockedAt),
		Opening:        toSegmentDTO(r.Opening),
		OpeningCarried: r.OpeningCarried,
		Closing:        toSegmentDTO(r.Closing),
		CompletedAt:    timePtr(r.CompletedAt),
	}
}

type CompletionDTO struct {
	ID             string                    `json:"id"`
	Revision       int                       `json:"revision"`
	CompletedAt    string                    `json:"completed_at"`
	CompletedBy    string                    `json:"completed_by"`
	Notes          string                    `json:"notes,omitempty"`
	Opening        SegmentDTO                `json:"opening_kg"`
	ClosingRice    SegmentDTO                `json:"closing_rice_kg"`
	ClosingAmount  decimal.Decimal           `json:"closing_amount"`
	DaysServed     int                       `json:"days_served"`
	Students       consumption.StudentCounts `json:"students_served"`
	RiceConsumed   SegmentDTO                `json:"rice_consumed_kg"`
	AmountConsumed SegmentDTO                `json:"amount_consumed"`
	Stale          bool                      `json:"stale"`
}

func toCompletionDTO(c *consumption.CompletionSnapshot) *CompletionDTO {
	if c == nil {
		return nil
	}
	return &CompletionDTO{
		ID:             c.ID,
		Revision:       c.Revision,
		CompletedAt:    c.CompletedAt.Format(time.RFC3339),
		CompletedBy:    c.CompletedBy,
		Notes:          c.Notes,
		Opening:        toSegmentDTO(c.Opening),
		ClosingRice:    toSegmentDTO(c.ClosingRice),
		ClosingAmount:  c.ClosingAmount.Value,
		DaysServed:     c.DaysServed,
		Students:       c.StudentsServed,
		RiceConsumed:   toSegmentDTO(c.RiceConsumed),
		AmountConsumed: toSegmentDTO(c.AmountConsumed),
		Stale:          c.Stale,
	}
}

type SummaryTotalsDTO struct {
	DaysServed int                       `json:"days_served"`
	Students   consumption.StudentCounts `json:"students"`
	Rice       SegmentDTO                `json:"rice_consumed_kg"`
	Amount     SegmentDTO                `json:"amount_consumed"`
	Cumulative decimal.Decimal           `json:"amount_cumulative"`
}

// MonthSummaryDTO is the dashboard view of a month.
type MonthSummaryDTO struct {
	School          string                        `json:"school_id"`
	Month           string                        `json:"month"`
	State           string                        `json:"state"`
	Locked          bool                          `json:"locked"`
	LockReason      string                        `json:"lock_reason,omitempty"`
	RiceConfigured  bool                          `json:"rice_configured"`
	AmountConfirmed bool                          `json:"amount_confirmed"`
	Opening         SegmentDTO                    `json:"opening_kg"`
	Closing         SegmentDTO                    `json:"closing_kg"`
	Totals          SummaryTotalsDTO              `json:"totals"`
	Salt            *consumption.SegmentSaltSplit `json:"salt_split,omitempty"`
	Days            []EntryDTO                    `json:"days"`
	Completion      *CompletionDTO                `json:"completion,omitempty"`
}

func toMonthSummaryDTO(s *consumption.MonthSummary) MonthSummaryDTO {
	return MonthSummaryDTO{
		School:          string(s.School),
		Month:           s.Month.String(),
		State:           string(s.State),
		Locked:          s.Locked,
		LockReason:      s.LockReason,
		RiceConfigured:  s.RiceConfigured,
		AmountConfirmed: s.AmountConfirmed,
		Opening:         toSegmentDTO(s.Opening),
		Closing:         toSegmentDTO(s.Closing),
		Totals: SummaryTotalsDTO{
			DaysServed: s.Totals.DaysServed,
			Students:   s.Totals.Students,
			Rice:       toSegmentDTO(s.Totals.Rice),
			Amount:     toSegmentDTO(s.Totals.Amount),
			Cumulative: s.Totals.Cumulative.Value,
		},
		Salt:       s.Salt,
		Days:       toEntryDTOs(s.Days),
		Completion: toCompletionDTO(s.Completion),
	}
}

type ReportDTO struct {
	School             string                       `json:"school_id"`
	Month              string                       `json:"month"`
	Kind               string                       `json:"kind"`
	GeneratedAt        string                       `json:"generated_at"`
	CompletionID       string                       `json:"completion_id"`
	CompletionRevision int                          `json:"completion_revision"`
	Opening            SegmentDTO                   `json:"opening"`
	Closing            SegmentDTO                   `json:"closing"`
	Totals             consumption.ReportTotals     `json:"totals"`
	SaltPercentages    *consumption.SaltPercentages `json:"salt_percentages,omitempty"`
	Days               json.RawMessage              `json:"days"`
}

func toReportDTO(r *consumption.ReportSnapshot) ReportDTO {
	return ReportDTO{
		School:             string(r.School),
		Month:              r.Month.String(),
		Kind:               string(r.Kind),
		GeneratedAt:        r.GeneratedAt.Format(time.RFC3339),
		CompletionID:       r.CompletionID,
		CompletionRevision: r.CompletionRevision,
		Opening:            toSegmentDTO(r.Opening),
		Closing:            toSegmentDTO(r.Closing),
		Totals:             r.Totals,
		SaltPercentages:    r.SaltPercentages,
		Days:               r.Days,
	}
}

type AuditDTO struct {
	ID     string `json:"id"`
	At     string `json:"at"`
	Actor  string `json:"actor,omitempty"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
