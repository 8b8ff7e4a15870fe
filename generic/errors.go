/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Nothing in this subsystem is fatal to the process: every failure is a typed
  result the caller turns into a user-facing message.

ERROR CATEGORIES:
  1. Configuration errors - missing rows, percentages not summing to 100
  2. Lifecycle errors - locked months, invalid transitions, stale reports
  3. Ledger errors - duplicate or missing daily entries
  4. Anomalies - negative stock, clamped and reported, never returned as failure

USAGE:
  if errors.Is(err, generic.ErrMonthLocked) {
      var locked *generic.MonthLockedError
      if errors.As(err, &locked) { ... locked.Reason ... }
  }

SEE ALSO:
  - consumption/service.go: Returns these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfigurationIncomplete is returned when a month lacks a rice
	// configuration, a confirmed amount configuration, or both.
	ErrConfigurationIncomplete = errors.New("configuration incomplete")

	// ErrMonthLocked is returned for any write against a locked month.
	ErrMonthLocked = errors.New("month locked")

	// ErrDuplicateEntry is returned when a daily entry already exists for the
	// school and date. Callers should update instead.
	ErrDuplicateEntry = errors.New("daily entry already exists")

	// ErrNegativeStock marks a NegativeStockAnomaly. It is never returned as a
	// write failure; consumption is clamped at zero.
	ErrNegativeStock = errors.New("negative stock anomaly")

	// ErrStaleReportRequest is returned when building a report for a month
	// that is not completed.
	ErrStaleReportRequest = errors.New("report requested for a month that is not completed")

	// ErrEntryNotFound is returned when updating or deleting a missing entry.
	ErrEntryNotFound = errors.New("daily entry not found")

	// ErrMonthNotFound is returned when no lifecycle record exists.
	ErrMonthNotFound = errors.New("month not found")

	// ErrReportNotFound is returned when no report snapshot has been generated.
	ErrReportNotFound = errors.New("report not found")

	// ErrNoEntries is returned when completing a month without daily entries.
	ErrNoEntries = errors.New("month has no daily entries")

	// ErrInvalidTransition is returned when a lifecycle transition is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("invalid month transition")

	// ErrInvalidInput is returned for malformed values (negative counts, bad dates).
	ErrInvalidInput = errors.New("invalid input")

	// ErrLockNotObtained is returned when the per-month writer lock is held elsewhere.
	ErrLockNotObtained = errors.New("month is being modified, retry")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationIncompleteError lists what is missing for a month.
// Shortfall is 100 minus the salt percentage sum when the percentages are the
// problem (negative when they overshoot).
type ConfigurationIncompleteError struct {
	School        SchoolID
	Month         MonthKey
	Missing       []string
	PercentageSum *decimal.Decimal
	Shortfall     *decimal.Decimal
}

func (e *ConfigurationIncompleteError) Error() string {
	msg := fmt.Sprintf("configuration incomplete for %s %s", e.School, e.Month)
	if len(e.Missing) > 0 {
		msg += ": " + strings.Join(e.Missing, ", ")
	}
	if e.PercentageSum != nil && e.Shortfall != nil {
		msg += fmt.Sprintf(" (salt percentages sum to %s, shortfall %s)",
			e.PercentageSum.String(), e.Shortfall.String())
	}
	return msg
}

func (e *ConfigurationIncompleteError) Unwrap() error {
	return ErrConfigurationIncomplete
}

// MonthLockedError carries the lock reason, if one was recorded.
type MonthLockedError struct {
	School SchoolID
	Month  MonthKey
	Reason string
}

func (e *MonthLockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("month %s is locked for %s", e.Month, e.School)
	}
	return fmt.Sprintf("month %s is locked for %s: %s", e.Month, e.School, e.Reason)
}

func (e *MonthLockedError) Unwrap() error {
	return ErrMonthLocked
}

// DuplicateEntryError identifies the existing entry.
type DuplicateEntryError struct {
	School SchoolID
	Date   TimePoint
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("daily entry already exists: %s for %s", e.Date, e.School)
}

func (e *DuplicateEntryError) Unwrap() error {
	return ErrDuplicateEntry
}

// NegativeStockAnomaly records a day where consumption exceeded available
// stock for a segment. The balance was clamped to zero; Shortfall is how far
// below zero it would have gone.
type NegativeStockAnomaly struct {
	Date      TimePoint
	Segment   Segment
	Available Amount
	Required  Amount
	Shortfall Amount
}

func (e *NegativeStockAnomaly) Error() string {
	return fmt.Sprintf("negative stock on %s (%s): required %s, available %s, shortfall %s",
		e.Date, e.Segment, e.Required.Value, e.Available.Value, e.Shortfall.Value)
}

func (e *NegativeStockAnomaly) Unwrap() error {
	return ErrNegativeStock
}

// StaleReportError names the state that blocked report generation.
type StaleReportError struct {
	School SchoolID
	Month  MonthKey
	State  string
}

func (e *StaleReportError) Error() string {
	return fmt.Sprintf("cannot build report for %s %s: month is %s", e.School, e.Month, e.State)
}

func (e *StaleReportError) Unwrap() error {
	return ErrStaleReportRequest
}

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	Month MonthKey
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("month %s cannot move from %s to %s", e.Month, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfigurationIncomplete) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNoEntries) ||
		errors.Is(err, ErrStaleReportRequest)
}

// IsConflict returns true if the error conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrLockNotObtained)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrMonthNotFound) ||
		errors.Is(err, ErrReportNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockNotObtained)
}
