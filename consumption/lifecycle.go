/*
lifecycle.go - Month Lifecycle state machine

STATES:
  OPEN       entries may be added, edited, deleted; reconciliation runs freely
  COMPLETED  closing balances frozen into a Completion Snapshot

  LOCKED is an orthogonal flag on either state. It blocks every write to the
  month's configuration and entries until explicitly unlocked.

TRANSITIONS:
  OPEN -> COMPLETED   requires rice + amount configs completed, ≥1 entry,
                      not locked. Writes a snapshot revision and carries the
                      closing balance forward as next month's opening.
  COMPLETED -> OPEN   "reopen"; requires not locked. Marks the latest
                      snapshot revision stale. Does NOT retract the opening
                      already carried into the next month: completing again
                      carries the corrected closing forward.
  lock / unlock       any state; reason recorded.
*/
package consumption

import (
	"time"

	"github.com/warp/meal-ledger/generic"
)

func newMonthRecord(school generic.SchoolID, month generic.MonthKey, now time.Time) MonthRecord {
	return MonthRecord{
		School:    school,
		Month:     month,
		State:     MonthOpen,
		Opening:   generic.NewBySegment(generic.UnitKilograms),
		Closing:   generic.NewBySegment(generic.UnitKilograms),
		UpdatedAt: now,
	}
}

func (r MonthRecord) lockedError() error {
	return &generic.MonthLockedError{School: r.School, Month: r.Month, Reason: r.LockReason}
}

// guardWritable allows entry and configuration writes only on an open,
// unlocked month.
func (r MonthRecord) guardWritable() error {
	if r.Locked {
		return r.lockedError()
	}
	if r.State != MonthOpen {
		return &generic.TransitionError{Month: r.Month, From: string(r.State), To: "edited"}
	}
	return nil
}

func (r MonthRecord) guardComplete() error {
	if r.Locked {
		return r.lockedError()
	}
	if r.State != MonthOpen {
		return &generic.TransitionError{Month: r.Month, From: string(r.State), To: string(MonthCompleted)}
	}
	var missing []string
	if !r.RiceConfigCompleted {
		missing = append(missing, "rice configuration not completed")
	}
	if !r.AmountConfigCompleted {
		missing = append(missing, "amount configuration not completed")
	}
	if len(missing) > 0 {
		return &generic.ConfigurationIncompleteError{School: r.School, Month: r.Month, Missing: missing}
	}
	return nil
}

func (r MonthRecord) guardReopen() error {
	if r.Locked {
		return r.lockedError()
	}
	if r.State != MonthCompleted {
		return &generic.TransitionError{Month: r.Month, From: string(r.State), To: string(MonthOpen)}
	}
	return nil
}

// baseOpening is the month's stock before lifted/arranged rice.
func (r MonthRecord) baseOpening(rice *RiceConfig) generic.BySegment {
	if r.OpeningCarried || rice == nil {
		return kg(r.Opening)
	}
	return kg(rice.Opening)
}

// available is the stock reconciliation starts from.
func (r MonthRecord) available(rice *RiceConfig) generic.BySegment {
	base := r.baseOpening(rice)
	if rice == nil {
		return base
	}
	return kg(rice.Available(base))
}

func (r *MonthRecord) setLock(lock bool, reason string, now time.Time) {
	r.Locked = lock
	r.UpdatedAt = now
	if lock {
		r.LockReason = reason
		r.LockedAt = &now
		return
	}
	r.LockReason = ""
	r.LockedAt = nil
}

func (r *MonthRecord) complete(closing generic.BySegment, now time.Time) {
	r.State = MonthCompleted
	r.Closing = kg(closing)
	r.CompletedAt = &now
	r.UpdatedAt = now
}

func (r *MonthRecord) reopen(now time.Time) {
	r.State = MonthOpen
	r.CompletedAt = nil
	r.UpdatedAt = now
}

// carryInto writes this closing balance as the opening of next.
func carryInto(next *MonthRecord, closing generic.BySegment, now time.Time) {
	next.Opening = kg(closing)
	next.OpeningCarried = true
	next.UpdatedAt = now
}
