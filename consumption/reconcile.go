/*
reconcile.go - Balance Reconciliation Engine

PURPOSE:
  Recomputes every daily entry's derived fields for a month by replaying the
  whole month from its opening stock. There is no incremental patching and
  no running balance kept between calls: the result depends only on the
  current set of entries, the opening stock and the rates.

ALGORITHM:
  1. available_s = base_opening_s + lifted_s + arranged_s
  2. Order entries by date ascending
  3. running_s = available_s
  4. For each entry and segment s:
       consumed_s      = served_s × rate_s
       balance_after_s = max(0, running_s − consumed_s)
       running_s       = balance_after_s
     rice_consumed      = Σ consumed_s
     rice_balance_after = Σ balance_after_s
  5. Amounts are replayed in the same pass; amount_cumulative is the prefix
     sum of amount_consumed in date order.

CLAMPING:
  Balances never go negative. A clamp yields a NegativeStockAnomaly in the
  result and flags the entry; it is surfaced to the user, not persisted as
  negative inventory.

PROPERTIES:
  - Idempotent: replaying an unchanged month gives identical values
  - Order-independent: the order entries were written in does not matter
  - Non-negative: every rice_balance_after ≥ 0
*/
package consumption

import (
	"sort"

	"github.com/warp/meal-ledger/generic"
)

// ReconcileInput is everything a replay needs. Amount may be nil, in which
// case stored amounts are kept and only the cumulative column is rebuilt.
type ReconcileInput struct {
	Available generic.BySegment
	Rate      generic.BySegment
	Amount    *AmountConfig
	Entries   []DailyEntry
}

// ReconcileResult is the replayed month.
type ReconcileResult struct {
	Entries    []DailyEntry
	Available  generic.BySegment
	Closing    generic.BySegment
	Rice       generic.BySegment
	Amount     generic.BySegment
	Cumulative generic.Amount
	Anomalies  []generic.NegativeStockAnomaly
}

// Entry returns the replayed entry for date, if present.
func (r *ReconcileResult) Entry(date generic.TimePoint) (DailyEntry, bool) {
	for _, e := range r.Entries {
		if e.Date.Equal(date) {
			return e, true
		}
	}
	return DailyEntry{}, false
}

// AnomaliesOn returns the anomalies recorded for date.
func (r *ReconcileResult) AnomaliesOn(date generic.TimePoint) []generic.NegativeStockAnomaly {
	var out []generic.NegativeStockAnomaly
	for _, a := range r.Anomalies {
		if a.Date.Equal(date) {
			out = append(out, a)
		}
	}
	return out
}

// Reconcile replays a month. It does not modify in.Entries.
// Each segment runs and clamps on its own stock: a shortfall in one segment
// is not covered from the other segment's balance.
func Reconcile(in ReconcileInput) ReconcileResult {
	entries := make([]DailyEntry, len(in.Entries))
	copy(entries, in.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})

	available := kg(in.Available)
	result := ReconcileResult{
		Available:  available,
		Rice:       generic.NewBySegment(generic.UnitKilograms),
		Amount:     generic.NewBySegment(generic.UnitRupees),
		Cumulative: generic.ZeroAmount(generic.UnitRupees),
	}
	running := available

	for i := range entries {
		e := &entries[i]
		e.StockAnomaly = false
		consumed := generic.NewBySegment(generic.UnitKilograms)
		after := generic.NewBySegment(generic.UnitKilograms)

		for _, s := range generic.Segments {
			used := generic.NewAmountFromInt(e.Served(s), generic.UnitKilograms).Mul(in.Rate.Get(s).Value)
			left := running.Get(s).Sub(used)
			if left.IsNegative() {
				e.StockAnomaly = true
				result.Anomalies = append(result.Anomalies, generic.NegativeStockAnomaly{
					Date:      e.Date,
					Segment:   s,
					Available: running.Get(s),
					Required:  used,
					Shortfall: left.Neg(),
				})
			}
			consumed.Set(s, used)
			after.Set(s, left.ClampZero())
		}

		e.RiceConsumed = consumed
		e.RiceBalanceAfter = after
		running = after
		result.Rice = result.Rice.Add(consumed)

		if in.Amount != nil {
			e.AmountConsumed = allocate(e.ServedPrimary, e.ServedMiddle, *in.Amount).SegmentTotals()
		} else {
			e.AmountConsumed = rupees(e.AmountConsumed)
		}
		result.Amount = result.Amount.Add(e.AmountConsumed)
		result.Cumulative = result.Cumulative.Add(e.AmountConsumed.Total())
		e.AmountCumulative = result.Cumulative
	}

	result.Entries = entries
	result.Closing = running
	return result
}

func kg(b generic.BySegment) generic.BySegment {
	b.Primary.Unit = generic.UnitKilograms
	b.Middle.Unit = generic.UnitKilograms
	return b
}

func rupees(b generic.BySegment) generic.BySegment {
	b.Primary.Unit = generic.UnitRupees
	b.Middle.Unit = generic.UnitRupees
	return b
}
