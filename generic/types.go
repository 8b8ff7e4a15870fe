/*
Package generic provides the domain-agnostic primitives of the ledger engine.

PURPOSE:
  This package holds the small value types every other package builds on:
  quantities with units, calendar days, month keys, errors, locks and the
  clock. It knows nothing about rice, schools or reports; the consumption
  package layers those semantics on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 12.5 kg of rice, ₹340.20)
  - Segment: One of the two student populations tracked separately
  - SchoolID: Type-safe owner identifier; every record is partitioned by it

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so running balances never drift
  2. Type Safety: Strong typing for IDs and units prevents mixing kg with ₹
  3. Partitioning: Nothing crosses a SchoolID boundary

USAGE:
  rate := generic.MustParseDecimal("0.1")
  consumed := generic.NewAmountFromInt(200, generic.UnitKilograms).Mul(rate)

SEE ALSO:
  - period.go: Month keys and month periods
  - errors.go: Error taxonomy
  - lock.go: Per-month mutual exclusion
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitKilograms Unit = "kg"
	UnitRupees    Unit = "INR"
	UnitStudents  Unit = "students"
	UnitPercent   Unit = "percent"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func ZeroAmount(unit Unit) Amount {
	return Amount{Value: decimal.Zero, Unit: unit}
}

// MustParseDecimal parses s and panics on malformed input. Use it for
// constants only.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) && a.Unit == b.Unit }
func (a Amount) Round(places int32) Amount    { return Amount{Value: a.Value.Round(places), Unit: a.Unit} }
func (a Amount) String() string               { return a.Value.String() + " " + string(a.Unit) }

// ClampZero returns the amount floored at zero. Physical stock is never negative.
func (a Amount) ClampZero() Amount {
	if a.IsNegative() {
		return a.Zero()
	}
	return a
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SchoolID string

// Segment identifies a student population. Balances, rates and amounts are
// always tracked per segment.
type Segment string

const (
	SegmentPrimary Segment = "primary"
	SegmentMiddle  Segment = "middle"
)

// Segments lists every segment in a stable order. Loops over segments must use
// this so derived output is deterministic.
var Segments = []Segment{SegmentPrimary, SegmentMiddle}

func (s Segment) Valid() bool {
	return s == SegmentPrimary || s == SegmentMiddle
}

// BySegment holds one amount per segment.
type BySegment struct {
	Primary Amount
	Middle  Amount
}

func NewBySegment(unit Unit) BySegment {
	return BySegment{Primary: ZeroAmount(unit), Middle: ZeroAmount(unit)}
}

func (b BySegment) Get(s Segment) Amount {
	if s == SegmentMiddle {
		return b.Middle
	}
	return b.Primary
}

func (b *BySegment) Set(s Segment, a Amount) {
	if s == SegmentMiddle {
		b.Middle = a
		return
	}
	b.Primary = a
}

func (b BySegment) Add(o BySegment) BySegment {
	return BySegment{Primary: b.Primary.Add(o.Primary), Middle: b.Middle.Add(o.Middle)}
}

// Total sums both segments.
func (b BySegment) Total() Amount {
	return b.Primary.Add(b.Middle)
}
