/*
allocation.go - Cost Allocation Engine

PURPOSE:
  Converts served counts and per-student daily rates into ₹ amounts per
  category and segment, and explodes the composite salt amount into its
  five subcategories.

FORMULAS:
  amount_s        = served_s × (pulses_s + vegetables_s + oil_s + salt_s + fuel_s)
  amount_consumed = amount_primary + amount_middle
  subcategory     = salt_amount × percentage / 100

SALT SPLIT:
  The split is a view-time computation. Only the composite salt amount is
  derived per entry; the percentages come from the live configuration for
  dashboards and from the report's frozen copy for published reports.
  Each share is rounded to paise and OtherCondiments takes the residue, so
  the shares always sum exactly to the composite.
*/
package consumption

import (
	"github.com/shopspring/decimal"
	"github.com/warp/meal-ledger/generic"
)

// paise precision for published ₹ figures
const moneyPlaces = 2

// =============================================================================
// CATEGORY AMOUNTS
// =============================================================================

// CategoryAmounts are ₹ amounts for one segment.
type CategoryAmounts struct {
	Pulses     decimal.Decimal `json:"pulses"`
	Vegetables decimal.Decimal `json:"vegetables"`
	Oil        decimal.Decimal `json:"oil"`
	Salt       decimal.Decimal `json:"salt"`
	Fuel       decimal.Decimal `json:"fuel"`
}

func (a CategoryAmounts) Total() decimal.Decimal {
	return a.Pulses.Add(a.Vegetables).Add(a.Oil).Add(a.Salt).Add(a.Fuel)
}

func (a CategoryAmounts) Add(b CategoryAmounts) CategoryAmounts {
	return CategoryAmounts{
		Pulses:     a.Pulses.Add(b.Pulses),
		Vegetables: a.Vegetables.Add(b.Vegetables),
		Oil:        a.Oil.Add(b.Oil),
		Salt:       a.Salt.Add(b.Salt),
		Fuel:       a.Fuel.Add(b.Fuel),
	}
}

// Allocation is the per-category split of one day (or a sum of days).
type Allocation struct {
	Primary CategoryAmounts `json:"primary"`
	Middle  CategoryAmounts `json:"middle"`
}

func (a Allocation) Segment(s generic.Segment) CategoryAmounts {
	if s == generic.SegmentMiddle {
		return a.Middle
	}
	return a.Primary
}

func (a Allocation) Add(b Allocation) Allocation {
	return Allocation{Primary: a.Primary.Add(b.Primary), Middle: a.Middle.Add(b.Middle)}
}

// SegmentTotals returns the ₹ total per segment.
func (a Allocation) SegmentTotals() generic.BySegment {
	return generic.BySegment{
		Primary: generic.NewAmountFromDecimal(a.Primary.Total(), generic.UnitRupees),
		Middle:  generic.NewAmountFromDecimal(a.Middle.Total(), generic.UnitRupees),
	}
}

func (a Allocation) Total() decimal.Decimal {
	return a.Primary.Total().Add(a.Middle.Total())
}

// =============================================================================
// ALLOCATE
// =============================================================================

func allocateSegment(served int, r SegmentRates) CategoryAmounts {
	n := decimal.NewFromInt(int64(served))
	return CategoryAmounts{
		Pulses:     n.Mul(r.Pulses),
		Vegetables: n.Mul(r.Vegetables),
		Oil:        n.Mul(r.Oil),
		Salt:       n.Mul(r.Salt),
		Fuel:       n.Mul(r.Fuel),
	}
}

// Allocate computes the category amounts for the given served counts.
// It fails with a ConfigurationIncompleteError unless cfg is confirmed.
func Allocate(servedPrimary, servedMiddle int, cfg AmountConfig) (Allocation, error) {
	if !cfg.Confirmed || !cfg.Salt.Valid() {
		if perr := cfg.Check(); perr != nil {
			return Allocation{}, perr
		}
		return Allocation{}, &generic.ConfigurationIncompleteError{
			School: cfg.School, Month: cfg.Month,
			Missing: []string{"amount configuration not confirmed"},
		}
	}
	return allocate(servedPrimary, servedMiddle, cfg), nil
}

func allocate(servedPrimary, servedMiddle int, cfg AmountConfig) Allocation {
	return Allocation{
		Primary: allocateSegment(servedPrimary, cfg.Primary),
		Middle:  allocateSegment(servedMiddle, cfg.Middle),
	}
}

// AllocateEntry is Allocate for a stored daily entry.
func AllocateEntry(e DailyEntry, cfg AmountConfig) (Allocation, error) {
	return Allocate(e.ServedPrimary, e.ServedMiddle, cfg)
}

// =============================================================================
// SALT SPLIT
// =============================================================================

// SaltSplit is a composite salt amount exploded into subcategories.
type SaltSplit struct {
	CommonSalt      decimal.Decimal `json:"common_salt"`
	ChilliPowder    decimal.Decimal `json:"chilli_powder"`
	Turmeric        decimal.Decimal `json:"turmeric"`
	Coriander       decimal.Decimal `json:"coriander"`
	OtherCondiments decimal.Decimal `json:"other_condiments"`
}

func (s SaltSplit) Total() decimal.Decimal {
	return s.CommonSalt.Add(s.ChilliPowder).Add(s.Turmeric).Add(s.Coriander).Add(s.OtherCondiments)
}

func (s *SaltSplit) set(c SaltSubcategory, v decimal.Decimal) {
	switch c {
	case SaltCommon:
		s.CommonSalt = v
	case SaltChilliPowder:
		s.ChilliPowder = v
	case SaltTurmeric:
		s.Turmeric = v
	case SaltCoriander:
		s.Coriander = v
	default:
		s.OtherCondiments = v
	}
}

// SplitSalt explodes a composite salt amount using the given percentages.
func SplitSalt(composite decimal.Decimal, p SaltPercentages) SaltSplit {
	var (
		split     SaltSplit
		allocated = decimal.Zero
		last      = len(SaltSubcategories) - 1
	)
	for i, c := range SaltSubcategories {
		if i == last {
			split.set(c, composite.Round(moneyPlaces).Sub(allocated))
			break
		}
		share := composite.Mul(p.Get(c)).Div(hundred).Round(moneyPlaces)
		split.set(c, share)
		allocated = allocated.Add(share)
	}
	return split
}

// SegmentSaltSplit holds a salt split per segment.
type SegmentSaltSplit struct {
	Primary SaltSplit `json:"primary"`
	Middle  SaltSplit `json:"middle"`
}

// SplitAllocationSalt splits the salt of both segments of an allocation.
func SplitAllocationSalt(a Allocation, p SaltPercentages) SegmentSaltSplit {
	return SegmentSaltSplit{
		Primary: SplitSalt(a.Primary.Salt, p),
		Middle:  SplitSalt(a.Middle.Salt, p),
	}
}
