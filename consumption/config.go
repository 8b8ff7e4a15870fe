package consumption

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/meal-ledger/generic"
)

// =============================================================================
// SALT PERCENTAGES
// =============================================================================

var (
	hundred = decimal.NewFromInt(100)

	// PercentageTolerance is how far the five salt percentages may stray
	// from 100 and still count as confirmed.
	PercentageTolerance = decimal.RequireFromString("0.01")
)

// SaltSubcategory names one share of the composite salt amount.
type SaltSubcategory string

const (
	SaltCommon          SaltSubcategory = "common_salt"
	SaltChilliPowder    SaltSubcategory = "chilli_powder"
	SaltTurmeric        SaltSubcategory = "turmeric"
	SaltCoriander       SaltSubcategory = "coriander"
	SaltOtherCondiments SaltSubcategory = "other_condiments"
)

// SaltSubcategories in display order. OtherCondiments is last and absorbs
// rounding residue when splitting.
var SaltSubcategories = []SaltSubcategory{
	SaltCommon, SaltChilliPowder, SaltTurmeric, SaltCoriander, SaltOtherCondiments,
}

func (p SaltPercentages) Get(c SaltSubcategory) decimal.Decimal {
	switch c {
	case SaltCommon:
		return p.CommonSalt
	case SaltChilliPowder:
		return p.ChilliPowder
	case SaltTurmeric:
		return p.Turmeric
	case SaltCoriander:
		return p.Coriander
	default:
		return p.OtherCondiments
	}
}

func (p SaltPercentages) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range SaltSubcategories {
		sum = sum.Add(p.Get(c))
	}
	return sum
}

// Shortfall is 100 minus the sum; negative when the sum overshoots.
func (p SaltPercentages) Shortfall() decimal.Decimal {
	return hundred.Sub(p.Sum())
}

// Valid reports whether the percentages sum to 100 within tolerance.
func (p SaltPercentages) Valid() bool {
	return p.Shortfall().Abs().LessThanOrEqual(PercentageTolerance)
}

func (p SaltPercentages) hasNegative() bool {
	for _, c := range SaltSubcategories {
		if p.Get(c).IsNegative() {
			return true
		}
	}
	return false
}

// =============================================================================
// RICE CONFIGURATION
// =============================================================================

// Validate checks the rice configuration is well formed.
func (c RiceConfig) Validate() error {
	if c.School == "" || !c.Month.Valid() {
		return fmt.Errorf("%w: rice config needs a school and a month", generic.ErrInvalidInput)
	}
	fields := []struct {
		name string
		v    generic.BySegment
	}{
		{"rate", c.Rate}, {"opening", c.Opening}, {"lifted", c.Lifted}, {"arranged", c.Arranged},
	}
	for _, f := range fields {
		for _, s := range generic.Segments {
			if f.v.Get(s).IsNegative() {
				return fmt.Errorf("%w: rice %s for %s must not be negative", generic.ErrInvalidInput, f.name, s)
			}
		}
	}
	return nil
}

// Available is the stock a month starts reconciling from: the base opening
// plus everything lifted and arranged during the month.
func (c RiceConfig) Available(base generic.BySegment) generic.BySegment {
	return base.Add(c.Lifted).Add(c.Arranged)
}

// normalize stamps kg on every field so zero values compare and print cleanly.
func (c *RiceConfig) normalize() {
	for _, b := range []*generic.BySegment{&c.Rate, &c.Opening, &c.Lifted, &c.Arranged} {
		b.Primary.Unit = generic.UnitKilograms
		b.Middle.Unit = generic.UnitKilograms
	}
}

// =============================================================================
// AMOUNT CONFIGURATION
// =============================================================================

func (r SegmentRates) Total() decimal.Decimal {
	return r.Pulses.Add(r.Vegetables).Add(r.Oil).Add(r.Salt).Add(r.Fuel)
}

func (r SegmentRates) hasNegative() bool {
	for _, v := range []decimal.Decimal{r.Pulses, r.Vegetables, r.Oil, r.Salt, r.Fuel} {
		if v.IsNegative() {
			return true
		}
	}
	return false
}

func (c AmountConfig) Rates(s generic.Segment) SegmentRates {
	if s == generic.SegmentMiddle {
		return c.Middle
	}
	return c.Primary
}

// Validate checks the amount configuration is well formed. It does not
// check the percentage sum; see Check.
func (c AmountConfig) Validate() error {
	if c.School == "" || !c.Month.Valid() {
		return fmt.Errorf("%w: amount config needs a school and a month", generic.ErrInvalidInput)
	}
	if c.Primary.hasNegative() || c.Middle.hasNegative() {
		return fmt.Errorf("%w: amount rates must not be negative", generic.ErrInvalidInput)
	}
	if c.Salt.hasNegative() {
		return fmt.Errorf("%w: salt percentages must not be negative", generic.ErrInvalidInput)
	}
	return nil
}

// Check returns a ConfigurationIncompleteError when the salt percentages do
// not sum to 100, nil when the configuration is usable for allocation.
func (c AmountConfig) Check() *generic.ConfigurationIncompleteError {
	if c.Salt.Valid() {
		return nil
	}
	sum := c.Salt.Sum()
	shortfall := c.Salt.Shortfall()
	return &generic.ConfigurationIncompleteError{
		School:        c.School,
		Month:         c.Month,
		Missing:       []string{"salt percentages must sum to 100"},
		PercentageSum: &sum,
		Shortfall:     &shortfall,
	}
}

// =============================================================================
// COMPLETENESS
// =============================================================================

// requireConfigs fails unless the month has a rice configuration and a
// confirmed amount configuration.
func requireConfigs(school generic.SchoolID, month generic.MonthKey, rice *RiceConfig, amount *AmountConfig) error {
	var missing []string
	if rice == nil {
		missing = append(missing, "rice configuration")
	}
	if amount == nil {
		missing = append(missing, "amount configuration")
	} else if !amount.Confirmed || !amount.Salt.Valid() {
		if perr := amount.Check(); perr != nil {
			perr.Missing = append(missing, perr.Missing...)
			return perr
		}
		missing = append(missing, "amount configuration not confirmed")
	}
	if len(missing) == 0 {
		return nil
	}
	return &generic.ConfigurationIncompleteError{School: school, Month: month, Missing: missing}
}
