/*
Package factory provides JSON to Go month configuration conversion.

PURPOSE:
  Converts JSON configuration presets into consumption.RiceConfig and
  consumption.AmountConfig values. A district office can publish its
  per-student norms once as JSON and every school applies it to a month
  without retyping ten rates and five percentages.

JSON SCHEMA:
  {
    "name": "pm-poshan-standard",
    "rice": {
      "rate":     {"primary": "0.1", "middle": "0.15"},
      "opening":  {"primary": "50",  "middle": "40"},
      "lifted":   {"primary": "0",   "middle": "0"},
      "arranged": {"primary": "0",   "middle": "0"}
    },
    "amount": {
      "primary": {"pulses": "2.00", "vegetables": "1.50", "oil": "0.80", "salt": "0.50", "fuel": "0.65"},
      "middle":  {"pulses": "3.00", "vegetables": "2.20", "oil": "1.20", "salt": "0.77", "fuel": "1.00"},
      "salt_percentages": {
        "common_salt": "40", "chilli_powder": "20", "turmeric": "15",
        "coriander": "15", "other_condiments": "10"
      }
    }
  }

  Both sections are optional. Numbers may be JSON numbers or strings; strings
  keep exact decimals.

USAGE:
  f := factory.NewConfigFactory()
  rice, amount, err := f.ParseConfig(jsonStr, school, month)

  // Preset with this month's opening stock
  jsonStr := factory.StandardConfigJSON("50", "40")

SEE ALSO:
  - consumption/types.go: RiceConfig, AmountConfig
  - api/scenarios.go: Demo months built from presets
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of a month configuration preset.
type ConfigJSON struct {
	Name   string      `json:"name,omitempty"`
	Rice   *RiceJSON   `json:"rice,omitempty"`
	Amount *AmountJSON `json:"amount,omitempty"`
}

// SegmentJSON is a primary/middle pair.
type SegmentJSON struct {
	Primary decimal.Decimal `json:"primary"`
	Middle  decimal.Decimal `json:"middle"`
}

// RiceJSON represents the rice section. Lifted and Arranged default to zero.
type RiceJSON struct {
	Rate     SegmentJSON  `json:"rate"`
	Opening  SegmentJSON  `json:"opening"`
	Lifted   *SegmentJSON `json:"lifted,omitempty"`
	Arranged *SegmentJSON `json:"arranged,omitempty"`
}

// AmountJSON represents the cooking-cost section.
type AmountJSON struct {
	Primary consumption.SegmentRates    `json:"primary"`
	Middle  consumption.SegmentRates    `json:"middle"`
	Salt    consumption.SaltPercentages `json:"salt_percentages"`
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts JSON presets to month configurations.
type ConfigFactory struct{}

func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{}
}

// ParseConfig parses a JSON preset and binds it to (school, month). Either
// returned configuration is nil when its section is absent.
func (f *ConfigFactory) ParseConfig(jsonStr string, school generic.SchoolID, month generic.MonthKey) (*consumption.RiceConfig, *consumption.AmountConfig, error) {
	var cj ConfigJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return f.FromJSON(cj, school, month)
}

// FromJSON converts ConfigJSON into configurations for (school, month) and
// validates them. The salt percentage sum is not checked here: a preset may
// carry a draft split, and the service decides whether it can be confirmed.
func (f *ConfigFactory) FromJSON(cj ConfigJSON, school generic.SchoolID, month generic.MonthKey) (*consumption.RiceConfig, *consumption.AmountConfig, error) {
	if cj.Rice == nil && cj.Amount == nil {
		return nil, nil, fmt.Errorf("%w: config preset %q has neither rice nor amount", generic.ErrInvalidInput, cj.Name)
	}

	var rice *consumption.RiceConfig
	if cj.Rice != nil {
		rice = &consumption.RiceConfig{
			School:   school,
			Month:    month,
			Rate:     kg(&cj.Rice.Rate),
			Opening:  kg(&cj.Rice.Opening),
			Lifted:   kg(cj.Rice.Lifted),
			Arranged: kg(cj.Rice.Arranged),
		}
		if err := rice.Validate(); err != nil {
			return nil, nil, err
		}
	}

	var amount *consumption.AmountConfig
	if cj.Amount != nil {
		amount = &consumption.AmountConfig{
			School:  school,
			Month:   month,
			Primary: cj.Amount.Primary,
			Middle:  cj.Amount.Middle,
			Salt:    cj.Amount.Salt,
		}
		if err := amount.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return rice, amount, nil
}

// ToJSON converts configurations back to a preset. Either may be nil.
func (f *ConfigFactory) ToJSON(name string, rice *consumption.RiceConfig, amount *consumption.AmountConfig) ConfigJSON {
	cj := ConfigJSON{Name: name}
	if rice != nil {
		lifted, arranged := segmentJSON(rice.Lifted), segmentJSON(rice.Arranged)
		cj.Rice = &RiceJSON{
			Rate:     segmentJSON(rice.Rate),
			Opening:  segmentJSON(rice.Opening),
			Lifted:   &lifted,
			Arranged: &arranged,
		}
	}
	if amount != nil {
		cj.Amount = &AmountJSON{Primary: amount.Primary, Middle: amount.Middle, Salt: amount.Salt}
	}
	return cj
}

func kg(s *SegmentJSON) generic.BySegment {
	if s == nil {
		return generic.NewBySegment(generic.UnitKilograms)
	}
	return generic.BySegment{
		Primary: generic.NewAmountFromDecimal(s.Primary, generic.UnitKilograms),
		Middle:  generic.NewAmountFromDecimal(s.Middle, generic.UnitKilograms),
	}
}

func segmentJSON(b generic.BySegment) SegmentJSON {
	return SegmentJSON{Primary: b.Primary.Value, Middle: b.Middle.Value}
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardConfigJSON is the PM POSHAN norm: 100 g (primary) and 150 g
// (middle) of rice per student per day, ₹5.45 and ₹8.17 cooking cost.
func StandardConfigJSON(openingPrimary, openingMiddle string) string {
	return fmt.Sprintf(`{
		"name": "pm-poshan-standard",
		"rice": {
			"rate":    {"primary": "0.1", "middle": "0.15"},
			"opening": {"primary": %q, "middle": %q}
		},
		"amount": {
			"primary": {"pulses": "2.00", "vegetables": "1.50", "oil": "0.80", "salt": "0.50", "fuel": "0.65"},
			"middle":  {"pulses": "3.00", "vegetables": "2.20", "oil": "1.20", "salt": "0.77", "fuel": "1.00"},
			"salt_percentages": {
				"common_salt": "40", "chilli_powder": "20", "turmeric": "15",
				"coriander": "15", "other_condiments": "10"
			}
		}
	}`, openingPrimary, openingMiddle)
}
