package factory_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meal-ledger/factory"
	"github.com/warp/meal-ledger/generic"
)

var march = generic.NewMonthKey(2025, time.March)

func TestParseConfig_StandardPreset(t *testing.T) {
	// GIVEN
	f := factory.NewConfigFactory()

	// WHEN
	rice, amount, err := f.ParseConfig(factory.StandardConfigJSON("50", "40.5"), "school-1", march)

	// THEN
	require.NoError(t, err)
	require.NotNil(t, rice)
	require.NotNil(t, amount)
	assert.Equal(t, generic.SchoolID("school-1"), rice.School)
	assert.Equal(t, march, amount.Month)
	assert.Equal(t, "0.1", rice.Rate.Primary.Value.String())
	assert.Equal(t, "0.15", rice.Rate.Middle.Value.String())
	assert.Equal(t, "40.5", rice.Opening.Middle.Value.String())
	assert.True(t, rice.Lifted.Primary.Value.IsZero(), "absent lifted defaults to zero")
	assert.Equal(t, "0.77", amount.Middle.Salt.String())
	assert.True(t, amount.Salt.Valid())
}

func TestParseConfig_SingleSection(t *testing.T) {
	f := factory.NewConfigFactory()

	rice, amount, err := f.ParseConfig(`{"rice": {"rate": {"primary": 0.1, "middle": 0.15}, "opening": {"primary": 10, "middle": 5}}}`, "s", march)

	require.NoError(t, err)
	assert.NotNil(t, rice)
	assert.Nil(t, amount)
}

func TestParseConfig_DraftSaltAccepted(t *testing.T) {
	// Percentages summing to 90 still parse; confirmation happens in the service.
	f := factory.NewConfigFactory()
	preset := `{"amount": {
		"primary": {"pulses": "1"}, "middle": {"pulses": "1"},
		"salt_percentages": {"common_salt": "50", "chilli_powder": "40"}
	}}`

	_, amount, err := f.ParseConfig(preset, "s", march)

	require.NoError(t, err)
	assert.False(t, amount.Salt.Valid())
	assert.Equal(t, "10", amount.Salt.Shortfall().String())
}

func TestParseConfig_Errors(t *testing.T) {
	f := factory.NewConfigFactory()

	tests := []struct {
		name    string
		json    string
		invalid bool
	}{
		{"malformed", `{"rice":`, false},
		{"no sections", `{"name": "empty"}`, true},
		{"negative rate", `{"rice": {"rate": {"primary": "-0.1", "middle": "0"}, "opening": {"primary": "0", "middle": "0"}}}`, true},
		{"negative salt share", `{"amount": {"salt_percentages": {"common_salt": "-5"}}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.ParseConfig(tt.json, "s", march)
			require.Error(t, err)
			assert.Equal(t, tt.invalid, generic.IsClientError(err))
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	// GIVEN: A parsed preset
	f := factory.NewConfigFactory()
	rice, amount, err := f.ParseConfig(factory.StandardConfigJSON("12", "8"), "s", march)
	require.NoError(t, err)

	// WHEN: It is exported and parsed again for another month
	data, err := json.Marshal(f.ToJSON("copy", rice, amount))
	require.NoError(t, err)
	april := march.Next()
	rice2, amount2, err := f.ParseConfig(string(data), "s", april)

	// THEN: Values survive, the month changes
	require.NoError(t, err)
	assert.Equal(t, april, rice2.Month)
	assert.True(t, rice.Opening.Primary.Value.Equal(rice2.Opening.Primary.Value))
	assert.True(t, rice.Rate.Middle.Value.Equal(rice2.Rate.Middle.Value))
	assert.True(t, amount.Salt.Sum().Equal(amount2.Salt.Sum()))
	assert.True(t, amount.Primary.Fuel.Equal(amount2.Primary.Fuel))
}

func TestToJSON_NilSections(t *testing.T) {
	cj := factory.NewConfigFactory().ToJSON("none", nil, nil)

	assert.Nil(t, cj.Rice)
	assert.Nil(t, cj.Amount)
}
