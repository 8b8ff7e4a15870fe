/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a school's months with
	realistic data for demos and frontend development. Each scenario applies
	the standard configuration preset, records daily entries and optionally
	drives the month through its lifecycle.

AVAILABLE SCENARIOS:

	fresh-month:      Current month configured, one week of entries
	completed-month:  Previous month completed with a rice report, its
	                  closing carried into the current month
	stock-shortfall:  Current month whose opening stock runs out mid-week
	draft-config:     Current month with rice configured and a salt split
	                  that does not sum to 100

HOW SCENARIOS WORK:
 1. Parse the preset via factory
 2. Save configuration through consumption.Service
 3. Upsert daily entries
 4. Optionally complete the month and generate reports

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "completed-month"}

NOTE:

	Scenarios write into the requesting school's months and never reset
	anything. Load them for a fresh X-School-ID; a completed or locked month
	makes the load fail with the usual lifecycle error.

SEE ALSO:
  - factory/config.go: Preset JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/factory"
	"github.com/warp/meal-ledger/generic"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

const scenarioActor = "demo-loader"

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-month",
		Name:        "Fresh Month",
		Description: "Standard preset, one week of daily entries in the current month",
	},
	{
		ID:          "completed-month",
		Name:        "Completed Month",
		Description: "Previous month completed with reports, closing carried into the current month",
	},
	{
		ID:          "stock-shortfall",
		Name:        "Stock Shortfall",
		Description: "Opening stock runs out mid-week, balances clamp at zero",
	},
	{
		ID:          "draft-config",
		Name:        "Draft Configuration",
		Description: "Salt percentages sum to 95, entries blocked until corrected",
	},
}

var loaders = map[string]func(*Handler, context.Context, generic.SchoolID, generic.MonthKey) error{
	"fresh-month":     (*Handler).loadFreshMonthScenario,
	"completed-month": (*Handler).loadCompletedMonthScenario,
	"stock-shortfall": (*Handler).loadStockShortfallScenario,
	"draft-config":    (*Handler).loadDraftConfigScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into the requesting school.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	school := schoolFrom(r)
	month := generic.Today(ctx, h.Service.Clock()).MonthKey()
	if err := load(h, ctx, school, month); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.Log.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.String("school", string(school)),
		zap.String("month", month.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"month":    month.String(),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFreshMonthScenario(ctx context.Context, school generic.SchoolID, month generic.MonthKey) error {
	if err := h.applyPreset(ctx, school, month, factory.StandardConfigJSON("50", "40")); err != nil {
		return err
	}
	return h.seedWeek(ctx, school, month, 120, 80)
}

func (h *Handler) loadCompletedMonthScenario(ctx context.Context, school generic.SchoolID, month generic.MonthKey) error {
	prev := month.Prev()
	if err := h.applyPreset(ctx, school, prev, factory.StandardConfigJSON("100", "80")); err != nil {
		return err
	}
	if err := h.seedWeek(ctx, school, prev, 110, 75); err != nil {
		return err
	}
	// Configure the current month first so completion replays it against
	// the carried opening.
	if err := h.applyPreset(ctx, school, month, factory.StandardConfigJSON("0", "0")); err != nil {
		return err
	}
	if _, err := h.Service.CompleteMonth(ctx, consumption.CompleteInput{
		School:      school,
		Month:       prev,
		CompletedBy: scenarioActor,
		Notes:       "demo month-end",
	}); err != nil {
		return err
	}
	for _, kind := range []consumption.ReportKind{consumption.ReportRice, consumption.ReportAmount} {
		if _, err := h.Service.GenerateReport(ctx, school, prev, kind, scenarioActor); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadStockShortfallScenario(ctx context.Context, school generic.SchoolID, month generic.MonthKey) error {
	if err := h.applyPreset(ctx, school, month, factory.StandardConfigJSON("30", "20")); err != nil {
		return err
	}
	return h.seedWeek(ctx, school, month, 120, 80)
}

func (h *Handler) loadDraftConfigScenario(ctx context.Context, school generic.SchoolID, month generic.MonthKey) error {
	rice, amount, err := factory.NewConfigFactory().ParseConfig(factory.StandardConfigJSON("50", "40"), school, month)
	if err != nil {
		return err
	}
	amount.Salt.OtherCondiments = amount.Salt.OtherCondiments.Sub(generic.MustParseDecimal("5"))
	if _, err := h.Service.SaveRiceConfig(ctx, *rice, scenarioActor); err != nil {
		return err
	}
	_, err = h.Service.SaveAmountConfig(ctx, *amount, scenarioActor)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// applyPreset saves every section present in the preset.
func (h *Handler) applyPreset(ctx context.Context, school generic.SchoolID, month generic.MonthKey, jsonStr string) error {
	rice, amount, err := factory.NewConfigFactory().ParseConfig(jsonStr, school, month)
	if err != nil {
		return err
	}
	if rice != nil {
		if _, err := h.Service.SaveRiceConfig(ctx, *rice, scenarioActor); err != nil {
			return err
		}
	}
	if amount != nil {
		if _, err := h.Service.SaveAmountConfig(ctx, *amount, scenarioActor); err != nil {
			return err
		}
	}
	return nil
}

// seedWeek records the month's first seven days. Day 7 is a holiday.
func (h *Handler) seedWeek(ctx context.Context, school generic.SchoolID, month generic.MonthKey, primary, middle int) error {
	day := month.Start()
	for i := 0; i < 7; i++ {
		in := consumption.EntryInput{
			School:        school,
			Date:          day.AddDays(i),
			ServedPrimary: primary - i*2,
			ServedMiddle:  middle - i,
		}
		if i == 6 {
			in.ServedPrimary, in.ServedMiddle, in.Remarks = 0, 0, "holiday"
		}
		if _, err := h.Service.CreateOrUpdateDailyEntry(ctx, in); err != nil {
			return err
		}
	}
	return nil
}
