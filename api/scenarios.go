/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates identities, runs a
	report through the real resolution pipeline, and leaves the ledger and
	review queue in a state that demonstrates a specific feature.

AVAILABLE SCENARIOS:

	clean-crew:      Known crew, every name resolves exactly
	ambiguous-crew:  A spoken "Mike" matching two employees, held for review
	new-hires:       Unknown names creating incomplete identities
	corrections:     Corrected, approved, and rejected entries

HOW SCENARIOS WORK:
 1. Reset the database (clear all data)
 2. Create and activate identities
 3. Process a report through the processor
 4. Optionally correct or sign off entries

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "ambiguous-crew"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - report/processor.go: The pipeline scenarios drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/report"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Resetter clears every table. Wired only so demo scenarios can start
// from a clean slate.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "clean-crew",
		Name:        "Clean Crew",
		Description: "Four active employees, one report, every name resolves exactly",
		Category:    "resolution",
	},
	{
		ID:          "ambiguous-crew",
		Name:        "Ambiguous Crew",
		Description: "A spoken 'Mike' matches two employees and is held for review",
		Category:    "resolution",
	},
	{
		ID:          "new-hires",
		Name:        "New Hires",
		Description: "Unknown names create incomplete identities with flagged entries",
		Category:    "resolution",
	},
	{
		ID:          "corrections",
		Name:        "Corrections",
		Description: "A corrected entry plus approved and rejected ones",
		Category:    "ledger",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Resetter == nil {
		writeError(w, http.StatusNotFound, "Scenario loading is not enabled", nil)
		return
	}

	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.Resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "clean-crew":
		err = loadCleanCrewScenario(ctx, h)
	case "ambiguous-crew":
		err = loadAmbiguousCrewScenario(ctx, h)
	case "new-hires":
		err = loadNewHiresScenario(ctx, h)
	case "corrections":
		err = loadCorrectionsScenario(ctx, h)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"scenario_id": req.ScenarioID,
		"status":      "loaded",
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func seedEmployee(ctx context.Context, h *Handler, name, number string, hourly, overtime float64) error {
	ident, err := h.Index.CreateIdentity(ctx, name, []string{name})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := h.Index.Activate(ctx, ident.ID, number,
		decimal.NewFromFloat(hourly), decimal.NewFromFloat(overtime)); err != nil {
		return fmt.Errorf("activate %s: %w", name, err)
	}
	return nil
}

// demoDay is yesterday at midnight UTC, so demo entries always sit
// inside recent-window queries.
func demoDay() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func loadCleanCrewScenario(ctx context.Context, h *Handler) error {
	crew := []struct {
		name, number     string
		hourly, overtime float64
	}{
		{"Tommy Rodriguez", "E-1001", 30, 45},
		{"Maria Lopez", "E-1002", 32.5, 48.75},
		{"Michael Anderson", "E-1003", 28, 42},
		{"Sarah Chen", "E-1004", 35, 52.5},
	}
	for _, c := range crew {
		if err := seedEmployee(ctx, h, c.name, c.number, c.hourly, c.overtime); err != nil {
			return err
		}
	}

	_, err := h.Processor.ProcessReport(ctx, "demo-report-1", "demo-project", demoDay(), []report.Tuple{
		{Name: "Tommy Rodriguez", RegularHours: 8},
		{Name: "Maria Lopez", RegularHours: 8, OvertimeHours: 2},
		{Name: "Michael Anderson", RegularHours: 8, DoubletimeHours: 1},
		{Name: "Sarah Chen", RegularHours: 6},
	})
	return err
}

func loadAmbiguousCrewScenario(ctx context.Context, h *Handler) error {
	if err := seedEmployee(ctx, h, "Michael Anderson", "E-1003", 28, 42); err != nil {
		return err
	}
	if err := seedEmployee(ctx, h, "Mike Smith", "E-1005", 30, 45); err != nil {
		return err
	}
	if err := seedEmployee(ctx, h, "Tommy Rodriguez", "E-1001", 30, 45); err != nil {
		return err
	}

	_, err := h.Processor.ProcessReport(ctx, "demo-report-1", "demo-project", demoDay(), []report.Tuple{
		{Name: "Tommy Rodriguez", RegularHours: 8},
		{Name: "Mike", RegularHours: 6, OvertimeHours: 1},
	})
	return err
}

func loadNewHiresScenario(ctx context.Context, h *Handler) error {
	if err := seedEmployee(ctx, h, "Maria Lopez", "E-1002", 32.5, 48.75); err != nil {
		return err
	}

	_, err := h.Processor.ProcessReport(ctx, "demo-report-1", "demo-project", demoDay(), []report.Tuple{
		{Name: "Maria Lopez", RegularHours: 8},
		{Name: "Dale Cooper", RegularHours: 8},
		{Name: "Audrey Horne", RegularHours: 7, OvertimeHours: 1},
	})
	return err
}

func loadCorrectionsScenario(ctx context.Context, h *Handler) error {
	if err := loadCleanCrewScenario(ctx, h); err != nil {
		return err
	}

	entries, err := h.Ledger.EntriesByReport(ctx, "demo-report-1")
	if err != nil {
		return err
	}
	if len(entries) < 3 {
		return fmt.Errorf("expected at least 3 demo entries, got %d", len(entries))
	}

	hours := entries[0].Hours
	hours.Regular = decimal.NewFromInt(6)
	if _, err := h.Ledger.CorrectEntry(ctx, entries[0].ID, &hours, "hours overstated on report", "demo-admin"); err != nil {
		return err
	}
	if err := h.Ledger.Approve(ctx, entries[1].ID, "demo-supervisor"); err != nil {
		return err
	}
	return h.Ledger.Reject(ctx, entries[2].ID, "demo-supervisor", "not on site that day")
}
