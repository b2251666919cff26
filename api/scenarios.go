/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a small
	college: two departments, their faculty and HODs, a principal and an
	admin. Each scenario then files requests that leave something for a
	given role to act on.

AVAILABLE SCENARIOS:

	department:      Directory + default leave types + yearly allocation
	exam-clash:      Faculty request of 3 days waiting on the CSE HOD
	hod-escalation:  HOD request of 2 days (of 10) waiting on the principal
	half-days:       A pending half day and an auto-approved on-duty day

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Load the default catalog and the demo directory via factory
 3. Bulk allocate for the year of the demo dates
 4. File requests through leave.Service, as the applicant would

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "exam-clash"}

	Requests are dated from the Monday after today, so they are always in
	the future and always land on working days.

NOTE:

	Scenarios reset the store. The routes are only mounted when demo mode
	is enabled, and config.Validate refuses demo mode in production.

SEE ALSO:
  - handlers.go: Handler
  - factory/catalog.go: Catalog definitions
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Resetter is implemented by stores that can drop all their data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "department",
		Name:        "Department",
		Description: "Two departments, their staff, and a full yearly allocation",
	},
	{
		ID:          "exam-clash",
		Name:        "Exam Clash",
		Description: "Faculty applied for 3 days of casual leave; the CSE HOD has it in their inbox",
	},
	{
		ID:          "hod-escalation",
		Name:        "HOD Escalation",
		Description: "HOD applied for 2 of their 10 casual days; the principal decides",
	},
	{
		ID:          "half-days",
		Name:        "Half Days",
		Description: "A pending sick half day and an on-duty day approved automatically",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, h *Handler) error{
	"department":     loadDepartmentScenario,
	"exam-clash":     loadExamClashScenario,
	"hod-escalation": loadHODEscalationScenario,
	"half-days":      loadHalfDaysScenario,
}

// DemoMembers is the directory every scenario starts from.
var DemoMembers = []factory.MemberJSON{
	{ID: "fac-cse-1", Name: "Anita Rao", Role: "faculty", DepartmentID: "cse"},
	{ID: "fac-cse-2", Name: "Vikram Shah", Role: "faculty", DepartmentID: "cse"},
	{ID: "fac-ece-1", Name: "Meera Iyer", Role: "faculty", DepartmentID: "ece"},
	{ID: "hod-cse", Name: "R. Natarajan", Role: "hod", DepartmentID: "cse"},
	{ID: "hod-ece", Name: "S. Kulkarni", Role: "hod", DepartmentID: "ece"},
	{ID: "principal", Name: "Dr. P. Menon", Role: "principal"},
	{ID: "admin", Name: "Office Admin", Role: "admin"},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.CurrentScenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario. Admin only.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if actor.Role != leave.RoleAdmin {
		h.writeDomainError(w, &generic.AuthorizationError{Action: "load scenarios"})
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.Seed(r.Context(), req.ScenarioID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data. Admin only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if actor.Role != leave.RoleAdmin {
		h.writeDomainError(w, &generic.AuthorizationError{Action: "reset"})
		return
	}
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.setCurrentScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Seed resets the store and loads scenario id.
func (h *Handler) Seed(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return generic.Invalid("scenario_id", "unknown scenario %q", id)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx, h); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.setCurrentScenario(id)
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

func (h *Handler) CurrentScenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoStart is the first Monday strictly after today.
func (h *Handler) demoStart() time.Time {
	d := generic.Date(h.Now()).AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func loadDepartmentScenario(ctx context.Context, h *Handler) error {
	var raw factory.CatalogJSON
	if err := json.Unmarshal([]byte(factory.DefaultCatalogJSON), &raw); err != nil {
		return err
	}
	raw.Members = DemoMembers
	cat, err := factory.Convert(raw)
	if err != nil {
		return err
	}
	if err := cat.Apply(ctx, h.Store); err != nil {
		return err
	}
	_, err = h.Service.BulkAllocate(ctx, leave.System, h.demoStart().Year())
	return err
}

func loadExamClashScenario(ctx context.Context, h *Handler) error {
	if err := loadDepartmentScenario(ctx, h); err != nil {
		return err
	}
	start := h.demoStart()
	_, err := h.Service.Apply(ctx, leave.Actor{ID: "fac-cse-1", Role: leave.RoleFaculty, DepartmentID: "cse"}, leave.ApplyInput{
		LeaveTypeID: "casual",
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, 2),
		Reason:      "family function out of town",
	})
	return err
}

func loadHODEscalationScenario(ctx context.Context, h *Handler) error {
	if err := loadDepartmentScenario(ctx, h); err != nil {
		return err
	}
	start := h.demoStart()
	if _, err := h.Service.Allocate(ctx, leave.System, leave.AllocateInput{
		UserID:      "hod-cse",
		LeaveTypeID: "casual",
		Year:        start.Year(),
		Amount:      decimal.NewFromInt(10),
	}); err != nil {
		return err
	}
	_, err := h.Service.Apply(ctx, leave.Actor{ID: "hod-cse", Role: leave.RoleHOD, DepartmentID: "cse"}, leave.ApplyInput{
		LeaveTypeID: "casual",
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, 1),
		Reason:      "conference travel",
	})
	return err
}

func loadHalfDaysScenario(ctx context.Context, h *Handler) error {
	if err := loadDepartmentScenario(ctx, h); err != nil {
		return err
	}
	start := h.demoStart()
	applicant := leave.Actor{ID: "fac-cse-2", Role: leave.RoleFaculty, DepartmentID: "cse"}

	thursday := start.AddDate(0, 0, 3)
	if _, err := h.Service.Apply(ctx, applicant, leave.ApplyInput{
		LeaveTypeID:    "sick",
		StartDate:      thursday,
		EndDate:        thursday,
		IsStartHalfDay: true,
		Reason:         "medical appointment",
	}); err != nil {
		return err
	}
	_, err := h.Service.Apply(ctx, applicant, leave.ApplyInput{
		LeaveTypeID: "duty",
		StartDate:   start,
		EndDate:     start,
		Reason:      "external examiner duty",
	})
	return err
}
