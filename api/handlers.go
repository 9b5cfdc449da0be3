/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes identity resolution, the payroll ledger, the review queue, and
  payroll export via REST. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Reports:
    POST   /api/reports/{id}/process       Process extracted tuples
    GET    /api/reports/{id}/entries       Entries for a report

  Identities:
    GET    /api/identities                 List active identities
    GET    /api/identities/lookup          Exact lookup by name/alias/number
    GET    /api/identities/{id}            Get identity + aliases
    GET    /api/identities/{id}/entries    Entries in a date range
    GET    /api/identities/{id}/hours      Hours/pay summary
    POST   /api/identities/{id}/activate   Complete with number + rates
    POST   /api/identities/{id}/merge      Admin merge into target

  Projects:
    GET    /api/projects/{id}/entries
    GET    /api/projects/{id}/labor-cost

  Entries:
    POST   /api/entries/{id}/correct|approve|reject

  Review:
    GET    /api/review
    POST   /api/review/{id}/resolve-ambiguous
    POST   /api/review/{id}/resolve-entry

  Export:
    GET    /api/export/payroll.csv?from=&to=

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (collision, concurrent modification, double resolve)
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware. Authn/z is out of scope here and is
  expected at the deployment boundary.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/report"
	"github.com/warp/payroll-engine/review"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Index      *identity.Index
	Ledger     *ledger.Ledger
	Aggregator *ledger.Aggregator
	Queue      *review.Queue
	Processor  *report.Processor
	Exporter   *report.Exporter

	// Resetter enables demo scenario loading when set. Leave nil in
	// production deployments.
	Resetter Resetter

	currentScenario string
}

// NewHandler wires the handler with its domain dependencies.
func NewHandler(index *identity.Index, led *ledger.Ledger, agg *ledger.Aggregator, queue *review.Queue, proc *report.Processor, exp *report.Exporter) *Handler {
	return &Handler{
		Index:      index,
		Ledger:     led,
		Aggregator: agg,
		Queue:      queue,
		Processor:  proc,
		Exporter:   exp,
	}
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ProcessReport resolves and ledgers every tuple of one report.
// POST /api/reports/{id}/process
func (h *Handler) ProcessReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "id")

	var req ProcessReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required", nil)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	tuples := make([]report.Tuple, len(req.Tuples))
	for i, t := range req.Tuples {
		tuples[i] = report.Tuple{
			Name:            t.Name,
			Arrival:         t.Arrival,
			Departure:       t.Departure,
			RegularHours:    t.RegularHours,
			OvertimeHours:   t.OvertimeHours,
			DoubletimeHours: t.DoubletimeHours,
			Activities:      t.Activities,
			Confidence:      t.Confidence,
		}
	}

	outcomes, err := h.Processor.ProcessReport(r.Context(), reportID, req.ProjectID, date, tuples)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process report", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_id": reportID,
		"outcomes":  outcomes,
	})
}

// ReportEntries returns all entries for a report.
// GET /api/reports/{id}/entries
func (h *Handler) ReportEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.EntriesByReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// IDENTITY HANDLERS
// =============================================================================

// ListIdentities returns all active identities.
// GET /api/identities
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	idents, err := h.Index.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list identities", err)
		return
	}
	dtos := make([]IdentityDTO, len(idents))
	for i, ident := range idents {
		dtos[i] = toIdentityDTO(ident, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LookupIdentity does an exact lookup by one of name, alias, or
// employee_number.
// GET /api/identities/lookup?name=|alias=|employee_number=
func (h *Handler) LookupIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		ident *identity.Identity
		err   error
	)
	switch {
	case q.Get("name") != "":
		ident, err = h.Index.LookupByCanonicalName(ctx, q.Get("name"))
	case q.Get("alias") != "":
		ident, err = h.Index.LookupByAlias(ctx, q.Get("alias"))
	case q.Get("employee_number") != "":
		ident, err = h.Index.LookupByEmployeeNumber(ctx, q.Get("employee_number"))
	default:
		writeError(w, http.StatusBadRequest, "One of name, alias, employee_number is required", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Lookup failed", err)
		return
	}
	if ident == nil {
		writeError(w, http.StatusNotFound, "Identity not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityDTO(ident, nil))
}

// GetIdentity returns one identity with its aliases.
// GET /api/identities/{id}
func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	ident, err := h.Index.Get(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get identity", err)
		return
	}
	aliases, err := h.Index.Aliases(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list aliases", err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityDTO(ident, aliases))
}

// IdentityEntries returns an identity's entries in a date range.
// GET /api/identities/{id}/entries?from=&to=
func (h *Handler) IdentityEntries(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	entries, err := h.Ledger.EntriesByIdentity(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// IdentityHours returns summed hours and pay for an identity.
// GET /api/identities/{id}/hours?from=&to=
func (h *Handler) IdentityHours(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	sum, err := h.Aggregator.HoursForIdentity(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate hours", err)
		return
	}
	writeJSON(w, http.StatusOK, toHoursSummaryDTO(sum))
}

// ActivateIdentity completes an Incomplete identity with its employee
// number and default rates.
// POST /api/identities/{id}/activate
func (h *Handler) ActivateIdentity(w http.ResponseWriter, r *http.Request) {
	var req ActivateIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	hourly, err := decimal.NewFromString(req.HourlyRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hourly_rate", err)
		return
	}
	overtime, err := decimal.NewFromString(req.OvertimeRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid overtime_rate", err)
		return
	}

	ident, err := h.Index.Activate(r.Context(), chi.URLParam(r, "id"), req.EmployeeNumber, hourly, overtime)
	if err != nil {
		writeDomainError(w, "Failed to activate identity", err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityDTO(ident, nil))
}

// MergeIdentity folds the identity in the URL into the request target.
// POST /api/identities/{id}/merge
func (h *Handler) MergeIdentity(w http.ResponseWriter, r *http.Request) {
	var req MergeIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required", nil)
		return
	}

	sourceID := chi.URLParam(r, "id")
	if err := h.Index.MergeIdentity(r.Context(), sourceID, req.TargetID, req.Actor); err != nil {
		writeDomainError(w, "Failed to merge identity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"source_id": sourceID,
		"target_id": req.TargetID,
		"status":    "merged",
	})
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ProjectEntries returns a project's entries in a date range.
// GET /api/projects/{id}/entries?from=&to=
func (h *Handler) ProjectEntries(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	entries, err := h.Ledger.EntriesByProject(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// ProjectLaborCost returns a project's labor cost grouped by identity.
// GET /api/projects/{id}/labor-cost?from=&to=
func (h *Handler) ProjectLaborCost(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	cost, err := h.Aggregator.LaborCostForProject(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate labor cost", err)
		return
	}

	dto := LaborCostDTO{ProjectID: cost.ProjectID, Total: cost.Total.StringFixed(2)}
	for _, row := range cost.Rows {
		dto.Rows = append(dto.Rows, LaborCostRowDTO{
			IdentityID: row.IdentityID,
			Hours:      toHoursSummaryDTO(row.Hours),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// CorrectEntry supersedes an entry with a corrected replacement.
// POST /api/entries/{id}/correct
func (h *Handler) CorrectEntry(w http.ResponseWriter, r *http.Request) {
	var req CorrectEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Ledger.CorrectEntry(r.Context(), chi.URLParam(r, "id"), toHoursOverride(req.Hours), req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to correct entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// ApproveEntry transitions a pending entry to approved.
// POST /api/entries/{id}/approve
func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Ledger.Approve(r.Context(), chi.URLParam(r, "id"), req.Actor); err != nil {
		writeDomainError(w, "Failed to approve entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectEntry transitions a pending entry to rejected.
// POST /api/entries/{id}/reject
func (h *Handler) RejectEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Ledger.Reject(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason); err != nil {
		writeDomainError(w, "Failed to reject entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// =============================================================================
// REVIEW HANDLERS
// =============================================================================

// ListReviewItems returns review items, open-only unless ?all=1.
// GET /api/review
func (h *Handler) ListReviewItems(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("all") != "1"
	items, err := h.Queue.List(r.Context(), openOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list review items", err)
		return
	}
	dtos := make([]ReviewItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toReviewItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResolveAmbiguous closes an identity-decision item with a choice.
// POST /api/review/{id}/resolve-ambiguous
func (h *Handler) ResolveAmbiguous(w http.ResponseWriter, r *http.Request) {
	var req ResolveAmbiguousRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Choice == "" {
		writeError(w, http.StatusBadRequest, "choice is required", nil)
		return
	}

	ident, entry, err := h.Queue.ResolveAmbiguous(r.Context(), chi.URLParam(r, "id"), req.Choice, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to resolve review item", err)
		return
	}

	resp := map[string]any{"identity": toIdentityDTO(ident, nil)}
	if entry != nil {
		resp["entry"] = toEntryDTO(entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResolveEntry closes an entry-incomplete item by correcting the entry.
// POST /api/review/{id}/resolve-entry
func (h *Handler) ResolveEntry(w http.ResponseWriter, r *http.Request) {
	var req ResolveEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Queue.ResolveIncompleteEntry(r.Context(), chi.URLParam(r, "id"), toHoursOverride(req.Hours), req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to resolve review item", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportPayrollCSV streams the payroll CSV for a date range.
// GET /api/export/payroll.csv?from=&to=
func (h *Handler) ExportPayrollCSV(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="payroll_%s_%s.csv"`,
			from.Format("2006-01-02"), to.Format("2006-01-02")))
	if err := h.Exporter.WriteCSV(r.Context(), w, from, to); err != nil {
		// Headers are gone; the truncated body is the best signal left.
		fmt.Fprintf(w, "\nexport failed: %v\n", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// parseRange reads the from/to query params (YYYY-MM-DD, both required).
func parseRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return time.Time{}, time.Time{}, false
	}
	to, err = time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from", nil)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func toHoursOverride(in *HoursInput) *ledger.Hours {
	if in == nil {
		return nil
	}
	h := ledger.NewHours(in.RegularHours, in.OvertimeHours, in.DoubletimeHours)
	return &h
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, identity.ErrIdentityNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, review.ErrItemNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, identity.ErrAliasCollision),
		errors.Is(err, identity.ErrConcurrentModification),
		errors.Is(err, ledger.ErrAlreadySuperseded),
		errors.Is(err, ledger.ErrNotPending),
		errors.Is(err, ledger.ErrEntryRejected),
		errors.Is(err, review.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, identity.ErrEmptyName),
		errors.Is(err, identity.ErrInvalidRate),
		errors.Is(err, identity.ErrAlreadyMerged),
		errors.Is(err, identity.ErrTargetMerged),
		errors.Is(err, ledger.ErrInvalidHours):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
