/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND HOURS:
  Decimal quantities cross the wire as strings ("12.5", "41.50") so
  clients never see float rounding on pay amounts.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/review"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// IdentityDTO represents an identity in API responses.
type IdentityDTO struct {
	ID             string   `json:"id"`
	CanonicalName  string   `json:"canonical_name"`
	EmployeeNumber string   `json:"employee_number,omitempty"`
	HourlyRate     string   `json:"hourly_rate,omitempty"`
	OvertimeRate   string   `json:"overtime_rate,omitempty"`
	Status         string   `json:"status"`
	MergedInto     string   `json:"merged_into,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID               string   `json:"id"`
	ReportID         string   `json:"report_id"`
	IdentityID       string   `json:"identity_id"`
	ProjectID        string   `json:"project_id"`
	Date             string   `json:"date"`
	Seq              int      `json:"seq"`
	RegularHours     string   `json:"regular_hours"`
	OvertimeHours    string   `json:"overtime_hours"`
	DoubletimeHours  string   `json:"doubletime_hours"`
	TotalHours       string   `json:"total_hours"`
	Activities       []string `json:"activities,omitempty"`
	HourlyRate       string   `json:"hourly_rate"`
	OvertimeRate     string   `json:"overtime_rate"`
	TotalPay         string   `json:"total_pay"`
	Status           string   `json:"status"`
	StatusReason     string   `json:"status_reason,omitempty"`
	NeedsReview      bool     `json:"needs_review,omitempty"`
	ReviewReason     string   `json:"review_reason,omitempty"`
	OriginalEntryID  string   `json:"original_entry_id,omitempty"`
	CorrectionReason string   `json:"correction_reason,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
}

// CandidateDTO is one ranked fuzzy candidate on a review item.
type CandidateDTO struct {
	IdentityID string  `json:"identity_id"`
	Score      float64 `json:"score"`
}

// ReviewItemDTO represents a review queue item.
type ReviewItemDTO struct {
	ID         string         `json:"id"`
	Subject    string         `json:"subject"`
	SpokenName string         `json:"spoken_name"`
	Candidates []CandidateDTO `json:"candidates,omitempty"`
	ReportID   string         `json:"report_id,omitempty"`
	EntryID    string         `json:"entry_id,omitempty"`
	Status     string         `json:"status"`
	Resolution string         `json:"resolution,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	ResolvedAt string         `json:"resolved_at,omitempty"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

// HoursSummaryDTO is summed hours and pay for one identity.
type HoursSummaryDTO struct {
	RegularHours    string `json:"regular_hours"`
	OvertimeHours   string `json:"overtime_hours"`
	DoubletimeHours string `json:"doubletime_hours"`
	TotalPay        string `json:"total_pay"`
}

// LaborCostRowDTO is one identity's share of a project's labor cost.
type LaborCostRowDTO struct {
	IdentityID string          `json:"identity_id"`
	Hours      HoursSummaryDTO `json:"hours"`
}

// LaborCostDTO is a project's labor cost grouped by identity.
type LaborCostDTO struct {
	ProjectID string            `json:"project_id"`
	Rows      []LaborCostRowDTO `json:"rows"`
	Total     string            `json:"total"`
}

// ProcessReportRequest carries one report's extracted tuples.
type ProcessReportRequest struct {
	ProjectID string       `json:"project_id"`
	Date      string       `json:"date"` // YYYY-MM-DD
	Tuples    []TupleInput `json:"tuples"`
}

// TupleInput is one extracted per-employee tuple.
type TupleInput struct {
	Name            string   `json:"name"`
	Arrival         string   `json:"arrival,omitempty"`
	Departure       string   `json:"departure,omitempty"`
	RegularHours    float64  `json:"regularHours"`
	OvertimeHours   float64  `json:"overtimeHours"`
	DoubletimeHours float64  `json:"doubletimeHours"`
	Activities      []string `json:"activities,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
}

// ActivateIdentityRequest completes an Incomplete identity.
type ActivateIdentityRequest struct {
	EmployeeNumber string `json:"employee_number"`
	HourlyRate     string `json:"hourly_rate"`
	OvertimeRate   string `json:"overtime_rate"`
}

// MergeIdentityRequest merges the identity in the URL into TargetID.
type MergeIdentityRequest struct {
	TargetID string `json:"target_id"`
	Actor    string `json:"actor"`
}

// HoursInput is an optional hours override on corrections.
type HoursInput struct {
	RegularHours    float64 `json:"regularHours"`
	OvertimeHours   float64 `json:"overtimeHours"`
	DoubletimeHours float64 `json:"doubletimeHours"`
}

// CorrectEntryRequest supersedes an entry with corrected hours.
type CorrectEntryRequest struct {
	Hours  *HoursInput `json:"hours,omitempty"`
	Reason string      `json:"reason"`
	Actor  string      `json:"actor"`
}

// EntryActionRequest approves or rejects a pending entry.
type EntryActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// ResolveAmbiguousRequest picks a candidate or "create-new".
type ResolveAmbiguousRequest struct {
	Choice string `json:"choice"`
	Actor  string `json:"actor"`
}

// ResolveEntryRequest corrects the flagged entry behind a review item.
type ResolveEntryRequest struct {
	Hours  *HoursInput `json:"hours,omitempty"`
	Reason string      `json:"reason"`
	Actor  string      `json:"actor"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toIdentityDTO(i *identity.Identity, aliases []identity.Alias) IdentityDTO {
	dto := IdentityDTO{
		ID:             i.ID,
		CanonicalName:  i.CanonicalName,
		EmployeeNumber: i.EmployeeNumber,
		Status:         string(i.Status),
		MergedInto:     i.MergedInto,
		CreatedAt:      i.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      i.UpdatedAt.Format(time.RFC3339),
	}
	if i.HourlyRate != nil {
		dto.HourlyRate = i.HourlyRate.StringFixed(2)
	}
	if i.OvertimeRate != nil {
		dto.OvertimeRate = i.OvertimeRate.StringFixed(2)
	}
	for _, a := range aliases {
		dto.Aliases = append(dto.Aliases, a.Key)
	}
	return dto
}

func toEntryDTO(e *ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:               e.ID,
		ReportID:         e.ReportID,
		IdentityID:       e.IdentityID,
		ProjectID:        e.ProjectID,
		Date:             e.Date.Format("2006-01-02"),
		Seq:              e.Seq,
		RegularHours:     e.Hours.Regular.String(),
		OvertimeHours:    e.Hours.Overtime.String(),
		DoubletimeHours:  e.Hours.Doubletime.String(),
		TotalHours:       e.Hours.Total().String(),
		Activities:       e.Activities,
		HourlyRate:       e.Rate.Hourly.StringFixed(2),
		OvertimeRate:     e.Rate.Overtime.StringFixed(2),
		TotalPay:         e.TotalPay.StringFixed(2),
		Status:           string(e.Status),
		StatusReason:     e.StatusReason,
		NeedsReview:      e.NeedsReview,
		ReviewReason:     e.ReviewReason,
		OriginalEntryID:  e.OriginalEntryID,
		CorrectionReason: e.CorrectionReason,
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []*ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toReviewItemDTO(item *review.Item) ReviewItemDTO {
	dto := ReviewItemDTO{
		ID:         item.ID,
		Subject:    string(item.Subject),
		SpokenName: item.SpokenName,
		ReportID:   item.ReportID,
		EntryID:    item.EntryID,
		Status:     string(item.Status),
		Resolution: item.Resolution,
		ResolvedBy: item.ResolvedBy,
		CreatedAt:  item.CreatedAt.Format(time.RFC3339),
	}
	for _, c := range item.Candidates {
		dto.Candidates = append(dto.Candidates, CandidateDTO{IdentityID: c.IdentityID, Score: c.Score})
	}
	if item.ResolvedAt != nil {
		dto.ResolvedAt = item.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

func toHoursSummaryDTO(s ledger.HoursSummary) HoursSummaryDTO {
	return HoursSummaryDTO{
		RegularHours:    s.Regular.String(),
		OvertimeHours:   s.Overtime.String(),
		DoubletimeHours: s.Doubletime.String(),
		TotalPay:        s.TotalPay.StringFixed(2),
	}
}
