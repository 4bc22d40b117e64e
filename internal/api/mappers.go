package api

import (
	"errors"
	"time"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/services"
	"github.com/claimops/slatracker/internal/sla"
	"github.com/claimops/slatracker/internal/utils"
)

// ToCreateInput converts a create request to the service input. createdBy is
// the authenticated employee, if any.
func (r CreateSLARequest) ToCreateInput(createdBy string) services.CreateInput {
	in := services.CreateInput{
		CompanyRef:          r.CompanyRef,
		ClientRef:           r.ClientRef,
		SOWRef:              r.SOWRef,
		ClaimRef:            r.ClaimRef,
		AssignedEmployeeRef: r.AssignedEmployeeRef,
		SLAType:             database.SLAType(r.SLAType),
		Description:         r.Description,
		Priority:            r.Priority,
		TargetHours:         r.TargetTime,
		CustomTargets:       r.CustomTargets,
		StartDateTime:       r.StartTime,
		TriggerEvent:        r.TriggerEvent,
		TriggeredBy:         r.TriggeredBy,
	}
	if createdBy != "" {
		in.CreatedBy = &createdBy
	}
	return in
}

// ToStatusUpdate converts the request, defaulting ChangedBy to actor.
func (r UpdateStatusRequest) ToStatusUpdate(actor string) services.StatusUpdate {
	by := r.ChangedBy
	if by == "" {
		by = actor
	}
	return services.StatusUpdate{
		Status:    r.Status,
		ChangedBy: by,
		Reason:    r.Reason,
		Notes:     r.Notes,
	}
}

// ToStatusUpdate converts the shared part of a bulk request.
func (r BulkStatusRequest) ToStatusUpdate(actor string) services.StatusUpdate {
	return UpdateStatusRequest{
		Status:    r.Status,
		ChangedBy: r.ChangedBy,
		Reason:    r.Reason,
		Notes:     r.Notes,
	}.ToStatusUpdate(actor)
}

// SLAToResponse adds the display fields to a record whose timers are current at now.
func SLAToResponse(rec database.SLATracking, now time.Time) SLAResponse {
	overdue := rec.Breach.IsBreached
	if !overdue && rec.ClosedAt == nil && rec.Status.CurrentStatus.IsOpen() {
		overdue = now.After(rec.Timer.DueDateTime)
	}
	return SLAResponse{
		SLATracking:          rec,
		TimeRemainingDisplay: utils.FormatHours(rec.Timer.TimeRemaining),
		IsOverdue:            overdue,
	}
}

// SLAsToResponses converts a slice of records.
func SLAsToResponses(records []database.SLATracking, now time.Time) []SLAResponse {
	items := make([]SLAResponse, len(records))
	for i, rec := range records {
		items[i] = SLAToResponse(rec, now)
	}
	return items
}

// BulkResultsToResponse converts per-id service results, keeping their order.
func BulkResultsToResponse(results []services.BulkResult, now time.Time) BulkStatusResponse {
	resp := BulkStatusResponse{Results: make([]BulkItemResult, len(results))}
	for i, r := range results {
		item := BulkItemResult{ID: r.ID, Success: r.Err == nil}
		if r.Err != nil {
			resp.Failed++
			item.Error = r.Err.Error()
			item.Code = ErrorCode(r.Err)
		} else {
			resp.Succeeded++
			if r.Record != nil {
				view := SLAToResponse(*r.Record, now)
				item.SLA = &view
			}
		}
		resp.Results[i] = item
	}
	return resp
}

// ErrorCode returns the machine-readable code for a service error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, sla.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, sla.ErrValidation):
		return "validation_error"
	case errors.Is(err, sla.ErrNotFound):
		return "not_found"
	case errors.Is(err, sla.ErrConflict):
		return "conflict"
	default:
		return "internal_error"
	}
}
