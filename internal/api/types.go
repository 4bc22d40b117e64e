package api

import (
	"time"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/services"
)

// ========== SLA Types ==========

// CreateSLARequest is the request body for POST /api/slas and POST /api/slas/validate.
// CompanyRef is ignored when the caller's token carries a company.
type CreateSLARequest struct {
	CompanyRef          string                       `json:"company_ref" validate:"omitempty,max=64"`
	ClientRef           string                       `json:"client_ref" validate:"required,max=64"`
	SOWRef              string                       `json:"sow_ref" validate:"required,max=64"`
	ClaimRef            string                       `json:"claim_ref" validate:"required,max=64"`
	AssignedEmployeeRef *string                      `json:"assigned_employee_ref" validate:"omitempty,max=64"`
	SLAType             string                       `json:"sla_type" validate:"required"`
	Description         string                       `json:"description" validate:"omitempty,max=4096"`
	Priority            string                       `json:"priority"`
	TargetTime          *float64                     `json:"target_time"`
	CustomTargets       map[database.SLAType]float64 `json:"custom_targets"`
	StartTime           *time.Time                   `json:"start_time"`
	TriggerEvent        string                       `json:"trigger_event" validate:"omitempty,max=128"`
	TriggeredBy         *string                      `json:"triggered_by" validate:"omitempty,max=64"`
}

// UpdateStatusRequest is the request body for PUT /api/slas/{id}/status.
// ChangedBy defaults to the authenticated employee.
type UpdateStatusRequest struct {
	Status    string `json:"status" validate:"required"`
	ChangedBy string `json:"changed_by" validate:"omitempty,max=64"`
	Reason    string `json:"reason" validate:"omitempty,max=1024"`
	Notes     string `json:"notes" validate:"omitempty,max=4096"`
}

// BulkStatusRequest is the request body for POST /api/slas/bulk-status.
type BulkStatusRequest struct {
	IDs       []string `json:"ids" validate:"required,min=1,max=500,dive,uuid"`
	Status    string   `json:"status" validate:"required"`
	ChangedBy string   `json:"changed_by" validate:"omitempty,max=64"`
	Reason    string   `json:"reason" validate:"omitempty,max=1024"`
	Notes     string   `json:"notes" validate:"omitempty,max=4096"`
}

// EscalateRequest is the request body for POST /api/slas/{id}/escalate.
type EscalateRequest struct {
	EscalatedTo      string `json:"escalated_to" validate:"required,max=64"`
	EscalationReason string `json:"escalation_reason" validate:"omitempty,max=1024"`
	EscalatedBy      string `json:"escalated_by" validate:"omitempty,max=64"`
}

// ExceptionRequest is the request body for POST /api/slas/{id}/exception.
type ExceptionRequest struct {
	Reason         string  `json:"reason" validate:"required,max=1024"`
	GrantedBy      string  `json:"granted_by" validate:"omitempty,max=64"`
	AdditionalTime float64 `json:"additional_time" validate:"gt=0,lte=720"`
	Notes          string  `json:"notes" validate:"omitempty,max=4096"`
}

// MonitorRequest is the optional request body for POST /api/slas/monitor.
type MonitorRequest struct {
	CompanyRef string `json:"company_ref" validate:"omitempty,max=64"`
}

// ========== SLA Responses ==========

// SLAResponse is an SLA record with display fields computed at read time.
type SLAResponse struct {
	database.SLATracking
	TimeRemainingDisplay string `json:"time_remaining_display"`
	IsOverdue            bool   `json:"is_overdue"`
}

// BulkItemResult is one entry of a bulk status update response.
type BulkItemResult struct {
	ID      string       `json:"id"`
	Success bool         `json:"success"`
	SLA     *SLAResponse `json:"sla,omitempty"`
	Error   string       `json:"error,omitempty"`
	Code    string       `json:"code,omitempty"`
}

// BulkStatusResponse is the response body for POST /api/slas/bulk-status.
type BulkStatusResponse struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

// ValidateSLAResponse is the response body for POST /api/slas/validate.
type ValidateSLAResponse struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}

// AuditTrailResponse is the response body for GET /api/slas/{id}/audit-trail.
type AuditTrailResponse struct {
	SLAID  string                `json:"sla_id"`
	Events []services.AuditEvent `json:"events"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
