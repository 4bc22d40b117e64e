package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/api"
	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/jobs"
	"github.com/claimops/slatracker/internal/services"
	"github.com/claimops/slatracker/internal/utils"
)

const (
	defaultUpcomingHours = 24
	defaultUpcomingLimit = 100
	maxUpcomingLimit     = 500
)

// SweepRunner runs one breach sweep on demand
type SweepRunner interface {
	MonitorSLAs(ctx context.Context, companyRef string) (jobs.SweepResult, error)
}

// SLAHandler serves the /api/slas endpoints
type SLAHandler struct {
	sla     *services.SLAService
	monitor SweepRunner
	log     *zap.Logger
}

// NewSLAHandler creates a new SLA handler. monitor may be nil, in which case
// POST /api/slas/monitor answers 503.
func NewSLAHandler(svc *services.SLAService, monitor SweepRunner, log *zap.Logger) *SLAHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SLAHandler{sla: svc, monitor: monitor, log: log.Named("sla_api")}
}

// SetupRoutes registers the SLA routes
func (h *SLAHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/slas", h.handleCreate)
	mux.HandleFunc("GET /api/slas", h.handleList)
	mux.HandleFunc("GET /api/slas/upcoming", h.handleUpcoming)
	mux.HandleFunc("POST /api/slas/validate", h.handleValidate)
	mux.HandleFunc("POST /api/slas/bulk-status", h.handleBulkStatus)
	mux.HandleFunc("POST /api/slas/monitor", h.handleMonitor)

	mux.HandleFunc("GET /api/slas/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/slas/{id}", h.handleDelete)
	mux.HandleFunc("PUT /api/slas/{id}/status", h.handleUpdateStatus)
	mux.HandleFunc("POST /api/slas/{id}/escalate", h.handleEscalate)
	mux.HandleFunc("POST /api/slas/{id}/exception", h.handleException)
	mux.HandleFunc("GET /api/slas/{id}/audit-trail", h.handleAuditTrail)
}

// actor returns the authenticated employee, or "" for unauthenticated callers
func actor(r *http.Request) string {
	if s, ok := services.ScopeFrom(r.Context()); ok {
		return s.EmployeeRef
	}
	return ""
}

// decodeAndValidate reads the body into dst and runs the struct validator.
// It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := api.DecodeJSON(r, dst); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if errs := api.Validate(dst); errs != nil {
		api.RespondValidationError(w, errs)
		return false
	}
	return true
}

// handleCreate handles POST /api/slas
func (h *SLAHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSLARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := h.sla.Create(r.Context(), req.ToCreateInput(actor(r)))
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	w.Header().Set("Location", "/api/slas/"+rec.UUID)
	api.RespondJSON(w, http.StatusCreated, api.SLAToResponse(*rec, h.sla.Now()))
}

// handleValidate handles POST /api/slas/validate. It always answers 200.
func (h *SLAHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSLARequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	errs := api.Validate(req)
	for field, msg := range h.sla.ValidateSLAData(r.Context(), req.ToCreateInput(actor(r))) {
		if errs == nil {
			errs = map[string]string{}
		}
		if _, exists := errs[field]; !exists {
			errs[field] = msg
		}
	}
	api.RespondJSON(w, http.StatusOK, api.ValidateSLAResponse{Valid: len(errs) == 0, Errors: errs})
}

// handleList handles GET /api/slas
func (h *SLAHandler) handleList(w http.ResponseWriter, r *http.Request) {
	f, fieldErrs := parseListFilter(r)
	if fieldErrs != nil {
		api.RespondValidationError(w, fieldErrs)
		return
	}
	page := api.ParsePagination(r)
	f.Offset = page.Offset()
	f.Limit = page.PerPage

	records, total, err := h.sla.List(r.Context(), f)
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.NewPaginatedResponse(api.SLAsToResponses(records, h.sla.Now()), page, total))
}

func parseListFilter(r *http.Request) (services.ListFilter, map[string]string) {
	q := r.URL.Query()
	f := services.ListFilter{
		EmployeeRef: q.Get("employee"),
		ClientRef:   q.Get("client"),
		ClaimRef:    q.Get("claim"),
	}
	errs := map[string]string{}

	for _, raw := range api.QueryList(r, "status") {
		st, ok := database.ParseSLAStatus(raw)
		if !ok {
			errs["status"] = fmt.Sprintf("unknown status %q", raw)
			break
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, raw := range api.QueryList(r, "type") {
		t := database.SLAType(raw)
		if !t.IsValid() {
			errs["type"] = fmt.Sprintf("unknown sla type %q", raw)
			break
		}
		f.Types = append(f.Types, t)
	}

	var err error
	if f.Breached, err = api.QueryBool(r, "breached"); err != nil {
		errs["breached"] = err.Error()
	}
	if f.From, err = api.QueryTime(r, "from"); err != nil {
		errs["from"] = err.Error()
	}
	if f.To, err = api.QueryTime(r, "to"); err != nil {
		errs["to"] = err.Error()
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		errs["to"] = "must not be before from"
	}

	if len(errs) > 0 {
		return f, errs
	}
	return f, nil
}

// handleUpcoming handles GET /api/slas/upcoming?hours=24&limit=100
func (h *SLAHandler) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	hours := float64(defaultUpcomingHours)
	if raw := r.URL.Query().Get("hours"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			api.RespondValidationError(w, map[string]string{"hours": "must be a number"})
			return
		}
		hours = v
	}
	limit := api.ParseLimit(r, defaultUpcomingLimit, maxUpcomingLimit)

	records, err := h.sla.Upcoming(r.Context(), hours, limit)
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SLAsToResponses(records, h.sla.Now()))
}

// recordID reads the {id} path value. A malformed id cannot name a record,
// so it is answered as not found.
func recordID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := utils.ValidateRecordID(id); err != nil {
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", "SLA tracking not found")
		return "", false
	}
	return id, true
}

// handleGet handles GET /api/slas/{id}
func (h *SLAHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.sla.GetByID(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SLAToResponse(*rec, h.sla.Now()))
}

// handleDelete handles DELETE /api/slas/{id}
func (h *SLAHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	if err := h.sla.Delete(r.Context(), id); err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondNoContent(w)
}

// handleUpdateStatus handles PUT /api/slas/{id}/status
func (h *SLAHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.sla.UpdateStatus(r.Context(), id, req.ToStatusUpdate(actor(r)))
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SLAToResponse(*rec, h.sla.Now()))
}

// handleBulkStatus handles POST /api/slas/bulk-status. Per-id failures are
// reported in the body; the response is 200 unless the request itself is invalid.
func (h *SLAHandler) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var req api.BulkStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	results, err := h.sla.BulkUpdate(r.Context(), req.IDs, req.ToStatusUpdate(actor(r)))
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.BulkResultsToResponse(results, h.sla.Now()))
}

// handleEscalate handles POST /api/slas/{id}/escalate
func (h *SLAHandler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req api.EscalateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	if req.EscalatedBy == "" {
		req.EscalatedBy = actor(r)
	}

	rec, err := h.sla.Escalate(r.Context(), id, services.EscalateInput{
		EscalatedTo:      req.EscalatedTo,
		EscalatedBy:      req.EscalatedBy,
		EscalationReason: req.EscalationReason,
	})
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SLAToResponse(*rec, h.sla.Now()))
}

// handleException handles POST /api/slas/{id}/exception
func (h *SLAHandler) handleException(w http.ResponseWriter, r *http.Request) {
	var req api.ExceptionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	if req.GrantedBy == "" {
		req.GrantedBy = actor(r)
	}

	rec, err := h.sla.AddException(r.Context(), id, services.ExceptionInput{
		Reason:         req.Reason,
		GrantedBy:      req.GrantedBy,
		AdditionalTime: req.AdditionalTime,
		Notes:          req.Notes,
	})
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SLAToResponse(*rec, h.sla.Now()))
}

// handleAuditTrail handles GET /api/slas/{id}/audit-trail
func (h *SLAHandler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	events, err := h.sla.AuditTrail(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AuditTrailResponse{SLAID: id, Events: events})
}

// handleMonitor handles POST /api/slas/monitor. The body is optional; a
// scoped caller can only sweep its own company.
func (h *SLAHandler) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "monitor_unavailable", "Breach monitor is not running")
		return
	}

	var req api.MonitorRequest
	if err := api.DecodeJSON(r, &req); err != nil && !errors.Is(err, api.ErrEmptyBody) {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	company := req.CompanyRef
	if s, ok := services.ScopeFrom(r.Context()); ok && s.CompanyRef != "" {
		company = s.CompanyRef
	}

	result, err := h.monitor.MonitorSLAs(r.Context(), company)
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}
