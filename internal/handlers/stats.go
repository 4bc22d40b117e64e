package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/api"
	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/services"
)

// StatsHandler serves the read-only reporting endpoints
type StatsHandler struct {
	stats *services.StatisticsService
	log   *zap.Logger
}

// NewStatsHandler creates a new statistics handler
func NewStatsHandler(stats *services.StatisticsService, log *zap.Logger) *StatsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatsHandler{stats: stats, log: log.Named("stats_api")}
}

// SetupRoutes registers the statistics routes
func (h *StatsHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sla-stats", h.handleStatistics)
	mux.HandleFunc("GET /api/sla-stats/employees", h.handleEmployees)
	mux.HandleFunc("GET /api/sla-stats/dashboard", h.handleDashboard)
}

// periodParams reads ?period=&from=&to=. Field errors are written to errs.
func periodParams(r *http.Request, errs map[string]string) (services.Period, services.StatsFilter) {
	var f services.StatsFilter
	var err error
	if f.From, err = api.QueryTime(r, "from"); err != nil {
		errs["from"] = err.Error()
	}
	if f.To, err = api.QueryTime(r, "to"); err != nil {
		errs["to"] = err.Error()
	}

	period := services.Period(r.URL.Query().Get("period"))
	if period == "" && (f.From != nil || f.To != nil) {
		period = services.PeriodCustom
	}
	return period, f
}

// handleStatistics handles GET /api/sla-stats
func (h *StatsHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	errs := map[string]string{}
	period, f := periodParams(r, errs)
	f.EmployeeRef = q.Get("employee")
	f.ClientRef = q.Get("client")
	f.Type = database.SLAType(q.Get("type"))
	if raw := q.Get("status"); raw != "" {
		st, ok := database.ParseSLAStatus(raw)
		if !ok {
			errs["status"] = fmt.Sprintf("unknown status %q", raw)
		}
		f.Status = st
	}
	if len(errs) > 0 {
		api.RespondValidationError(w, errs)
		return
	}

	stats, err := h.stats.GetSLAStatistics(r.Context(), q.Get("company"), period, f)
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, stats)
}

// handleEmployees handles GET /api/sla-stats/employees
func (h *StatsHandler) handleEmployees(w http.ResponseWriter, r *http.Request) {
	errs := map[string]string{}
	period, f := periodParams(r, errs)
	if len(errs) > 0 {
		api.RespondValidationError(w, errs)
		return
	}

	rows, err := h.stats.GetSLAPerformanceByEmployee(r.Context(), r.URL.Query().Get("company"), period, f.From, f.To)
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	if rows == nil {
		rows = []services.EmployeePerformance{}
	}
	api.RespondJSON(w, http.StatusOK, rows)
}

// handleDashboard handles GET /api/sla-stats/dashboard
func (h *StatsHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.GetSLADashboardSummary(r.Context(), r.URL.Query().Get("company"))
	if err != nil {
		api.RespondServiceError(w, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, summary)
}
