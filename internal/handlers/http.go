package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/claimops/slatracker/internal/api"
	"github.com/claimops/slatracker/internal/jobs"
)

// Version is reported by /health; set at build time with -ldflags.
var Version = "dev"

// SweepStatus reports the most recent scheduled sweep
type SweepStatus interface {
	LastRun() (jobs.RunStatus, bool)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string     `json:"status"`
	Version   string     `json:"version"`
	Database  string     `json:"database"`
	LastSweep *time.Time `json:"last_sweep,omitempty"`
	SweepErr  string     `json:"last_sweep_error,omitempty"`
}

// HTTPHandler serves the operational endpoints
type HTTPHandler struct {
	db      *gorm.DB
	sweeps  SweepStatus
	metrics http.Handler
	log     *zap.Logger
}

// NewHTTPHandler creates a new HTTP handler. Any argument may be nil.
func NewHTTPHandler(db *gorm.DB, sweeps SweepStatus, metrics http.Handler, log *zap.Logger) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{db: db, sweeps: sweeps, metrics: metrics, log: log}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// handleHealth reports liveness plus database reachability. A failed ping
// answers 503 so load balancers take the instance out.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := HealthResponse{Status: "ok", Version: Version, Database: "unknown"}
	status := http.StatusOK

	if h.db != nil {
		resp.Database = "ok"
		if err := h.ping(r.Context()); err != nil {
			h.log.Warn("health check database ping failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.sweeps != nil {
		if run, ok := h.sweeps.LastRun(); ok {
			finished := run.FinishedAt
			resp.LastSweep = &finished
			if run.Err != nil {
				resp.SweepErr = run.Err.Error()
			}
		}
	}

	api.RespondJSON(w, status, resp)
}

func (h *HTTPHandler) ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
