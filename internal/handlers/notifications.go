package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/api"
	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/services"
)

// NotificationHandler serves the stored in-app notifications
type NotificationHandler struct {
	notifications *services.NotificationService
	log           *zap.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(svc *services.NotificationService, log *zap.Logger) *NotificationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationHandler{notifications: svc, log: log.Named("notifications_api")}
}

// SetupRoutes registers the notification routes
func (h *NotificationHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/notifications", h.handleList)
}

// handleList handles GET /api/notifications. Authenticated callers only see
// their own; unauthenticated callers may filter with ?recipient=.
func (h *NotificationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if s, ok := services.ScopeFrom(r.Context()); ok && s.EmployeeRef != "" {
		recipient = s.EmployeeRef
	}

	rows, err := h.notifications.List(r.Context(), recipient, api.ParseLimit(r, 50, 200))
	if err != nil {
		h.log.Error("failed to list notifications", zap.Error(err))
		api.RespondErrorWithCode(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	if rows == nil {
		rows = []database.Notification{}
	}
	api.RespondJSON(w, http.StatusOK, rows)
}
