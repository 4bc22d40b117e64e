package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/sla"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("failed to encode JSON response", zap.Error(err))
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondErrorWithCode writes an error response with a machine-readable code.
func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondValidationError writes field-level validation errors as a 422 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Validation failed",
		Code:    "validation_error",
		Details: fieldErrors,
	})
}

// RespondServiceError maps an SLA service error onto its HTTP status:
// field errors 422, other validation and transition errors 400, not found
// 404, conflict 409. Anything else is logged and answered with a generic 500.
func RespondServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var fields sla.FieldErrors
	var transition *sla.TransitionError

	switch {
	case errors.As(err, &fields):
		RespondValidationError(w, fields)
	case errors.As(err, &transition):
		RespondErrorWithCode(w, http.StatusBadRequest, "invalid_transition", transition.Error())
	case errors.Is(err, sla.ErrValidation):
		RespondErrorWithCode(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, sla.ErrNotFound):
		RespondErrorWithCode(w, http.StatusNotFound, "not_found", "SLA tracking not found")
	case errors.Is(err, sla.ErrConflict):
		RespondErrorWithCode(w, http.StatusConflict, "conflict", "SLA tracking was modified concurrently, retry the request")
	default:
		if log == nil {
			log = zap.L()
		}
		log.Error("request failed", zap.Error(err))
		RespondErrorWithCode(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// RespondNoContent writes a 204 No Content response with no body.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
