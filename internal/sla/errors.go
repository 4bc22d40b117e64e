package sla

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/claimops/slatracker/internal/database"
)

// Error kinds surfaced by every SLA operation. Callers match with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("sla tracking not found")
	ErrConflict          = errors.New("sla tracking was modified concurrently")
	ErrInternal          = errors.New("internal error")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// FieldErrors maps an input field to a human-readable problem
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match
func (f FieldErrors) Unwrap() error {
	return ErrValidation
}

// TransitionError is returned when the transition table has no row for from → to
type TransitionError struct {
	From database.SLAStatus
	To   database.SLAStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move SLA from %s to %s", e.From, e.To)
}

// Is matches both ErrInvalidTransition and ErrValidation
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || target == ErrValidation
}

// NotFound builds a not-found error for the record id
func NotFound(id string) error {
	return fmt.Errorf("sla tracking %q: %w", id, ErrNotFound)
}

// Internal wraps an unexpected failure with the operation name. Validation,
// not-found and conflict errors pass through unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
