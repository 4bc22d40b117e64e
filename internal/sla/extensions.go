package sla

import (
	"time"

	"github.com/claimops/slatracker/internal/database"
)

// Escalation hands the record to a higher authority
type Escalation struct {
	EscalatedTo string
	EscalatedBy string
	Reason      string
}

// ExceptionGrant extends the due time by AdditionalHours
type ExceptionGrant struct {
	GrantedBy       *string
	Reason          string
	Notes           string
	AdditionalHours float64
}

func checkOpenForExtension(rec *database.SLATracking) error {
	if rec.Status.CurrentStatus.IsTerminal() {
		return FieldErrors{"status": "SLA is already " + string(rec.Status.CurrentStatus)}
	}
	return nil
}

// Escalate records the escalation. The lifecycle status is left alone.
func Escalate(rec *database.SLATracking, e Escalation, now time.Time) error {
	errs := FieldErrors{}
	if e.EscalatedTo == "" {
		errs["escalated_to"] = "is required"
	}
	if e.EscalatedBy == "" {
		errs["escalated_by"] = "is required"
	}
	if len(errs) > 0 {
		return errs
	}
	if err := checkOpenForExtension(rec); err != nil {
		return err
	}

	at := now
	to, by := e.EscalatedTo, e.EscalatedBy
	rec.Escalation = database.EscalationInfo{
		IsEscalated: true,
		EscalatedAt: &at,
		EscalatedTo: &to,
		EscalatedBy: &by,
		Reason:      e.Reason,
	}
	rec.Resolution.Type = database.ResolutionEscalated
	return nil
}

// GrantException adds time to the target and moves the due time by the same
// amount. Repeated grants accumulate.
func GrantException(rec *database.SLATracking, g ExceptionGrant, now time.Time) error {
	if g.AdditionalHours <= 0 {
		return FieldErrors{"additional_time": "must be greater than 0"}
	}
	if err := checkOpenForExtension(rec); err != nil {
		return err
	}

	at := now
	rec.Exception.HasException = true
	rec.Exception.GrantedAt = &at
	rec.Exception.GrantedBy = g.GrantedBy
	rec.Exception.Reason = g.Reason
	rec.Exception.Notes = g.Notes
	rec.Exception.AdditionalTimeHours += g.AdditionalHours

	rec.Config.TargetHours += g.AdditionalHours
	rec.Timer.DueDateTime = DueDateTimeFor(rec)
	rec.Resolution.Type = database.ResolutionExceptionGranted
	return nil
}
