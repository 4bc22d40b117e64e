package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/sla"
)

// Audit event kinds
const (
	AuditEventStatusChange     = "StatusChange"
	AuditEventPaused           = "Paused"
	AuditEventResumed          = "Resumed"
	AuditEventEscalated        = "Escalated"
	AuditEventExceptionGranted = "ExceptionGranted"
)

const systemActor = "System"

// AuditEvent is one entry of a record's audit trail
type AuditEvent struct {
	Timestamp          time.Time          `json:"timestamp"`
	Event              string             `json:"event"`
	Status             database.SLAStatus `json:"status,omitempty"`
	Actor              string             `json:"actor"`
	ActorRef           *string            `json:"actor_ref,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	SystemGenerated    bool               `json:"system_generated"`
	PauseDurationHours *float64           `json:"pause_duration_hours,omitempty"`
	AdditionalHours    *float64           `json:"additional_time_hours,omitempty"`
}

// AuditTrail merges status, pause, escalation and exception history into
// one list sorted by time. Entries with equal timestamps keep record order.
func (s *SLAService) AuditTrail(ctx context.Context, id string) ([]AuditEvent, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	rec, err := s.load(ctx, db, id)
	if err != nil {
		return nil, sla.Internal("getSLAAuditTrail", err)
	}

	events := buildAuditEvents(rec)

	refs := make([]string, 0, len(events))
	seen := make(map[string]bool)
	for _, e := range events {
		if e.ActorRef != nil && !seen[*e.ActorRef] {
			seen[*e.ActorRef] = true
			refs = append(refs, *e.ActorRef)
		}
	}
	employees, err := database.GetEmployeesByRefs(db, refs)
	if err != nil {
		return nil, sla.Internal("getSLAAuditTrail", err)
	}
	for i := range events {
		events[i].Actor = actorName(events[i].ActorRef, employees)
	}
	return events, nil
}

func actorName(ref *string, employees map[string]database.Employee) string {
	if ref == nil || *ref == "" {
		return systemActor
	}
	if e, ok := employees[*ref]; ok {
		return e.DisplayName()
	}
	return *ref
}

func buildAuditEvents(rec *database.SLATracking) []AuditEvent {
	events := make([]AuditEvent, 0, len(rec.Status.History)+2*len(rec.Timer.PauseHistory)+2)

	for _, h := range rec.Status.History {
		events = append(events, AuditEvent{
			Timestamp:       h.ChangedAt,
			Event:           AuditEventStatusChange,
			Status:          h.Status,
			ActorRef:        h.ChangedBy,
			Reason:          h.Reason,
			Notes:           h.Notes,
			SystemGenerated: h.SystemGenerated || h.ChangedBy == nil,
		})
	}

	for _, p := range rec.Timer.PauseHistory {
		events = append(events, AuditEvent{
			Timestamp: p.PausedAt,
			Event:     AuditEventPaused,
			ActorRef:  p.PausedBy,
			Reason:    p.Reason,
			Notes:     p.Notes,
		})
		if p.ResumedAt != nil {
			hours := sla.RoundHours(p.ResumedAt.Sub(p.PausedAt).Hours())
			events = append(events, AuditEvent{
				Timestamp:          *p.ResumedAt,
				Event:              AuditEventResumed,
				ActorRef:           p.ResumedBy,
				Notes:              p.ResumeNotes,
				PauseDurationHours: &hours,
			})
		}
	}

	if esc := rec.Escalation; esc.IsEscalated && esc.EscalatedAt != nil {
		to := ""
		if esc.EscalatedTo != nil {
			to = *esc.EscalatedTo
		}
		events = append(events, AuditEvent{
			Timestamp: *esc.EscalatedAt,
			Event:     AuditEventEscalated,
			ActorRef:  esc.EscalatedBy,
			Reason:    esc.Reason,
			Notes:     fmt.Sprintf("escalated to %s", to),
		})
	}

	if ex := rec.Exception; ex.HasException && ex.GrantedAt != nil {
		// Grants accumulate; only the latest grant time is kept on the record.
		hours := ex.AdditionalTimeHours
		events = append(events, AuditEvent{
			Timestamp:       *ex.GrantedAt,
			Event:           AuditEventExceptionGranted,
			ActorRef:        ex.GrantedBy,
			Reason:          ex.Reason,
			Notes:           ex.Notes,
			AdditionalHours: &hours,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}
