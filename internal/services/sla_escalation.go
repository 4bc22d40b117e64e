package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/sla"
)

// EscalateInput hands a record to a higher authority
type EscalateInput struct {
	EscalatedTo      string
	EscalatedBy      string
	EscalationReason string
}

// ExceptionInput grants additional time on a record
type ExceptionInput struct {
	Reason         string
	GrantedBy      string
	AdditionalTime float64
	Notes          string
}

// Escalate records the escalation and notifies the new owner. The status is unchanged.
func (s *SLAService) Escalate(ctx context.Context, id string, in EscalateInput) (*database.SLATracking, error) {
	e := sla.Escalation{
		EscalatedTo: strings.TrimSpace(in.EscalatedTo),
		EscalatedBy: strings.TrimSpace(in.EscalatedBy),
		Reason:      in.EscalationReason,
	}
	rec, changes, err := s.mutate(ctx, "escalateSLA", id, func(rec *database.SLATracking, now time.Time) error {
		return sla.Escalate(rec, e, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sla escalated",
		zap.String("sla_id", id),
		zap.String("escalated_to", e.EscalatedTo),
		zap.String("escalated_by", e.EscalatedBy))

	_ = s.notifyChanges(ctx, rec, changes)
	if s.notifier != nil {
		n := &database.Notification{
			CompanyRef: rec.CompanyRef,
			Recipients: database.StringList{e.EscalatedTo},
			Title:      "SLA escalated to you",
			Message: fmt.Sprintf("The %s SLA for claim %s was escalated by %s: %s",
				rec.Config.Type, rec.ClaimRef, e.EscalatedBy, e.Reason),
			Type:      NotificationTypeEscalation,
			Category:  NotificationCategorySLA,
			Priority:  database.NotificationPriorityHigh,
			ActionURL: s.actionURL(rec),
			SLAUUID:   rec.UUID,
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn("failed to dispatch escalation notification",
				zap.String("sla_id", id),
				zap.Error(err))
		}
	}
	return rec, nil
}

// AddException extends the target and the due time by the granted hours
func (s *SLAService) AddException(ctx context.Context, id string, in ExceptionInput) (*database.SLATracking, error) {
	var grantedBy *string
	if by := strings.TrimSpace(in.GrantedBy); by != "" {
		grantedBy = &by
	}
	g := sla.ExceptionGrant{
		GrantedBy:       grantedBy,
		Reason:          in.Reason,
		Notes:           in.Notes,
		AdditionalHours: in.AdditionalTime,
	}
	rec, changes, err := s.mutate(ctx, "addSLAException", id, func(rec *database.SLATracking, now time.Time) error {
		return sla.GrantException(rec, g, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sla exception granted",
		zap.String("sla_id", id),
		zap.Float64("additional_hours", in.AdditionalTime),
		zap.Time("due", rec.Timer.DueDateTime))

	_ = s.notifyChanges(ctx, rec, changes)
	return rec, nil
}
