package sla

import (
	"time"

	"github.com/claimops/slatracker/internal/database"
)

// Change carries the actor and free text attached to a transition
type Change struct {
	ChangedBy *string
	Reason    string
	Notes     string
}

type statusSet map[database.SLAStatus]bool

func setOf(statuses ...database.SLAStatus) statusSet {
	s := make(statusSet, len(statuses))
	for _, st := range statuses {
		s[st] = true
	}
	return s
}

// callerTransitions lists, per target, the statuses a caller may move from.
var callerTransitions = map[database.SLAStatus]statusSet{
	database.SLAStatusPaused: setOf(database.SLAStatusActive, database.SLAStatusAtRisk),
	database.SLAStatusOnHold: setOf(database.SLAStatusActive, database.SLAStatusAtRisk),
	database.SLAStatusActive: setOf(database.SLAStatusPaused, database.SLAStatusOnHold),
	database.SLAStatusCompleted: setOf(
		database.SLAStatusActive, database.SLAStatusAtRisk,
		database.SLAStatusPaused, database.SLAStatusOnHold,
		database.SLAStatusBreached,
	),
	database.SLAStatusCancelled: setOf(
		database.SLAStatusActive, database.SLAStatusAtRisk,
		database.SLAStatusPaused, database.SLAStatusOnHold,
	),
	database.SLAStatusBreached: setOf(database.SLAStatusActive, database.SLAStatusOnHold, database.SLAStatusPaused),
}

// autoTransitions are only taken by Recompute.
var autoTransitions = map[database.SLAStatus]statusSet{
	database.SLAStatusAtRisk:   setOf(database.SLAStatusActive, database.SLAStatusPaused, database.SLAStatusOnHold),
	database.SLAStatusBreached: setOf(database.SLAStatusActive, database.SLAStatusAtRisk),
}

// CanTransition reports whether a caller may move a record from → to
func CanTransition(from, to database.SLAStatus) bool {
	return callerTransitions[to][from]
}

// CanAutoTransition reports whether the sweep may move a record from → to
func CanAutoTransition(from, to database.SLAStatus) bool {
	return autoTransitions[to][from]
}

func checkTransition(rec *database.SLATracking, to database.SLAStatus) error {
	if !CanTransition(rec.Status.CurrentStatus, to) {
		return &TransitionError{From: rec.Status.CurrentStatus, To: to}
	}
	return nil
}

func setStatus(rec *database.SLATracking, to database.SLAStatus, c Change, system bool, now time.Time) {
	entry := database.StatusEntry{
		Status:          to,
		ChangedAt:       now,
		ChangedBy:       c.ChangedBy,
		Reason:          c.Reason,
		Notes:           c.Notes,
		SystemGenerated: system,
	}
	if system {
		entry.ChangedBy = nil
	}
	rec.Status.CurrentStatus = to
	rec.Status.History = append(rec.Status.History, entry)
}

// closeOpenPause ends the current pause interval at now and shifts the due time.
func closeOpenPause(rec *database.SLATracking, by *string, notes string, now time.Time) {
	i, ok := OpenPause(rec.Timer.PauseHistory)
	if !ok {
		return
	}
	resumedAt := now
	if resumedAt.Before(rec.Timer.PauseHistory[i].PausedAt) {
		resumedAt = rec.Timer.PauseHistory[i].PausedAt
	}
	p := &rec.Timer.PauseHistory[i]
	p.ResumedAt = &resumedAt
	p.ResumedBy = by
	p.ResumeNotes = notes
	p.PauseDurationHours = DurationHours(resumedAt.Sub(p.PausedAt))

	rec.Timer.TotalPausedHours = DurationHours(PausedDuration(rec.Timer.PauseHistory))
	rec.Timer.DueDateTime = DueDateTimeFor(rec)
}

func markBreached(rec *database.SLATracking, now time.Time) {
	rec.Breach.IsBreached = true
	if rec.Breach.DetectedAt == nil {
		detected := now
		rec.Breach.DetectedAt = &detected
	}
	if over := now.Sub(rec.Timer.DueDateTime); over > 0 {
		rec.Breach.DurationHours = DurationHours(over)
	}
}

// Pause stops the clock, moving the record to Paused or OnHold. A reason is required.
func Pause(rec *database.SLATracking, to database.SLAStatus, c Change, now time.Time) error {
	if to != database.SLAStatusPaused && to != database.SLAStatusOnHold {
		return &TransitionError{From: rec.Status.CurrentStatus, To: to}
	}
	if c.Reason == "" {
		return FieldErrors{"reason": "is required to pause an SLA"}
	}
	if err := checkTransition(rec, to); err != nil {
		return err
	}

	rec.Timer.PauseHistory = append(rec.Timer.PauseHistory, database.PauseEntry{
		PausedAt: now,
		PausedBy: c.ChangedBy,
		Reason:   c.Reason,
		Notes:    c.Notes,
	})
	setStatus(rec, to, c, false, now)
	rec.Timer.TimeRemaining = ComputeTimeRemaining(rec.Timer, now)
	return nil
}

// Resume restarts the clock, closing the open pause interval
func Resume(rec *database.SLATracking, c Change, now time.Time) error {
	if err := checkTransition(rec, database.SLAStatusActive); err != nil {
		return err
	}

	closeOpenPause(rec, c.ChangedBy, c.Notes, now)
	if c.Reason == "" {
		c.Reason = "Resumed"
	}
	setStatus(rec, database.SLAStatusActive, c, false, now)
	rec.Timer.TimeRemaining = ComputeTimeRemaining(rec.Timer, now)
	return nil
}

// Complete closes the record. Work finished after the due time, or on a
// breached record, is recorded as completed_late.
func Complete(rec *database.SLATracking, c Change, now time.Time) error {
	if err := checkTransition(rec, database.SLAStatusCompleted); err != nil {
		return err
	}

	closeOpenPause(rec, c.ChangedBy, c.Notes, now)
	if rec.Breach.IsBreached || now.After(rec.Timer.DueDateTime) {
		markBreached(rec, now)
		rec.Resolution.Type = database.ResolutionCompletedLate
	} else {
		rec.Resolution.Type = database.ResolutionCompletedOnTime
	}

	closed := now
	rec.ClosedAt = &closed
	setStatus(rec, database.SLAStatusCompleted, c, false, now)
	return nil
}

// Cancel closes the record without completing it
func Cancel(rec *database.SLATracking, c Change, now time.Time) error {
	if err := checkTransition(rec, database.SLAStatusCancelled); err != nil {
		return err
	}

	closeOpenPause(rec, c.ChangedBy, c.Notes, now)
	rec.Resolution.Type = database.ResolutionCancelled
	closed := now
	rec.ClosedAt = &closed
	setStatus(rec, database.SLAStatusCancelled, c, false, now)
	return nil
}

// Expire marks the record breached on request, regardless of the due time
func Expire(rec *database.SLATracking, c Change, now time.Time) error {
	if err := checkTransition(rec, database.SLAStatusBreached); err != nil {
		return err
	}

	closeOpenPause(rec, c.ChangedBy, c.Notes, now)
	markBreached(rec, now)
	setStatus(rec, database.SLAStatusBreached, c, false, now)
	return nil
}

// Apply maps a requested status onto the matching transition. Active on a
// record that is not paused is a no-op. AtRisk is never caller-driven.
func Apply(rec *database.SLATracking, to database.SLAStatus, c Change, now time.Time) error {
	switch to {
	case database.SLAStatusCompleted:
		return Complete(rec, c, now)
	case database.SLAStatusPaused, database.SLAStatusOnHold:
		return Pause(rec, to, c, now)
	case database.SLAStatusActive:
		if rec.Status.CurrentStatus != database.SLAStatusPaused && rec.Status.CurrentStatus != database.SLAStatusOnHold {
			return nil
		}
		return Resume(rec, c, now)
	case database.SLAStatusCancelled:
		return Cancel(rec, c, now)
	case database.SLAStatusExpired, database.SLAStatusBreached:
		return Expire(rec, c, now)
	default:
		return &TransitionError{From: rec.Status.CurrentStatus, To: to}
	}
}
