package sla

import (
	"fmt"
	"slices"
	"time"

	"github.com/claimops/slatracker/internal/database"
)

// Thresholds are remaining-time ratios that trigger the warning and critical flags
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds warns at 25% and alerts at 10% of the target remaining
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.25, Critical: 0.10}
}

// Validate checks 0 < critical < warning < 1
func (t Thresholds) Validate() error {
	if t.Critical <= 0 || t.Warning >= 1 || t.Critical >= t.Warning {
		return fmt.Errorf("invalid thresholds: need 0 < critical (%v) < warning (%v) < 1", t.Critical, t.Warning)
	}
	return nil
}

// Changes describes what a Recompute pass changed
type Changes struct {
	EnteredAtRisk  bool
	WarningSet     bool
	CriticalSet    bool
	BreachDetected bool
}

// Any reports whether a status or flag changed
func (c Changes) Any() bool {
	return c.EnteredAtRisk || c.WarningSet || c.CriticalSet || c.BreachDetected
}

// Clone returns a deep copy of rec so that mutations never reach the caller's history slices
func Clone(rec database.SLATracking) database.SLATracking {
	rec.Timer.PauseHistory = slices.Clone(rec.Timer.PauseHistory)
	rec.Status.History = slices.Clone(rec.Status.History)
	return rec
}

// RefreshTimers re-derives the timer fields for now without touching status or flags.
// Closed records are evaluated at their closing time.
func RefreshTimers(rec *database.SLATracking, now time.Time) {
	at := now
	if rec.ClosedAt != nil {
		at = *rec.ClosedAt
	}
	rec.Timer.DueDateTime = DueDateTimeFor(rec)
	rec.Timer.TimeRemaining = ComputeTimeRemaining(rec.Timer, at)
	rec.Timer.TotalElapsedHours = ComputeElapsedHours(rec.Timer, at)
	rec.Timer.TotalPausedHours = DurationHours(PausedDuration(rec.Timer.PauseHistory))

	if rec.Breach.IsBreached {
		over := at.Sub(rec.Timer.DueDateTime)
		if over < 0 {
			over = 0
		}
		rec.Breach.DurationHours = DurationHours(over)
	}
}

// Recompute applies the time-driven rules to a copy of rec and returns it:
//
//  1. refresh the timer fields
//  2. Active with remaining <= warning ratio moves to AtRisk; warningSent is set once
//  3. remaining <= critical ratio sets criticalAlertSent once
//  4. Active or AtRisk past the due time moves to Breached
//
// Past the due time the remaining ratio is 0, so steps 2 and 3 fire before the breach.
func Recompute(rec database.SLATracking, now time.Time, th Thresholds) (database.SLATracking, Changes) {
	next := Clone(rec)
	var ch Changes

	RefreshTimers(&next, now)
	status := next.Status.CurrentStatus
	if status.IsTerminal() || status == database.SLAStatusBreached {
		return next, ch
	}
	if _, paused := OpenPause(next.Timer.PauseHistory); paused {
		return next, ch
	}

	ratio := RemainingRatio(next.Timer.TimeRemaining, next.Config.TargetHours)
	if ratio <= th.Warning && status == database.SLAStatusActive {
		setStatus(&next, database.SLAStatusAtRisk, Change{
			Reason: "Remaining time below warning threshold",
		}, true, now)
		ch.EnteredAtRisk = true
		if !next.Notification.WarningSent {
			next.Notification.WarningSent = true
			ch.WarningSet = true
		}
	}
	if ratio <= th.Critical && !next.Notification.CriticalAlertSent {
		next.Notification.CriticalAlertSent = true
		ch.CriticalSet = true
	}

	if !now.After(next.Timer.DueDateTime) {
		return next, ch
	}

	if CanAutoTransition(next.Status.CurrentStatus, database.SLAStatusBreached) {
		wasBreached := next.Breach.IsBreached
		markBreached(&next, now)
		setStatus(&next, database.SLAStatusBreached, Change{Reason: "Due time passed"}, true, now)
		ch.BreachDetected = !wasBreached
	}
	return next, ch
}
