package sla

import (
	"math"
	"time"

	"github.com/claimops/slatracker/internal/database"
)

// HoursToDuration converts fractional hours to a duration
func HoursToDuration(h float64) time.Duration {
	return time.Duration(math.Round(h * float64(time.Hour)))
}

// DurationHours converts a duration to fractional hours
func DurationHours(d time.Duration) float64 {
	return d.Hours()
}

// PausedDuration sums the closed pause intervals
func PausedDuration(history database.PauseHistory) time.Duration {
	var total time.Duration
	for _, p := range history {
		if p.ResumedAt != nil {
			total += p.ResumedAt.Sub(p.PausedAt)
		}
	}
	return total
}

// OpenPause returns the index of the most recent unresumed pause interval
func OpenPause(history database.PauseHistory) (int, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsOpen() {
			return i, true
		}
	}
	return -1, false
}

// ComputeDueDateTime returns start + base target + closed pauses + granted exception hours
func ComputeDueDateTime(start time.Time, baseTargetHours float64, paused time.Duration, exceptionHours float64) time.Time {
	return start.Add(HoursToDuration(baseTargetHours + exceptionHours)).Add(paused)
}

// DueDateTimeFor derives the due time of a record from its own fields
func DueDateTimeFor(rec *database.SLATracking) time.Time {
	return ComputeDueDateTime(
		rec.Timer.StartDateTime,
		rec.Config.BaseTargetHours,
		PausedDuration(rec.Timer.PauseHistory),
		rec.Exception.AdditionalTimeHours,
	)
}

// ComputeElapsedHours returns the working hours elapsed since start, excluding
// every pause interval, including one still open at now.
func ComputeElapsedHours(timer database.TimerInfo, now time.Time) float64 {
	if now.Before(timer.StartDateTime) {
		return 0
	}
	var paused time.Duration
	for _, p := range timer.PauseHistory {
		if !now.After(p.PausedAt) {
			continue
		}
		end := now
		if p.ResumedAt != nil && p.ResumedAt.Before(now) {
			end = *p.ResumedAt
		}
		paused += end.Sub(p.PausedAt)
	}
	elapsed := now.Sub(timer.StartDateTime) - paused
	if elapsed < 0 {
		return 0
	}
	return DurationHours(elapsed)
}

// ComputeTimeRemaining returns max(0, due - now). While a pause interval is
// open the value is frozen at due - pausedAt.
func ComputeTimeRemaining(timer database.TimerInfo, now time.Time) float64 {
	ref := now
	if i, ok := OpenPause(timer.PauseHistory); ok {
		ref = timer.PauseHistory[i].PausedAt
	}
	remaining := timer.DueDateTime.Sub(ref)
	if remaining < 0 {
		return 0
	}
	return DurationHours(remaining)
}

// RemainingRatio returns the remaining share of the target, or 1 when the target is unset
func RemainingRatio(timeRemaining, targetHours float64) float64 {
	if targetHours <= 0 {
		return 1
	}
	return timeRemaining / targetHours
}

// RoundHours rounds to two decimals for reporting
func RoundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
