package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/claimops/slatracker/internal/database"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(h float64) time.Time {
	return t0.Add(HoursToDuration(h))
}

func ptr(s string) *string { return &s }

func TestComputeDueDateTime(t *testing.T) {
	due := ComputeDueDateTime(t0, 24, 3*time.Hour, 4)
	assert.Equal(t, at(31), due)

	assert.Equal(t, at(0.5), ComputeDueDateTime(t0, 0.5, 0, 0))
}

func TestComputeTimeRemaining(t *testing.T) {
	timer := database.TimerInfo{StartDateTime: t0, DueDateTime: at(24)}

	assert.InDelta(t, 24.0, ComputeTimeRemaining(timer, t0), 1e-9)
	assert.InDelta(t, 6.0, ComputeTimeRemaining(timer, at(18)), 1e-9)
	assert.Equal(t, 0.0, ComputeTimeRemaining(timer, at(30)), "never negative")
}

func TestComputeTimeRemaining_FrozenWhilePaused(t *testing.T) {
	timer := database.TimerInfo{
		StartDateTime: t0,
		DueDateTime:   at(24),
		PauseHistory:  database.PauseHistory{{PausedAt: at(2), Reason: "awaiting client"}},
	}

	assert.InDelta(t, 22.0, ComputeTimeRemaining(timer, at(3)), 1e-9)
	assert.InDelta(t, 22.0, ComputeTimeRemaining(timer, at(40)), 1e-9)
}

func TestComputeElapsedHours(t *testing.T) {
	resumed := at(5)
	timer := database.TimerInfo{
		StartDateTime: t0,
		DueDateTime:   at(27),
		PauseHistory: database.PauseHistory{
			{PausedAt: at(2), ResumedAt: &resumed, PauseDurationHours: 3},
			{PausedAt: at(8)},
		},
	}

	assert.InDelta(t, 2.0, ComputeElapsedHours(timer, at(2)), 1e-9)
	assert.InDelta(t, 3.0, ComputeElapsedHours(timer, at(6)), 1e-9)
	assert.InDelta(t, 5.0, ComputeElapsedHours(timer, at(12)), 1e-9, "open pause does not count")
	assert.Equal(t, 0.0, ComputeElapsedHours(timer, t0.Add(-time.Hour)))
}

func TestPausedDurationAndOpenPause(t *testing.T) {
	r1, r2 := at(3), at(10)
	history := database.PauseHistory{
		{PausedAt: at(1), ResumedAt: &r1},
		{PausedAt: at(6), ResumedAt: &r2},
		{PausedAt: at(12)},
	}

	assert.Equal(t, 6*time.Hour, PausedDuration(history))

	i, ok := OpenPause(history)
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = OpenPause(history[:2])
	assert.False(t, ok)
}

func TestRemainingRatio(t *testing.T) {
	assert.InDelta(t, 0.25, RemainingRatio(6, 24), 1e-9)
	assert.Equal(t, 1.0, RemainingRatio(6, 0))
}

func TestRoundHours(t *testing.T) {
	assert.Equal(t, 66.67, RoundHours(200.0/3))
	assert.Equal(t, 20.0, RoundHours(20))
}
