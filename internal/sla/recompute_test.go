package sla

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimops/slatracker/internal/database"
)

func TestRecompute_RefreshesTimers(t *testing.T) {
	rec := newRecord(24)

	next, ch := Recompute(*rec, at(6), DefaultThresholds())
	assert.False(t, ch.Any())
	assert.InDelta(t, 18.0, next.Timer.TimeRemaining, 1e-9)
	assert.InDelta(t, 6.0, next.Timer.TotalElapsedHours, 1e-9)
	assert.Equal(t, database.SLAStatusActive, next.Status.CurrentStatus)
	assert.InDelta(t, 24.0, rec.Timer.TimeRemaining, 1e-9, "input record is not mutated")
}

func TestRecompute_WarningThreshold(t *testing.T) {
	rec := newRecord(24)

	next, ch := Recompute(*rec, at(18), DefaultThresholds())
	assert.True(t, ch.EnteredAtRisk)
	assert.True(t, ch.WarningSet)
	assert.False(t, ch.CriticalSet)
	assert.Equal(t, database.SLAStatusAtRisk, next.Status.CurrentStatus)
	assert.True(t, next.Notification.WarningSent)

	last := next.Status.History[len(next.Status.History)-1]
	assert.True(t, last.SystemGenerated)
	assert.Nil(t, last.ChangedBy)
	assert.Len(t, rec.Status.History, 1, "input history untouched")

	again, ch2 := Recompute(next, at(18), DefaultThresholds())
	assert.False(t, ch2.Any(), "second pass at the same instant changes nothing")
	assert.Equal(t, next.Status.History, again.Status.History)
}

func TestRecompute_CriticalThresholdKeepsStatus(t *testing.T) {
	rec := newRecord(24)
	rec.Status.CurrentStatus = database.SLAStatusAtRisk
	rec.Notification.WarningSent = true

	next, ch := Recompute(*rec, at(22), DefaultThresholds())
	assert.True(t, ch.CriticalSet)
	assert.False(t, ch.EnteredAtRisk)
	assert.Equal(t, database.SLAStatusAtRisk, next.Status.CurrentStatus)
	assert.True(t, next.Notification.CriticalAlertSent)

	_, ch2 := Recompute(next, at(23), DefaultThresholds())
	assert.False(t, ch2.CriticalSet, "critical flag is set only once")
}

func TestRecompute_Breach(t *testing.T) {
	rec := newRecord(24)

	next, ch := Recompute(*rec, at(26), DefaultThresholds())
	assert.True(t, ch.BreachDetected)
	assert.True(t, ch.EnteredAtRisk, "thresholds are applied before the breach")
	assert.True(t, ch.WarningSet)
	assert.True(t, ch.CriticalSet)
	assert.True(t, next.Notification.WarningSent)
	assert.True(t, next.Notification.CriticalAlertSent)
	assert.Equal(t, database.SLAStatusBreached, next.Status.CurrentStatus)

	require.Len(t, next.Status.History, 3)
	assert.Equal(t, database.SLAStatusAtRisk, next.Status.History[1].Status)
	assert.Equal(t, database.SLAStatusBreached, next.Status.History[2].Status)
	assert.True(t, next.Breach.IsBreached)
	require.NotNil(t, next.Breach.DetectedAt)
	assert.Equal(t, at(26), *next.Breach.DetectedAt)
	assert.InDelta(t, 2.0, next.Breach.DurationHours, 1e-9)
	assert.Equal(t, 0.0, next.Timer.TimeRemaining)

	later, ch2 := Recompute(next, at(30), DefaultThresholds())
	assert.False(t, ch2.BreachDetected)
	assert.True(t, later.Breach.IsBreached, "breach flag is monotonic")
	assert.Equal(t, at(26), *later.Breach.DetectedAt)
	assert.InDelta(t, 6.0, later.Breach.DurationHours, 1e-9, "duration is measured from due, not accumulated")
}

func TestRecompute_BreachFromAtRiskKeepsSentFlags(t *testing.T) {
	rec := newRecord(24)
	rec.Status.CurrentStatus = database.SLAStatusAtRisk
	rec.Notification.WarningSent = true

	next, ch := Recompute(*rec, at(25), DefaultThresholds())
	assert.True(t, ch.BreachDetected)
	assert.False(t, ch.WarningSet, "warning was already sent")
	assert.False(t, ch.EnteredAtRisk)
	assert.True(t, ch.CriticalSet)
	assert.Equal(t, database.SLAStatusBreached, next.Status.CurrentStatus)
}

func TestRecompute_PausedIsFrozen(t *testing.T) {
	rec := newRecord(24)
	require.NoError(t, Pause(rec, database.SLAStatusPaused, Change{Reason: "waiting"}, at(20)))

	next, ch := Recompute(*rec, at(40), DefaultThresholds())
	assert.False(t, ch.Any())
	assert.Equal(t, database.SLAStatusPaused, next.Status.CurrentStatus)
	assert.InDelta(t, 4.0, next.Timer.TimeRemaining, 1e-9)
	assert.False(t, next.Breach.IsBreached)
}

func TestRecompute_ClosedRecordUsesClosingTime(t *testing.T) {
	rec := newRecord(24)
	require.NoError(t, Complete(rec, Change{ChangedBy: ptr("emp-1")}, at(10)))

	next, ch := Recompute(*rec, at(100), DefaultThresholds())
	assert.False(t, ch.Any())
	assert.InDelta(t, 14.0, next.Timer.TimeRemaining, 1e-9)
	assert.InDelta(t, 10.0, next.Timer.TotalElapsedHours, 1e-9)
}

func TestRecompute_ResumedAtRiskDoesNotRewarn(t *testing.T) {
	rec := newRecord(24)
	rec.Notification.WarningSent = true

	next, ch := Recompute(*rec, at(19), DefaultThresholds())
	assert.True(t, ch.EnteredAtRisk)
	assert.False(t, ch.WarningSet)
	assert.Equal(t, database.SLAStatusAtRisk, next.Status.CurrentStatus)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{Warning: 0.1, Critical: 0.25}.Validate())
	assert.Error(t, Thresholds{Warning: 1.2, Critical: 0.1}.Validate())
	assert.Error(t, Thresholds{Warning: 0.25, Critical: 0}.Validate())
}
