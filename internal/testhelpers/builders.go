package testhelpers

import (
	"time"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/sla"
)

// ========================================
// SLA Tracking Builder
// ========================================

// SLABuilder builds SLATracking records for testing
type SLABuilder struct {
	rec database.SLATracking
}

// NewSLABuilder creates a builder for an Active 24h task_completion record started at start
func NewSLABuilder(start time.Time) *SLABuilder {
	start = start.UTC()
	return &SLABuilder{
		rec: database.SLATracking{
			CompanyRef: "co-1",
			ClientRef:  "client-1",
			SOWRef:     "sow-1",
			ClaimRef:   "CLM-1",
			Priority:   "Medium",
			Config: database.SLAConfig{
				Type:            database.SLATypeTaskCompletion,
				TargetHours:     24,
				BaseTargetHours: 24,
			},
			Trigger: database.TriggerInfo{Event: "claim_assigned"},
			Timer: database.TimerInfo{
				StartDateTime: start,
				TimeRemaining: 24,
				PauseHistory:  database.PauseHistory{},
			},
			Status: database.StatusInfo{
				CurrentStatus: database.SLAStatusActive,
				History: database.StatusHistory{{
					Status:          database.SLAStatusActive,
					ChangedAt:       start,
					Reason:          "SLA Created",
					SystemGenerated: true,
				}},
			},
			IsActive:  true,
			CreatedAt: start,
			UpdatedAt: start,
		},
	}
}

// WithCompany sets the owning company
func (b *SLABuilder) WithCompany(ref string) *SLABuilder {
	b.rec.CompanyRef = ref
	return b
}

// WithClaim sets the claim reference
func (b *SLABuilder) WithClaim(ref string) *SLABuilder {
	b.rec.ClaimRef = ref
	return b
}

// WithClient sets the client reference
func (b *SLABuilder) WithClient(ref string) *SLABuilder {
	b.rec.ClientRef = ref
	return b
}

// WithEmployee assigns the record
func (b *SLABuilder) WithEmployee(ref string) *SLABuilder {
	b.rec.AssignedEmployeeRef = &ref
	return b
}

// WithType sets the SLA type
func (b *SLABuilder) WithType(t database.SLAType) *SLABuilder {
	b.rec.Config.Type = t
	return b
}

// WithTarget sets the base and effective target hours
func (b *SLABuilder) WithTarget(hours float64) *SLABuilder {
	b.rec.Config.TargetHours = hours
	b.rec.Config.BaseTargetHours = hours
	b.rec.Timer.TimeRemaining = hours
	return b
}

// WithStatus overrides the current status without history
func (b *SLABuilder) WithStatus(status database.SLAStatus) *SLABuilder {
	b.rec.Status.CurrentStatus = status
	return b
}

// CreatedAt overrides the creation time used by statistics
func (b *SLABuilder) CreatedAt(t time.Time) *SLABuilder {
	b.rec.CreatedAt = t.UTC()
	b.rec.UpdatedAt = t.UTC()
	return b
}

// Completed closes the record at the given time; late records are marked breached
func (b *SLABuilder) Completed(at time.Time, late bool) *SLABuilder {
	at = at.UTC()
	b.rec.Status.CurrentStatus = database.SLAStatusCompleted
	b.rec.ClosedAt = &at
	b.rec.Timer.TotalElapsedHours = at.Sub(b.rec.Timer.StartDateTime).Hours()
	b.rec.Resolution.Type = database.ResolutionCompletedOnTime
	if late {
		b.rec.Resolution.Type = database.ResolutionCompletedLate
		b.rec.Breach.IsBreached = true
		b.rec.Breach.DetectedAt = &at
	}
	return b
}

// Breached marks the record breached and open
func (b *SLABuilder) Breached(at time.Time) *SLABuilder {
	at = at.UTC()
	b.rec.Status.CurrentStatus = database.SLAStatusBreached
	b.rec.Breach.IsBreached = true
	b.rec.Breach.DetectedAt = &at
	return b
}

// Build returns the record with a consistent due time
func (b *SLABuilder) Build() database.SLATracking {
	rec := sla.Clone(b.rec)
	rec.Timer.DueDateTime = sla.DueDateTimeFor(&rec)
	return rec
}

// ========================================
// Employee Builder
// ========================================

// NewEmployee returns an employee of company co-1
func NewEmployee(ref, name string) database.Employee {
	return database.Employee{
		Ref:        ref,
		CompanyRef: "co-1",
		Name:       name,
		Email:      ref + "@example.com",
	}
}
