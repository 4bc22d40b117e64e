package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/sla"
	"github.com/claimops/slatracker/internal/testhelpers"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type serviceFixture struct {
	svc      *SLAService
	db       *gorm.DB
	clock    *testhelpers.FakeClock
	notifier *testhelpers.RecordingNotifier
}

func newServiceFixture(t *testing.T, opts ...SLAOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		db:       testhelpers.NewTestDB(t),
		clock:    testhelpers.NewFakeClock(t0),
		notifier: testhelpers.NewRecordingNotifier(),
	}
	opts = append([]SLAOption{
		WithClock(f.clock),
		WithNotifier(f.notifier),
		WithActionBaseURL("https://claims.example.com/"),
	}, opts...)
	f.svc = NewSLAService(f.db, opts...)
	return f
}

func validCreateInput() CreateInput {
	emp := "emp-1"
	return CreateInput{
		CompanyRef:          "co-1",
		ClientRef:           "client-1",
		SOWRef:              "sow-1",
		ClaimRef:            "CLM-1",
		AssignedEmployeeRef: &emp,
		SLAType:             database.SLATypeTaskCompletion,
		Priority:            "Medium",
	}
}

func (f *serviceFixture) create(t *testing.T) *database.SLATracking {
	t.Helper()
	rec, err := f.svc.Create(context.Background(), validCreateInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return rec
}

func TestCreate_DefaultTarget(t *testing.T) {
	f := newServiceFixture(t)

	rec := f.create(t)

	if rec.Config.TargetHours != 24 {
		t.Errorf("TargetHours = %v, want 24", rec.Config.TargetHours)
	}
	testhelpers.AssertTimeEqual(t, t0.Add(24*time.Hour), rec.Timer.DueDateTime, "due")
	if rec.Status.CurrentStatus != database.SLAStatusActive {
		t.Errorf("status = %s, want Active", rec.Status.CurrentStatus)
	}
	if len(rec.Status.History) != 1 || rec.Status.History[0].Reason != "SLA Created" || !rec.Status.History[0].SystemGenerated {
		t.Errorf("unexpected history: %+v", rec.Status.History)
	}

	stored, err := f.svc.GetByID(context.Background(), rec.UUID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	testhelpers.AssertTimeEqual(t, rec.Timer.DueDateTime, stored.Timer.DueDateTime, "stored due")
	if stored.Version != 1 {
		t.Errorf("Version = %d, want 1", stored.Version)
	}
}

func TestCreate_ExplicitAndPriorityTargets(t *testing.T) {
	f := newServiceFixture(t)

	in := validCreateInput()
	in.Priority = "Critical"
	in.SLAType = database.SLATypeResponseTime
	rec, err := f.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.Config.TargetHours != 0.5 {
		t.Errorf("critical response target = %v, want 0.5", rec.Config.TargetHours)
	}

	explicit := 10.0
	in.TargetHours = &explicit
	rec, err = f.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.Config.TargetHours != 10 {
		t.Errorf("explicit target = %v, want 10", rec.Config.TargetHours)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{})
	if !errors.Is(err, sla.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var fields sla.FieldErrors
	if !errors.As(err, &fields) {
		t.Fatalf("expected FieldErrors, got %T", err)
	}
	for _, key := range []string{"company_ref", "client_ref", "sow_ref", "claim_ref", "sla_type"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field error for %s", key)
		}
	}

	tests := []struct {
		name  string
		field string
		edit  func(*CreateInput)
	}{
		{"target too small", "target_time", func(in *CreateInput) { h := 0.25; in.TargetHours = &h }},
		{"target too large", "target_time", func(in *CreateInput) { h := 721.0; in.TargetHours = &h }},
		{"future start", "start_time", func(in *CreateInput) { s := t0.Add(time.Hour); in.StartDateTime = &s }},
		{"unknown priority", "priority", func(in *CreateInput) { in.Priority = "Whenever" }},
		{"unknown type", "sla_type", func(in *CreateInput) { in.SLAType = "uptime" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validCreateInput()
			tt.edit(&in)
			errs := f.svc.ValidateSLAData(context.Background(), in)
			if _, ok := errs[tt.field]; !ok {
				t.Errorf("expected error on %s, got %v", tt.field, errs)
			}
			if _, err := f.svc.Create(context.Background(), in); !errors.Is(err, sla.ErrValidation) {
				t.Errorf("Create() error = %v, want validation", err)
			}
		})
	}

	var count int64
	f.db.Model(&database.SLATracking{}).Count(&count)
	if count != 0 {
		t.Errorf("invalid input was persisted: %d rows", count)
	}
}

func TestValidateSLAData_Valid(t *testing.T) {
	f := newServiceFixture(t)

	start := t0.Add(-2 * time.Hour)
	in := validCreateInput()
	in.StartDateTime = &start
	if errs := f.svc.ValidateSLAData(context.Background(), in); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestCreate_ScopeOverridesCompany(t *testing.T) {
	f := newServiceFixture(t)
	ctx := WithScope(context.Background(), Scope{CompanyRef: "co-9", EmployeeRef: "emp-9"})

	in := validCreateInput()
	in.CompanyRef = "co-1"
	rec, err := f.svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.CompanyRef != "co-9" {
		t.Errorf("CompanyRef = %q, want co-9", rec.CompanyRef)
	}

	other := WithScope(context.Background(), Scope{CompanyRef: "co-1"})
	if _, err := f.svc.GetByID(other, rec.UUID); !errors.Is(err, sla.ErrNotFound) {
		t.Errorf("cross-tenant read: expected not found, got %v", err)
	}
}

func TestUpdateStatus_PauseAndResumeShiftsDue(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t)

	f.clock.Advance(2 * time.Hour)
	paused, err := f.svc.UpdateStatus(ctx, rec.UUID, StatusUpdate{
		Status: "Paused", ChangedBy: "emp-1", Reason: "awaiting client",
	})
	if err != nil {
		t.Fatalf("pause error = %v", err)
	}
	remainingAtPause := paused.Timer.TimeRemaining

	f.clock.Advance(3 * time.Hour)
	resumed, err := f.svc.UpdateStatus(ctx, rec.UUID, StatusUpdate{Status: "Active", ChangedBy: "emp-1"})
	if err != nil {
		t.Fatalf("resume error = %v", err)
	}

	if resumed.Status.CurrentStatus != database.SLAStatusActive {
		t.Errorf("status = %s, want Active", resumed.Status.CurrentStatus)
	}
	if got := resumed.Timer.PauseHistory[0].PauseDurationHours; got != 3 {
		t.Errorf("PauseDurationHours = %v, want 3", got)
	}
	testhelpers.AssertTimeEqual(t, t0.Add(27*time.Hour), resumed.Timer.DueDateTime, "due after resume")
	testhelpers.AssertFloat(t, remainingAtPause, resumed.Timer.TimeRemaining, "remaining preserved across pause")
	if resumed.Version != 3 {
		t.Errorf("Version = %d, want 3", resumed.Version)
	}
}

func TestUpdateStatus_Validation(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)

	tests := []struct {
		name   string
		update StatusUpdate
	}{
		{"missing status", StatusUpdate{ChangedBy: "emp-1"}},
		{"missing changed by", StatusUpdate{Status: "Completed"}},
		{"unknown status", StatusUpdate{Status: "Archived", ChangedBy: "emp-1"}},
		{"pause without reason", StatusUpdate{Status: "Paused", ChangedBy: "emp-1"}},
		{"at risk is not caller driven", StatusUpdate{Status: "AtRisk", ChangedBy: "emp-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateStatus(context.Background(), rec.UUID, tt.update)
			if !errors.Is(err, sla.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.UpdateStatus(context.Background(), "2f1e8a52-3c1e-4c55-9d67-8f0b1f6f6a11", StatusUpdate{
		Status: "Completed", ChangedBy: "emp-1",
	})
	if !errors.Is(err, sla.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUpdateStatus_TerminalRejectsTransitions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	rec := f.create(t)

	if _, err := f.svc.UpdateStatus(ctx, rec.UUID, StatusUpdate{Status: "Completed", ChangedBy: "emp-1"}); err != nil {
		t.Fatalf("complete error = %v", err)
	}
	_, err := f.svc.UpdateStatus(ctx, rec.UUID, StatusUpdate{Status: "Paused", ChangedBy: "emp-1", Reason: "x"})
	if !errors.Is(err, sla.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestUpdateStatus_CompleteLate(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)

	f.clock.Advance(30 * time.Hour)
	done, err := f.svc.UpdateStatus(context.Background(), rec.UUID, StatusUpdate{Status: "completed", ChangedBy: "emp-1"})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if done.Resolution.Type != database.ResolutionCompletedLate || !done.Breach.IsBreached {
		t.Errorf("resolution=%s breached=%v, want completed_late and breached", done.Resolution.Type, done.Breach.IsBreached)
	}
	testhelpers.AssertFloat(t, 6, done.Breach.DurationHours, "breach duration")
	if done.ClosedAt == nil {
		t.Error("ClosedAt not set")
	}
}

func TestUpdateStatus_ExpiredMarksBreached(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)

	got, err := f.svc.UpdateStatus(context.Background(), rec.UUID, StatusUpdate{Status: "Expired", ChangedBy: "emp-1"})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if got.Status.CurrentStatus != database.SLAStatusBreached || !got.Breach.IsBreached {
		t.Errorf("status=%s breached=%v", got.Status.CurrentStatus, got.Breach.IsBreached)
	}
}

func TestUpdateStatus_ActiveOnActiveIsNoop(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)

	got, err := f.svc.UpdateStatus(context.Background(), rec.UUID, StatusUpdate{Status: "Active", ChangedBy: "emp-1"})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if len(got.Status.History) != 1 {
		t.Errorf("history grew to %d entries", len(got.Status.History))
	}
}

func TestReevaluate_NotificationFailureKeepsFlags(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)
	f.notifier.Failing()

	f.clock.Advance(19 * time.Hour)
	eval, err := f.svc.Reevaluate(context.Background(), rec.UUID)
	if err != nil {
		t.Fatalf("Reevaluate() error = %v", err)
	}
	if !errors.Is(eval.NotifyErr, testhelpers.ErrNotifierDown) {
		t.Errorf("NotifyErr = %v, want notifier down", eval.NotifyErr)
	}

	stored, err := database.GetSLATrackingByUUID(f.db, rec.UUID, "")
	if err != nil {
		t.Fatalf("GetSLATrackingByUUID() error = %v", err)
	}
	if !stored.Notification.WarningSent || stored.Status.CurrentStatus != database.SLAStatusAtRisk {
		t.Errorf("warning flag not persisted: %+v status=%s", stored.Notification, stored.Status.CurrentStatus)
	}

	eval, err = f.svc.Reevaluate(context.Background(), rec.UUID)
	if err != nil {
		t.Fatalf("second Reevaluate() error = %v", err)
	}
	if eval.Changes.Any() || eval.NotifyErr != nil {
		t.Errorf("second pass should be quiet, got %+v / %v", eval.Changes, eval.NotifyErr)
	}
}

func TestMutate_RetriesAfterVersionConflict(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)

	calls := 0
	got, _, err := f.svc.mutate(context.Background(), "test", rec.UUID, func(r *database.SLATracking, now time.Time) error {
		calls++
		if calls == 1 {
			concurrent := sla.Clone(*r)
			if err := database.SaveSLATracking(f.db, &concurrent); err != nil {
				t.Fatalf("concurrent save error = %v", err)
			}
		}
		r.Priority = "High"
		return nil
	})
	if err != nil {
		t.Fatalf("mutate() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("mutation applied %d times, want 2", calls)
	}
	if got.Version != 3 || got.Priority != "High" {
		t.Errorf("version=%d priority=%s", got.Version, got.Priority)
	}
}

func TestMutate_ConflictAfterRetries(t *testing.T) {
	f := newServiceFixture(t, WithMaxRetries(1))
	rec := f.create(t)

	_, _, err := f.svc.mutate(context.Background(), "test", rec.UUID, func(r *database.SLATracking, now time.Time) error {
		concurrent := sla.Clone(*r)
		return database.SaveSLATracking(f.db, &concurrent)
	})
	if !errors.Is(err, sla.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestGetByID_RefreshesWithoutPersisting(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)

	f.clock.Advance(6 * time.Hour)
	got, err := f.svc.GetByID(context.Background(), rec.UUID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	testhelpers.AssertFloat(t, 18, got.Timer.TimeRemaining, "remaining")
	testhelpers.AssertFloat(t, 6, got.Timer.TotalElapsedHours, "elapsed")

	stored, _ := database.GetSLATrackingByUUID(f.db, rec.UUID, "")
	testhelpers.AssertFloat(t, 24, stored.Timer.TimeRemaining, "stored remaining")
}

func TestList_FiltersAndPages(t *testing.T) {
	f := newServiceFixture(t)
	ctx := WithScope(context.Background(), Scope{CompanyRef: "co-1"})

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		f.create(t)
	}
	f.clock.Advance(time.Minute)
	in := validCreateInput()
	in.ClaimRef = "CLM-2"
	in.SLAType = database.SLATypeResponseTime
	target, err := f.svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	page, total, err := f.svc.List(ctx, ListFilter{Offset: 0, Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 4 || len(page) != 2 {
		t.Errorf("total=%d len=%d, want 4/2", total, len(page))
	}
	if page[0].UUID != target.UUID {
		t.Error("expected newest record first")
	}

	filtered, total, err := f.svc.List(ctx, ListFilter{Types: []database.SLAType{database.SLATypeResponseTime}, Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || filtered[0].ClaimRef != "CLM-2" {
		t.Errorf("type filter returned %d records", total)
	}
}

func TestDelete(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)

	if err := f.svc.Delete(context.Background(), rec.UUID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := f.svc.Delete(context.Background(), rec.UUID); !errors.Is(err, sla.ErrNotFound) {
		t.Errorf("second delete: expected not found, got %v", err)
	}
}

func TestBulkUpdate_PerIDResults(t *testing.T) {
	f := newServiceFixture(t)
	a := f.create(t)
	b := f.create(t)
	missing := "9a4b5c6d-0000-4000-8000-000000000000"

	results, err := f.svc.BulkUpdate(context.Background(), []string{a.UUID, missing, b.UUID}, StatusUpdate{
		Status: "Cancelled", ChangedBy: "emp-1", Reason: "claim withdrawn",
	})
	if err != nil {
		t.Fatalf("BulkUpdate() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil || results[0].Record.Status.CurrentStatus != database.SLAStatusCancelled {
		t.Errorf("first result: %+v", results[0])
	}
	if !errors.Is(results[1].Err, sla.ErrNotFound) {
		t.Errorf("missing id: expected not found, got %v", results[1].Err)
	}
	if results[2].Err != nil {
		t.Errorf("third result failed: %v", results[2].Err)
	}

	if _, err := f.svc.BulkUpdate(context.Background(), nil, StatusUpdate{Status: "Cancelled", ChangedBy: "x"}); !errors.Is(err, sla.ErrValidation) {
		t.Errorf("empty ids: expected validation error, got %v", err)
	}
}

func TestUpcoming(t *testing.T) {
	f := newServiceFixture(t)

	in := validCreateInput()
	for _, h := range []float64{8, 2, 48} {
		target := h
		in.TargetHours = &target
		if _, err := f.svc.Create(context.Background(), in); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	got, err := f.svc.Upcoming(context.Background(), 24, 10)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Config.TargetHours != 2 || got[1].Config.TargetHours != 8 {
		t.Error("expected earliest due first")
	}

	if _, err := f.svc.Upcoming(context.Background(), 0, 10); !errors.Is(err, sla.ErrValidation) {
		t.Errorf("expected validation error for zero hours, got %v", err)
	}
}

func TestReevaluate_WarningThenBreachNotifications(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.create(t)
	ctx := context.Background()

	f.clock.Advance(19 * time.Hour)
	eval, err := f.svc.Reevaluate(ctx, rec.UUID)
	if err != nil {
		t.Fatalf("Reevaluate() error = %v", err)
	}
	if !eval.Changes.EnteredAtRisk || !eval.Changes.WarningSet {
		t.Errorf("expected warning, got %+v", eval.Changes)
	}
	if f.notifier.Count(NotificationTypeWarning) != 1 {
		t.Errorf("warning notifications = %d, want 1", f.notifier.Count(NotificationTypeWarning))
	}

	f.clock.Advance(6 * time.Hour)
	eval, err = f.svc.Reevaluate(ctx, rec.UUID)
	if err != nil {
		t.Fatalf("Reevaluate() error = %v", err)
	}
	if !eval.Changes.BreachDetected || !eval.Changes.CriticalSet {
		t.Errorf("expected critical and breach, got %+v", eval.Changes)
	}
	if n := f.notifier.Count(NotificationTypeCritical); n != 0 {
		t.Errorf("critical notifications = %d, the breach supersedes it", n)
	}
	sent := f.notifier.Sent()
	last := sent[len(sent)-1]
	if last.Type != NotificationTypeBreach || last.Priority != database.NotificationPriorityUrgent {
		t.Errorf("last notification = %s/%s", last.Type, last.Priority)
	}
	if last.ActionURL != "https://claims.example.com/slas/"+rec.UUID {
		t.Errorf("ActionURL = %q", last.ActionURL)
	}
	if len(last.Recipients) != 1 || last.Recipients[0] != "emp-1" {
		t.Errorf("Recipients = %v", last.Recipients)
	}
}
