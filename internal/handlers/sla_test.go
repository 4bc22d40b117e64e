package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/claimops/slatracker/internal/api"
	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/jobs"
	"github.com/claimops/slatracker/internal/metrics"
	"github.com/claimops/slatracker/internal/services"
	"github.com/claimops/slatracker/internal/testhelpers"
)

var apiT0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	mux     *http.ServeMux
	db      *gorm.DB
	clock   *testhelpers.FakeClock
	svc     *services.SLAService
	metrics *metrics.Metrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		mux:     http.NewServeMux(),
		db:      testhelpers.NewTestDB(t),
		clock:   testhelpers.NewFakeClock(apiT0),
		metrics: metrics.New(),
	}
	notifications := services.NewNotificationService(f.db, nil, f.metrics)
	f.svc = services.NewSLAService(f.db,
		services.WithClock(f.clock),
		services.WithNotifier(notifications))
	monitor := jobs.NewBreachMonitor(f.svc, jobs.WithMetrics(f.metrics))

	NewSLAHandler(f.svc, monitor, nil).SetupRoutes(f.mux)
	NewStatsHandler(services.NewStatisticsService(f.db, f.clock, nil), nil).SetupRoutes(f.mux)
	NewNotificationHandler(notifications, nil).SetupRoutes(f.mux)
	NewHTTPHandler(f.db, nil, f.metrics.Handler(), nil).SetupRoutes(f.mux)
	return f
}

func createBody(claim string) map[string]interface{} {
	return map[string]interface{}{
		"company_ref":           "co-1",
		"client_ref":            "client-1",
		"sow_ref":               "sow-1",
		"claim_ref":             claim,
		"assigned_employee_ref": "emp-1",
		"sla_type":              "task_completion",
		"priority":              "Medium",
	}
}

func scoped(company, employee string) context.Context {
	return services.WithScope(context.Background(), services.Scope{CompanyRef: company, EmployeeRef: employee})
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *testhelpers.HTTPTestContext {
	t.Helper()
	ctx := testhelpers.NewHTTPTestContext(t, method, path, nil)
	if body != nil {
		ctx.WithJSONBody(body)
	}
	return ctx.Execute(f.mux)
}

func (f *apiFixture) create(t *testing.T, claim string) api.SLAResponse {
	t.Helper()
	var resp api.SLAResponse
	f.do(t, http.MethodPost, "/api/slas", createBody(claim)).
		AssertStatus(http.StatusCreated).
		DecodeJSON(&resp)
	return resp
}

func TestSLAAPI_CreateAndGet(t *testing.T) {
	f := newAPIFixture(t)

	ctx := f.do(t, http.MethodPost, "/api/slas", createBody("CLM-1")).AssertStatus(http.StatusCreated)
	var created api.SLAResponse
	ctx.DecodeJSON(&created)

	if created.UUID == "" {
		t.Fatal("expected an id")
	}
	ctx.AssertHeader("Location", "/api/slas/"+created.UUID)
	if created.Config.TargetHours != 24 {
		t.Errorf("target_hours = %v, want 24", created.Config.TargetHours)
	}
	if created.TimeRemainingDisplay != "24h" {
		t.Errorf("time_remaining_display = %q, want 24h", created.TimeRemainingDisplay)
	}
	if created.IsOverdue {
		t.Error("new record should not be overdue")
	}

	f.clock.Advance(90 * time.Minute)
	var got api.SLAResponse
	f.do(t, http.MethodGet, "/api/slas/"+created.UUID, nil).AssertStatus(http.StatusOK).DecodeJSON(&got)
	if got.UUID != created.UUID {
		t.Errorf("id = %q, want %q", got.UUID, created.UUID)
	}
	if got.TimeRemainingDisplay != "22h 30m" {
		t.Errorf("time_remaining_display = %q, want 22h 30m", got.TimeRemainingDisplay)
	}
}

func TestSLAAPI_CreateValidation(t *testing.T) {
	f := newAPIFixture(t)

	missing := createBody("")
	delete(missing, "claim_ref")
	f.do(t, http.MethodPost, "/api/slas", missing).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertBodyContains(`"claim_ref":"is required"`)

	badType := createBody("CLM-1")
	badType["sla_type"] = "coffee_break"
	f.do(t, http.MethodPost, "/api/slas", badType).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertBodyContains(`"sla_type"`)

	unknown := createBody("CLM-1")
	unknown["colour"] = "blue"
	f.do(t, http.MethodPost, "/api/slas", unknown).
		AssertStatus(http.StatusBadRequest).
		AssertBodyContains("unknown field")
}

func TestSLAAPI_ScopeOverridesCompany(t *testing.T) {
	f := newAPIFixture(t)

	var created api.SLAResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/slas", nil).
		WithJSONBody(createBody("CLM-1")).
		WithContext(scoped("co-9", "emp-5")).
		Execute(f.mux).
		AssertStatus(http.StatusCreated).
		DecodeJSON(&created)

	if created.CompanyRef != "co-9" {
		t.Errorf("company_ref = %q, want co-9", created.CompanyRef)
	}
	if created.CreatedBy == nil || *created.CreatedBy != "emp-5" {
		t.Errorf("created_by = %v, want emp-5", created.CreatedBy)
	}

	// Another tenant cannot see it.
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/slas/"+created.UUID, nil).
		WithContext(scoped("co-1", "emp-1")).
		Execute(f.mux).
		AssertStatus(http.StatusNotFound)
}

func TestSLAAPI_UpdateStatus(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.create(t, "CLM-1")
	path := "/api/slas/" + rec.UUID + "/status"

	// Unauthenticated callers must say who made the change.
	f.do(t, http.MethodPut, path, map[string]string{"status": "Paused", "reason": "waiting"}).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertBodyContains("changed_by")

	var paused api.SLAResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPut, path, nil).
		WithJSONBody(map[string]string{"status": "Paused", "reason": "waiting on client"}).
		WithContext(scoped("co-1", "emp-1")).
		Execute(f.mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&paused)
	if paused.Status.CurrentStatus != database.SLAStatusPaused {
		t.Errorf("status = %q, want Paused", paused.Status.CurrentStatus)
	}
	last := paused.Status.History[len(paused.Status.History)-1]
	if last.ChangedBy == nil || *last.ChangedBy != "emp-1" {
		t.Errorf("changed_by = %v, want emp-1", last.ChangedBy)
	}

	f.do(t, http.MethodPut, path, map[string]string{"status": "Cancelled", "changed_by": "emp-1"}).
		AssertStatus(http.StatusOK)
	f.do(t, http.MethodPut, path, map[string]string{"status": "Active", "changed_by": "emp-1"}).
		AssertStatus(http.StatusBadRequest).
		AssertBodyContains(`"code":"invalid_transition"`)

	f.do(t, http.MethodPut, "/api/slas/"+uuid.NewString()+"/status", map[string]string{"status": "Paused", "changed_by": "emp-1", "reason": "x"}).
		AssertStatus(http.StatusNotFound).
		AssertBodyContains(`"code":"not_found"`)
}

func TestSLAAPI_List(t *testing.T) {
	f := newAPIFixture(t)
	for _, claim := range []string{"CLM-1", "CLM-2", "CLM-3"} {
		f.create(t, claim)
		f.clock.Advance(time.Minute)
	}
	first := f.create(t, "CLM-4")
	f.do(t, http.MethodPut, "/api/slas/"+first.UUID+"/status",
		map[string]string{"status": "Paused", "changed_by": "emp-1", "reason": "waiting"}).AssertStatus(http.StatusOK)

	var page api.PaginatedResponse
	f.do(t, http.MethodGet, "/api/slas?per_page=3", nil).AssertStatus(http.StatusOK).DecodeJSON(&page)
	if page.Pagination.Total != 4 || page.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v, want total 4 over 2 pages", page.Pagination)
	}
	if items, ok := page.Data.([]interface{}); !ok || len(items) != 3 {
		t.Errorf("data = %v, want 3 items", page.Data)
	}

	var paused api.PaginatedResponse
	f.do(t, http.MethodGet, "/api/slas?status=Paused", nil).AssertStatus(http.StatusOK).DecodeJSON(&paused)
	if paused.Pagination.Total != 1 {
		t.Errorf("paused total = %d, want 1", paused.Pagination.Total)
	}

	f.do(t, http.MethodGet, "/api/slas?status=Sleeping", nil).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertBodyContains(`"status"`)
	f.do(t, http.MethodGet, "/api/slas?from=2026-03-05&to=2026-03-01", nil).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertBodyContains("must not be before from")
}

func TestSLAAPI_BulkStatus(t *testing.T) {
	f := newAPIFixture(t)
	a := f.create(t, "CLM-1")
	b := f.create(t, "CLM-2")
	missing := uuid.NewString()

	var resp api.BulkStatusResponse
	f.do(t, http.MethodPost, "/api/slas/bulk-status", map[string]interface{}{
		"ids":        []string{a.UUID, missing, b.UUID},
		"status":     "Completed",
		"changed_by": "emp-1",
	}).AssertStatus(http.StatusOK).DecodeJSON(&resp)

	if resp.Succeeded != 2 || resp.Failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d, want 2/1", resp.Succeeded, resp.Failed)
	}
	if resp.Results[1].ID != missing || resp.Results[1].Code != "not_found" {
		t.Errorf("results[1] = %+v", resp.Results[1])
	}

	f.do(t, http.MethodPost, "/api/slas/bulk-status", map[string]interface{}{
		"ids":    []string{"nope"},
		"status": "Completed",
	}).AssertStatus(http.StatusUnprocessableEntity).AssertBodyContains(`"ids[0]"`)
}

func TestSLAAPI_EscalateExceptionAndAuditTrail(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.create(t, "CLM-1")
	base := "/api/slas/" + rec.UUID

	f.do(t, http.MethodPost, base+"/escalate", map[string]string{"escalation_reason": "stuck"}).
		AssertStatus(http.StatusUnprocessableEntity).
		AssertBodyContains(`"escalated_to":"is required"`)

	var escalated api.SLAResponse
	f.do(t, http.MethodPost, base+"/escalate", map[string]string{
		"escalated_to": "lead-7", "escalated_by": "emp-1", "escalation_reason": "stuck",
	}).AssertStatus(http.StatusOK).DecodeJSON(&escalated)
	if !escalated.Escalation.IsEscalated {
		t.Error("expected is_escalated")
	}

	f.do(t, http.MethodPost, base+"/exception", map[string]interface{}{"reason": "late records", "additional_time": 0}).
		AssertStatus(http.StatusUnprocessableEntity)

	var extended api.SLAResponse
	f.do(t, http.MethodPost, base+"/exception", map[string]interface{}{
		"reason": "late records", "granted_by": "mgr-2", "additional_time": 4,
	}).AssertStatus(http.StatusOK).DecodeJSON(&extended)
	if extended.Config.TargetHours != 28 {
		t.Errorf("target_hours = %v, want 28", extended.Config.TargetHours)
	}

	var trail api.AuditTrailResponse
	f.do(t, http.MethodGet, base+"/audit-trail", nil).AssertStatus(http.StatusOK).DecodeJSON(&trail)
	if trail.SLAID != rec.UUID {
		t.Errorf("sla_id = %q, want %q", trail.SLAID, rec.UUID)
	}
	if len(trail.Events) < 3 {
		t.Errorf("expected created, escalated and exception events, got %d", len(trail.Events))
	}
}

func TestSLAAPI_Validate(t *testing.T) {
	f := newAPIFixture(t)

	var ok api.ValidateSLAResponse
	f.do(t, http.MethodPost, "/api/slas/validate", createBody("CLM-1")).AssertStatus(http.StatusOK).DecodeJSON(&ok)
	if !ok.Valid || len(ok.Errors) != 0 {
		t.Errorf("expected valid, got %+v", ok)
	}

	bad := createBody("CLM-1")
	bad["target_time"] = 1000
	bad["priority"] = "Whenever"
	var invalid api.ValidateSLAResponse
	f.do(t, http.MethodPost, "/api/slas/validate", bad).AssertStatus(http.StatusOK).DecodeJSON(&invalid)
	if invalid.Valid {
		t.Fatal("expected invalid")
	}
	for _, field := range []string{"target_time", "priority"} {
		if _, found := invalid.Errors[field]; !found {
			t.Errorf("missing error for %s: %v", field, invalid.Errors)
		}
	}

	var total int64
	f.db.Model(&database.SLATracking{}).Count(&total)
	if total != 0 {
		t.Errorf("validate must not persist, found %d records", total)
	}
}

func TestSLAAPI_Upcoming(t *testing.T) {
	f := newAPIFixture(t)
	f.create(t, "CLM-1")

	var none []api.SLAResponse
	f.do(t, http.MethodGet, "/api/slas/upcoming?hours=12", nil).AssertStatus(http.StatusOK).DecodeJSON(&none)
	if len(none) != 0 {
		t.Errorf("expected nothing due within 12h, got %d", len(none))
	}

	var due []api.SLAResponse
	f.do(t, http.MethodGet, "/api/slas/upcoming?hours=30", nil).AssertStatus(http.StatusOK).DecodeJSON(&due)
	if len(due) != 1 {
		t.Errorf("expected 1 record due within 30h, got %d", len(due))
	}

	f.do(t, http.MethodGet, "/api/slas/upcoming?hours=soon", nil).AssertStatus(http.StatusUnprocessableEntity)
	f.do(t, http.MethodGet, "/api/slas/upcoming?hours=-1", nil).AssertStatus(http.StatusUnprocessableEntity)
}

func TestSLAAPI_MonitorAndNotifications(t *testing.T) {
	f := newAPIFixture(t)
	f.create(t, "CLM-1")
	f.clock.Advance(25 * time.Hour)

	var result jobs.SweepResult
	f.do(t, http.MethodPost, "/api/slas/monitor", nil).AssertStatus(http.StatusOK).DecodeJSON(&result)
	if result.Checked != 1 || result.BreachesDetected != 1 {
		t.Errorf("sweep result = %+v, want 1 checked and 1 breach", result)
	}

	var notes []database.Notification
	f.do(t, http.MethodGet, "/api/notifications?recipient=emp-1", nil).AssertStatus(http.StatusOK).DecodeJSON(&notes)
	if len(notes) != 1 || notes[0].Type != services.NotificationTypeBreach {
		t.Errorf("notifications = %+v, want one breach", notes)
	}

	var mine []database.Notification
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/notifications?recipient=emp-1", nil).
		WithContext(scoped("co-1", "emp-2")).
		Execute(f.mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&mine)
	if len(mine) != 0 {
		t.Errorf("scoped caller should only see their own notifications, got %d", len(mine))
	}
}

func TestSLAAPI_MonitorUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	NewSLAHandler(services.NewSLAService(testhelpers.NewTestDB(t)), nil, nil).SetupRoutes(mux)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/slas/monitor", nil).
		Execute(mux).
		AssertStatus(http.StatusServiceUnavailable)
}

func TestSLAAPI_Delete(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.create(t, "CLM-1")

	f.do(t, http.MethodDelete, "/api/slas/"+rec.UUID, nil).AssertStatus(http.StatusNoContent)
	f.do(t, http.MethodGet, "/api/slas/"+rec.UUID, nil).AssertStatus(http.StatusNotFound)
	f.do(t, http.MethodDelete, "/api/slas/"+rec.UUID, nil).AssertStatus(http.StatusNotFound)
}

func TestSLAAPI_MalformedID(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/api/slas/not-a-uuid", "/api/slas/not-a-uuid/audit-trail"} {
		f.do(t, http.MethodGet, path, nil).
			AssertStatus(http.StatusNotFound).
			AssertBodyContains(`"code":"not_found"`)
	}
	f.do(t, http.MethodDelete, "/api/slas/12345", nil).AssertStatus(http.StatusNotFound)
}
