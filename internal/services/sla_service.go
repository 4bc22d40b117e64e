package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/sla"
	"github.com/claimops/slatracker/internal/utils"
)

// Accepted range for an explicit target
const (
	MinTargetHours = 0.5
	MaxTargetHours = 720

	defaultMaxRetries   = 3
	defaultStoreTimeout = 10 * time.Second
	defaultPriority     = "Medium"
)

// SLAService owns every read-modify-write of SLA tracking records
type SLAService struct {
	db            *gorm.DB
	clock         sla.Clock
	calc          sla.Calculator
	thresholds    sla.Thresholds
	notifier      Notifier
	log           *zap.Logger
	storeTimeout  time.Duration
	maxRetries    int
	actionBaseURL string
}

// SLAOption configures an SLAService
type SLAOption func(*SLAService)

// WithClock replaces the wall clock
func WithClock(c sla.Clock) SLAOption {
	return func(s *SLAService) { s.clock = c }
}

// WithCalculator sets the target calculator
func WithCalculator(c sla.Calculator) SLAOption {
	return func(s *SLAService) { s.calc = c }
}

// WithThresholds sets the warning and critical ratios
func WithThresholds(t sla.Thresholds) SLAOption {
	return func(s *SLAService) { s.thresholds = t }
}

// WithNotifier sets the notification dispatcher
func WithNotifier(n Notifier) SLAOption {
	return func(s *SLAService) { s.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) SLAOption {
	return func(s *SLAService) { s.log = l }
}

// WithStoreTimeout bounds every store call
func WithStoreTimeout(d time.Duration) SLAOption {
	return func(s *SLAService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithMaxRetries bounds the reload-and-reapply attempts after a version conflict
func WithMaxRetries(n int) SLAOption {
	return func(s *SLAService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithActionBaseURL sets the UI base URL used for notification links
func WithActionBaseURL(u string) SLAOption {
	return func(s *SLAService) { s.actionBaseURL = strings.TrimRight(u, "/") }
}

// NewSLAService creates a new SLAService
func NewSLAService(db *gorm.DB, opts ...SLAOption) *SLAService {
	s := &SLAService{
		db:           db,
		clock:        sla.SystemClock{},
		calc:         sla.NewCalculator(sla.DefaultTargetTable()),
		thresholds:   sla.DefaultThresholds(),
		log:          zap.NewNop(),
		storeTimeout: defaultStoreTimeout,
		maxRetries:   defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("sla")
	return s
}

// Now returns the service clock's current time
func (s *SLAService) Now() time.Time {
	return s.clock.Now()
}

// Thresholds returns the configured warning and critical ratios
func (s *SLAService) Thresholds() sla.Thresholds {
	return s.thresholds
}

func (s *SLAService) store(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	return s.db.WithContext(ctx), cancel
}

func (s *SLAService) load(ctx context.Context, db *gorm.DB, id string) (*database.SLATracking, error) {
	rec, err := database.GetSLATrackingByUUID(db, id, companyScope(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sla.NotFound(id)
	}
	return rec, err
}

// mutateFunc changes a freshly loaded record in place
type mutateFunc func(rec *database.SLATracking, now time.Time) error

// mutate loads the record, applies fn and the write-time Recompute, and saves
// it with a version check. A lost race reloads and re-applies fn.
func (s *SLAService) mutate(ctx context.Context, op, id string, fn mutateFunc) (*database.SLATracking, sla.Changes, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		rec, err := s.load(ctx, db, id)
		if err != nil {
			return nil, sla.Changes{}, sla.Internal(op, err)
		}

		now := s.clock.Now()
		if fn != nil {
			if err := fn(rec, now); err != nil {
				return nil, sla.Changes{}, sla.Internal(op, err)
			}
		}

		next, changes := sla.Recompute(*rec, now, s.thresholds)
		err = database.SaveSLATracking(db, &next)
		if errors.Is(err, database.ErrStaleRecord) {
			s.log.Debug("version conflict, reloading",
				zap.String("op", op),
				zap.String("sla_id", id),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, sla.Changes{}, sla.Internal(op, err)
		}
		return &next, changes, nil
	}

	return nil, sla.Changes{}, fmt.Errorf("%s %q after %d attempts: %w", op, id, s.maxRetries+1, sla.ErrConflict)
}

// ========== Create / Validate ==========

// CreateInput describes a new SLA tracking record
type CreateInput struct {
	CompanyRef          string
	ClientRef           string
	SOWRef              string
	ClaimRef            string
	AssignedEmployeeRef *string
	SLAType             database.SLAType
	Description         string
	Priority            string
	// TargetHours overrides every other target source when set.
	TargetHours *float64
	// CustomTargets are per-type overrides, typically from the client's SOW.
	CustomTargets map[database.SLAType]float64
	StartDateTime *time.Time
	TriggerEvent  string
	TriggeredBy   *string
	CreatedBy     *string
}

// ValidateSLAData checks in without touching the store. An empty result means valid.
func (s *SLAService) ValidateSLAData(ctx context.Context, in CreateInput) sla.FieldErrors {
	if scope := companyScope(ctx); scope != "" {
		in.CompanyRef = scope
	}
	return s.validateCreate(in, s.clock.Now())
}

func (s *SLAService) validateCreate(in CreateInput, now time.Time) sla.FieldErrors {
	errs := sla.FieldErrors{}

	refs := []struct {
		field, value string
	}{
		{"company_ref", in.CompanyRef},
		{"client_ref", in.ClientRef},
		{"sow_ref", in.SOWRef},
		{"claim_ref", in.ClaimRef},
	}
	for _, r := range refs {
		if err := utils.ValidateRef(r.value); err != nil {
			errs[r.field] = err.Error()
		}
	}
	if in.AssignedEmployeeRef != nil && *in.AssignedEmployeeRef != "" {
		if err := utils.ValidateRef(*in.AssignedEmployeeRef); err != nil {
			errs["assigned_employee_ref"] = err.Error()
		}
	}

	if in.SLAType == "" {
		errs["sla_type"] = "is required"
	} else if !in.SLAType.IsValid() {
		errs["sla_type"] = fmt.Sprintf("must be one of %v", database.ValidSLATypes())
	}

	if in.TargetHours != nil && (*in.TargetHours < MinTargetHours || *in.TargetHours > MaxTargetHours) {
		errs["target_time"] = fmt.Sprintf("must be between %v and %v hours", MinTargetHours, MaxTargetHours)
	}
	for t, h := range in.CustomTargets {
		if h < MinTargetHours || h > MaxTargetHours {
			errs["custom_targets."+string(t)] = fmt.Sprintf("must be between %v and %v hours", MinTargetHours, MaxTargetHours)
		}
	}

	if in.StartDateTime != nil && in.StartDateTime.After(now) {
		errs["start_time"] = "cannot be in the future"
	}
	if in.Priority != "" && !sla.IsValidPriority(in.Priority) {
		errs["priority"] = fmt.Sprintf("must be one of %v", sla.ValidPriorities())
	}
	return errs
}

// Create validates in, resolves the target and stores a new Active record
func (s *SLAService) Create(ctx context.Context, in CreateInput) (*database.SLATracking, error) {
	now := s.clock.Now()
	if scope := companyScope(ctx); scope != "" {
		in.CompanyRef = scope
	}
	if errs := s.validateCreate(in, now); len(errs) > 0 {
		return nil, errs
	}

	target := s.calc.ResolveTargetHours(in.SLAType, in.Priority, in.TargetHours, in.CustomTargets)
	start := now
	if in.StartDateTime != nil {
		start = in.StartDateTime.UTC()
	}
	priority := in.Priority
	if priority == "" {
		priority = defaultPriority
	}
	var assigned *string
	if in.AssignedEmployeeRef != nil && *in.AssignedEmployeeRef != "" {
		assigned = in.AssignedEmployeeRef
	}
	event := in.TriggerEvent
	if event == "" {
		event = "manual"
	}

	rec := database.SLATracking{
		CompanyRef:          in.CompanyRef,
		ClientRef:           in.ClientRef,
		SOWRef:              in.SOWRef,
		ClaimRef:            in.ClaimRef,
		AssignedEmployeeRef: assigned,
		Priority:            priority,
		Config: database.SLAConfig{
			Type:            in.SLAType,
			Description:     in.Description,
			TargetHours:     target,
			BaseTargetHours: target,
		},
		Trigger: database.TriggerInfo{
			Event:       event,
			TriggeredBy: in.TriggeredBy,
		},
		Timer: database.TimerInfo{
			StartDateTime: start,
			PauseHistory:  database.PauseHistory{},
		},
		Status: database.StatusInfo{
			CurrentStatus: database.SLAStatusActive,
			History: database.StatusHistory{{
				Status:          database.SLAStatusActive,
				ChangedAt:       now,
				Reason:          "SLA Created",
				SystemGenerated: true,
			}},
		},
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.Timer.DueDateTime = sla.DueDateTimeFor(&rec)

	next, changes := sla.Recompute(rec, now, s.thresholds)

	db, cancel := s.store(ctx)
	defer cancel()
	if err := database.CreateSLATracking(db, &next); err != nil {
		return nil, sla.Internal("createSLATracking", err)
	}

	s.log.Info("sla tracking created",
		zap.String("sla_id", next.UUID),
		zap.String("company_ref", next.CompanyRef),
		zap.String("claim_ref", next.ClaimRef),
		zap.String("sla_type", string(next.Config.Type)),
		zap.Float64("target_hours", next.Config.TargetHours),
		zap.Time("due", next.Timer.DueDateTime))

	_ = s.notifyChanges(ctx, &next, changes)
	return &next, nil
}

// ========== Status updates ==========

// StatusUpdate is a caller-requested status change
type StatusUpdate struct {
	Status    string
	ChangedBy string
	Reason    string
	Notes     string
}

func (u StatusUpdate) validate() (database.SLAStatus, error) {
	errs := sla.FieldErrors{}
	if strings.TrimSpace(u.Status) == "" {
		errs["status"] = "is required"
	}
	if strings.TrimSpace(u.ChangedBy) == "" {
		errs["changed_by"] = "is required"
	}
	if len(errs) > 0 {
		return "", errs
	}
	to, ok := database.ParseSLAStatus(u.Status)
	if !ok {
		return "", sla.FieldErrors{"status": fmt.Sprintf("unknown status %q", u.Status)}
	}
	return to, nil
}

// UpdateStatus applies a status transition and persists the record
func (s *SLAService) UpdateStatus(ctx context.Context, id string, u StatusUpdate) (*database.SLATracking, error) {
	to, err := u.validate()
	if err != nil {
		return nil, err
	}

	by := u.ChangedBy
	change := sla.Change{ChangedBy: &by, Reason: u.Reason, Notes: u.Notes}
	rec, changes, err := s.mutate(ctx, "updateSLAStatus", id, func(rec *database.SLATracking, now time.Time) error {
		return sla.Apply(rec, to, change, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sla status updated",
		zap.String("sla_id", id),
		zap.String("status", string(rec.Status.CurrentStatus)),
		zap.String("changed_by", by),
		zap.String("reason", utils.EscapeForLogging(u.Reason, 200)))

	_ = s.notifyChanges(ctx, rec, changes)
	return rec, nil
}

// BulkResult is the outcome of one id in a bulk update
type BulkResult struct {
	ID     string
	Record *database.SLATracking
	Err    error
}

// BulkUpdate applies u to every id independently. A failing id never stops the rest.
func (s *SLAService) BulkUpdate(ctx context.Context, ids []string, u StatusUpdate) ([]BulkResult, error) {
	if len(ids) == 0 {
		return nil, sla.FieldErrors{"ids": "at least one id is required"}
	}
	if _, err := u.validate(); err != nil {
		return nil, err
	}

	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, BulkResult{ID: id, Err: sla.Internal("bulkUpdateSLAs", err)})
			continue
		}
		rec, err := s.UpdateStatus(ctx, id, u)
		results = append(results, BulkResult{ID: id, Record: rec, Err: err})
	}
	return results, nil
}

// ========== Reads ==========

// GetByID returns the record with timer fields refreshed for now. Nothing is persisted.
func (s *SLAService) GetByID(ctx context.Context, id string) (*database.SLATracking, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	rec, err := s.load(ctx, db, id)
	if err != nil {
		return nil, sla.Internal("getSLAById", err)
	}
	sla.RefreshTimers(rec, s.clock.Now())
	return rec, nil
}

// ListFilter selects records for List
type ListFilter struct {
	Statuses    []database.SLAStatus
	Types       []database.SLAType
	EmployeeRef string
	ClientRef   string
	ClaimRef    string
	Breached    *bool
	From        *time.Time
	To          *time.Time
	Offset      int
	Limit       int
}

// List returns one page of records, newest first, and the total match count
func (s *SLAService) List(ctx context.Context, f ListFilter) ([]database.SLATracking, int64, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	q := database.SLAQuery{
		CompanyRef:  companyScope(ctx),
		Statuses:    f.Statuses,
		Types:       f.Types,
		EmployeeRef: f.EmployeeRef,
		ClientRef:   f.ClientRef,
		ClaimRef:    f.ClaimRef,
		Breached:    f.Breached,
		CreatedFrom: f.From,
		CreatedTo:   f.To,
	}
	records, total, err := database.ListSLATrackings(db, q, f.Offset, f.Limit)
	if err != nil {
		return nil, 0, sla.Internal("getSLAs", err)
	}

	now := s.clock.Now()
	for i := range records {
		sla.RefreshTimers(&records[i], now)
	}
	return records, total, nil
}

// Upcoming returns open records due within the next hours, earliest first
func (s *SLAService) Upcoming(ctx context.Context, hours float64, limit int) ([]database.SLATracking, error) {
	if hours <= 0 || hours > MaxTargetHours {
		return nil, sla.FieldErrors{"hours": fmt.Sprintf("must be greater than 0 and at most %v", MaxTargetHours)}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	now := s.clock.Now()
	until := now.Add(sla.HoursToDuration(hours))
	q := database.SLAQuery{
		CompanyRef: companyScope(ctx),
		Statuses:   database.OpenSLAStatuses(),
		DueFrom:    &now,
		DueTo:      &until,
		OnlyActive: true,
	}

	db, cancel := s.store(ctx)
	defer cancel()
	records, err := database.UpcomingSLATrackings(db, q, limit)
	if err != nil {
		return nil, sla.Internal("getUpcomingSLADeadlines", err)
	}
	for i := range records {
		sla.RefreshTimers(&records[i], now)
	}
	return records, nil
}

// Delete permanently removes a record
func (s *SLAService) Delete(ctx context.Context, id string) error {
	db, cancel := s.store(ctx)
	defer cancel()

	deleted, err := database.DeleteSLATracking(db, id, companyScope(ctx))
	if err != nil {
		return sla.Internal("deleteSLA", err)
	}
	if !deleted {
		return sla.NotFound(id)
	}
	s.log.Info("sla tracking deleted", zap.String("sla_id", id))
	return nil
}

// ========== Sweep support ==========

// Evaluation is the outcome of re-evaluating one record against the clock
type Evaluation struct {
	Record    *database.SLATracking
	Changes   sla.Changes
	NotifyErr error
}

// SweepCandidates returns the ids of records the breach sweep should evaluate
func (s *SLAService) SweepCandidates(ctx context.Context, companyRef string) ([]string, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	ids, err := database.SweepCandidateUUIDs(db, companyRef)
	if err != nil {
		return nil, sla.Internal("monitorSLAs", err)
	}
	return ids, nil
}

// Reevaluate applies Recompute at the current time, persists the record and
// dispatches at most one notification for what changed.
func (s *SLAService) Reevaluate(ctx context.Context, id string) (Evaluation, error) {
	rec, changes, err := s.mutate(ctx, "monitorSLAs", id, nil)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Record:    rec,
		Changes:   changes,
		NotifyErr: s.notifyChanges(ctx, rec, changes),
	}, nil
}

// ========== Notifications ==========

func (s *SLAService) actionURL(rec *database.SLATracking) string {
	if s.actionBaseURL == "" {
		return ""
	}
	return s.actionBaseURL + "/slas/" + rec.UUID
}

// notifyChanges sends one notification to the assigned employee. A breach
// supersedes the critical alert, which supersedes the warning.
func (s *SLAService) notifyChanges(ctx context.Context, rec *database.SLATracking, ch sla.Changes) error {
	if s.notifier == nil || rec.AssignedEmployeeRef == nil || *rec.AssignedEmployeeRef == "" {
		return nil
	}

	n := &database.Notification{
		CompanyRef: rec.CompanyRef,
		Recipients: database.StringList{*rec.AssignedEmployeeRef},
		Category:   NotificationCategorySLA,
		ActionURL:  s.actionURL(rec),
		SLAUUID:    rec.UUID,
	}
	remaining := utils.FormatHours(rec.Timer.TimeRemaining)
	switch {
	case ch.BreachDetected:
		n.Type = NotificationTypeBreach
		n.Priority = database.NotificationPriorityUrgent
		n.Title = "SLA breached"
		n.Message = fmt.Sprintf("The %s SLA for claim %s passed its due time %s.",
			rec.Config.Type, rec.ClaimRef, rec.Timer.DueDateTime.Format(time.RFC1123))
	case ch.CriticalSet:
		n.Type = NotificationTypeCritical
		n.Priority = database.NotificationPriorityHigh
		n.Title = "SLA critical"
		n.Message = fmt.Sprintf("The %s SLA for claim %s has %s remaining.", rec.Config.Type, rec.ClaimRef, remaining)
	case ch.WarningSet:
		n.Type = NotificationTypeWarning
		n.Priority = database.NotificationPriorityMedium
		n.Title = "SLA at risk"
		n.Message = fmt.Sprintf("The %s SLA for claim %s has %s remaining.", rec.Config.Type, rec.ClaimRef, remaining)
	default:
		return nil
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("failed to dispatch sla notification",
			zap.String("sla_id", rec.UUID),
			zap.String("type", n.Type),
			zap.Error(err))
		return err
	}
	return nil
}
