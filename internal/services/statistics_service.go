package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/sla"
)

// Period names a reporting window. Windows are UTC and end-exclusive.
type Period string

const (
	PeriodToday          Period = "today"
	PeriodYesterday      Period = "yesterday"
	PeriodLast7Days      Period = "last_7_days"
	PeriodLast30Days     Period = "last_30_days"
	PeriodCurrentWeek    Period = "current_week"
	PeriodCurrentMonth   Period = "current_month"
	PeriodLastMonth      Period = "last_month"
	PeriodCurrentQuarter Period = "current_quarter"
	PeriodCurrentYear    Period = "current_year"
	PeriodCustom         Period = "custom"
)

const trendDays = 7

// DateRange is a half-open [From, To) window
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ResolvePeriod turns a named period into a date range around now. Custom
// periods use from and to as given. An empty period means current_month.
func ResolvePeriod(p Period, now time.Time, from, to *time.Time) (DateRange, error) {
	day := startOfDay(now)
	switch p {
	case PeriodToday:
		return DateRange{day, day.AddDate(0, 0, 1)}, nil
	case PeriodYesterday:
		return DateRange{day.AddDate(0, 0, -1), day}, nil
	case PeriodLast7Days:
		return DateRange{day.AddDate(0, 0, -6), day.AddDate(0, 0, 1)}, nil
	case PeriodLast30Days:
		return DateRange{day.AddDate(0, 0, -29), day.AddDate(0, 0, 1)}, nil
	case PeriodCurrentWeek:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		monday := day.AddDate(0, 0, -offset)
		return DateRange{monday, monday.AddDate(0, 0, 7)}, nil
	case PeriodCurrentMonth, "":
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return DateRange{first, first.AddDate(0, 1, 0)}, nil
	case PeriodLastMonth:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return DateRange{first.AddDate(0, -1, 0), first}, nil
	case PeriodCurrentQuarter:
		qMonth := time.Month((int(day.Month())-1)/3*3 + 1)
		first := time.Date(day.Year(), qMonth, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{first, first.AddDate(0, 3, 0)}, nil
	case PeriodCurrentYear:
		first := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{first, first.AddDate(1, 0, 0)}, nil
	case PeriodCustom:
		errs := sla.FieldErrors{}
		if from == nil {
			errs["from"] = "is required for a custom period"
		}
		if to == nil {
			errs["to"] = "is required for a custom period"
		}
		if len(errs) > 0 {
			return DateRange{}, errs
		}
		if !from.Before(*to) {
			return DateRange{}, sla.FieldErrors{"to": "must be after from"}
		}
		return DateRange{from.UTC(), to.UTC()}, nil
	default:
		return DateRange{}, sla.FieldErrors{"period": fmt.Sprintf("unknown period %q", p)}
	}
}

// Aggregate holds the counters and rates of a group of records
type Aggregate struct {
	Total              int     `json:"total_slas"`
	Completed          int     `json:"completed_slas"`
	CompletedBreached  int     `json:"completed_breached_slas"`
	Breached           int     `json:"breached_slas"`
	Active             int     `json:"active_slas"`
	Cancelled          int     `json:"cancelled_slas"`
	AvgCompletionHours float64 `json:"avg_completion_hours"`
	AvgTargetHours     float64 `json:"avg_target_hours"`
	TotalBreachHours   float64 `json:"total_breach_hours"`
	ComplianceRate     float64 `json:"compliance_rate"`
	BreachRate         float64 `json:"breach_rate"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComplianceRate is the share of completed records that were not breached; 100 when nothing completed
func ComplianceRate(completed, completedBreached int) float64 {
	if completed == 0 {
		return 100
	}
	return round2(float64(completed-completedBreached) / float64(completed) * 100)
}

// BreachRate is the share of all records that breached; 0 when there are none
func BreachRate(total, breached int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(breached) / float64(total) * 100)
}

func aggregate(records []database.SLATracking) Aggregate {
	var a Aggregate
	var completionSum, targetSum float64

	for _, r := range records {
		a.Total++
		targetSum += r.Config.TargetHours
		a.TotalBreachHours += r.Breach.DurationHours
		if r.Breach.IsBreached {
			a.Breached++
		}
		switch st := r.Status.CurrentStatus; {
		case st == database.SLAStatusCompleted:
			a.Completed++
			completionSum += r.Timer.TotalElapsedHours
			if r.Breach.IsBreached {
				a.CompletedBreached++
			}
		case st == database.SLAStatusCancelled:
			a.Cancelled++
		case st.IsOpen():
			a.Active++
		}
	}

	if a.Completed > 0 {
		a.AvgCompletionHours = round2(completionSum / float64(a.Completed))
	}
	if a.Total > 0 {
		a.AvgTargetHours = round2(targetSum / float64(a.Total))
	}
	a.TotalBreachHours = round2(a.TotalBreachHours)
	a.ComplianceRate = ComplianceRate(a.Completed, a.CompletedBreached)
	a.BreachRate = BreachRate(a.Total, a.Breached)
	return a
}

// StatsFilter narrows the records a statistics call considers
type StatsFilter struct {
	EmployeeRef string
	ClientRef   string
	Type        database.SLAType
	Status      database.SLAStatus
	From        *time.Time
	To          *time.Time
}

// TrendPoint is one day of the daily trend
type TrendPoint struct {
	Date string `json:"date"`
	Aggregate
}

// Statistics is the result of GetSLAStatistics
type Statistics struct {
	Period Period    `json:"period"`
	Range  DateRange `json:"range"`
	Aggregate
	ByType   map[database.SLAType]Aggregate `json:"by_type"`
	ByStatus map[database.SLAStatus]int     `json:"by_status"`
	Trend    []TrendPoint                   `json:"daily_trend"`
}

// EmployeePerformance is one row of GetSLAPerformanceByEmployee
type EmployeePerformance struct {
	EmployeeRef  string `json:"employee_ref"`
	EmployeeName string `json:"employee_name"`
	Aggregate
}

// DashboardSummary holds point-in-time counters for the dashboard
type DashboardSummary struct {
	Active                int64     `json:"active"`
	Breached              int64     `json:"breached"`
	DueToday              int64     `json:"due_today"`
	Critical              int64     `json:"critical"`
	CompletedLast24h      int64     `json:"completed_last_24h"`
	MonthlyComplianceRate float64   `json:"monthly_compliance_rate"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// StatisticsService computes read-only aggregates over SLA records
type StatisticsService struct {
	db           *gorm.DB
	clock        sla.Clock
	log          *zap.Logger
	storeTimeout time.Duration
}

// NewStatisticsService creates a new StatisticsService
func NewStatisticsService(db *gorm.DB, clock sla.Clock, log *zap.Logger) *StatisticsService {
	if clock == nil {
		clock = sla.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StatisticsService{
		db:           db,
		clock:        clock,
		log:          log.Named("statistics"),
		storeTimeout: defaultStoreTimeout,
	}
}

// SetStoreTimeout bounds every store call
func (s *StatisticsService) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		s.storeTimeout = d
	}
}

func (s *StatisticsService) store(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	return s.db.WithContext(ctx), cancel
}

func (f StatsFilter) query(companyRef string, r DateRange) (database.SLAQuery, error) {
	q := database.SLAQuery{
		CompanyRef:  companyRef,
		EmployeeRef: f.EmployeeRef,
		ClientRef:   f.ClientRef,
		CreatedFrom: &r.From,
		CreatedTo:   &r.To,
	}
	if f.Type != "" {
		if !f.Type.IsValid() {
			return q, sla.FieldErrors{"type": fmt.Sprintf("unknown sla type %q", f.Type)}
		}
		q.Types = []database.SLAType{f.Type}
	}
	if f.Status != "" {
		q.Statuses = []database.SLAStatus{f.Status}
	}
	return q, nil
}

// GetSLAStatistics aggregates the records created in the period
func (s *StatisticsService) GetSLAStatistics(ctx context.Context, companyRef string, period Period, f StatsFilter) (*Statistics, error) {
	companyRef = scopedCompany(ctx, companyRef)
	now := s.clock.Now()
	r, err := ResolvePeriod(period, now, f.From, f.To)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = PeriodCurrentMonth
	}
	q, err := f.query(companyRef, r)
	if err != nil {
		return nil, err
	}

	db, cancel := s.store(ctx)
	defer cancel()

	records, err := database.FindSLATrackings(db, q)
	if err != nil {
		return nil, sla.Internal("getSLAStatistics", err)
	}

	stats := &Statistics{
		Period:    period,
		Range:     r,
		Aggregate: aggregate(records),
		ByType:    make(map[database.SLAType]Aggregate),
		ByStatus:  make(map[database.SLAStatus]int),
	}

	byType := make(map[database.SLAType][]database.SLATracking)
	for _, rec := range records {
		byType[rec.Config.Type] = append(byType[rec.Config.Type], rec)
		stats.ByStatus[rec.Status.CurrentStatus]++
	}
	for t, group := range byType {
		stats.ByType[t] = aggregate(group)
	}

	trend, err := s.dailyTrend(db, companyRef, f, now)
	if err != nil {
		return nil, sla.Internal("getSLAStatistics", err)
	}
	stats.Trend = trend

	s.log.Debug("statistics computed",
		zap.String("company_ref", companyRef),
		zap.String("period", string(period)),
		zap.Int("records", len(records)))
	return stats, nil
}

// dailyTrend aggregates each of the last seven days, oldest first
func (s *StatisticsService) dailyTrend(db *gorm.DB, companyRef string, f StatsFilter, now time.Time) ([]TrendPoint, error) {
	end := startOfDay(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -trendDays)
	q, err := f.query(companyRef, DateRange{start, end})
	if err != nil {
		return nil, err
	}
	records, err := database.FindSLATrackings(db, q)
	if err != nil {
		return nil, err
	}

	buckets := make([][]database.SLATracking, trendDays)
	for _, rec := range records {
		i := int(startOfDay(rec.CreatedAt).Sub(start).Hours() / 24)
		if i >= 0 && i < trendDays {
			buckets[i] = append(buckets[i], rec)
		}
	}

	points := make([]TrendPoint, trendDays)
	for i := range points {
		points[i] = TrendPoint{
			Date:      start.AddDate(0, 0, i).Format("2006-01-02"),
			Aggregate: aggregate(buckets[i]),
		}
	}
	return points, nil
}

// GetSLAPerformanceByEmployee aggregates per assigned employee, best compliance first
func (s *StatisticsService) GetSLAPerformanceByEmployee(ctx context.Context, companyRef string, period Period, from, to *time.Time) ([]EmployeePerformance, error) {
	companyRef = scopedCompany(ctx, companyRef)
	r, err := ResolvePeriod(period, s.clock.Now(), from, to)
	if err != nil {
		return nil, err
	}

	db, cancel := s.store(ctx)
	defer cancel()

	records, err := database.FindSLATrackings(db, database.SLAQuery{
		CompanyRef:  companyRef,
		CreatedFrom: &r.From,
		CreatedTo:   &r.To,
	})
	if err != nil {
		return nil, sla.Internal("getSLAPerformanceByEmployee", err)
	}

	groups := make(map[string][]database.SLATracking)
	for _, rec := range records {
		if rec.AssignedEmployeeRef == nil || *rec.AssignedEmployeeRef == "" {
			continue
		}
		groups[*rec.AssignedEmployeeRef] = append(groups[*rec.AssignedEmployeeRef], rec)
	}

	refs := make([]string, 0, len(groups))
	for ref := range groups {
		refs = append(refs, ref)
	}
	employees, err := database.GetEmployeesByRefs(db, refs)
	if err != nil {
		return nil, sla.Internal("getSLAPerformanceByEmployee", err)
	}

	result := make([]EmployeePerformance, 0, len(groups))
	for ref, group := range groups {
		name := ref
		if e, ok := employees[ref]; ok {
			name = e.DisplayName()
		}
		result = append(result, EmployeePerformance{
			EmployeeRef:  ref,
			EmployeeName: name,
			Aggregate:    aggregate(group),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ComplianceRate != result[j].ComplianceRate {
			return result[i].ComplianceRate > result[j].ComplianceRate
		}
		if result[i].Total != result[j].Total {
			return result[i].Total > result[j].Total
		}
		return result[i].EmployeeRef < result[j].EmployeeRef
	})
	return result, nil
}

// GetSLADashboardSummary returns point-in-time counters for a company
func (s *StatisticsService) GetSLADashboardSummary(ctx context.Context, companyRef string) (*DashboardSummary, error) {
	companyRef = scopedCompany(ctx, companyRef)
	now := s.clock.Now()
	dayStart := startOfDay(now)
	dayEnd := dayStart.AddDate(0, 0, 1)
	since := now.Add(-24 * time.Hour)
	month, _ := ResolvePeriod(PeriodCurrentMonth, now, nil, nil)
	notBreached, breached := false, true

	summary := &DashboardSummary{GeneratedAt: now}
	var monthCompleted, monthCompletedBreached int64
	queries := []struct {
		dst *int64
		q   database.SLAQuery
	}{
		{&summary.Active, database.SLAQuery{Statuses: database.OpenSLAStatuses(), OnlyActive: true}},
		{&summary.Breached, database.SLAQuery{Statuses: []database.SLAStatus{database.SLAStatusBreached}}},
		{&summary.DueToday, database.SLAQuery{Statuses: database.OpenSLAStatuses(), OnlyActive: true, DueFrom: &dayStart, DueTo: &dayEnd}},
		{&summary.Critical, database.SLAQuery{Statuses: []database.SLAStatus{database.SLAStatusAtRisk}, OnlyActive: true, Breached: &notBreached}},
		{&summary.CompletedLast24h, database.SLAQuery{Statuses: []database.SLAStatus{database.SLAStatusCompleted}, ClosedFrom: &since}},
		{&monthCompleted, database.SLAQuery{Statuses: []database.SLAStatus{database.SLAStatusCompleted}, CreatedFrom: &month.From, CreatedTo: &month.To}},
		{&monthCompletedBreached, database.SLAQuery{Statuses: []database.SLAStatus{database.SLAStatusCompleted}, Breached: &breached, CreatedFrom: &month.From, CreatedTo: &month.To}},
	}

	db, cancel := s.store(ctx)
	defer cancel()

	for _, item := range queries {
		item.q.CompanyRef = companyRef
		n, err := database.CountSLATrackings(db, item.q)
		if err != nil {
			return nil, sla.Internal("getSLADashboardSummary", err)
		}
		*item.dst = n
	}

	summary.MonthlyComplianceRate = ComplianceRate(int(monthCompleted), int(monthCompletedBreached))
	return summary, nil
}
