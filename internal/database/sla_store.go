package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrStaleRecord is returned when a versioned update loses a concurrent write
var ErrStaleRecord = errors.New("record was modified concurrently")

// SLAQuery filters SLA tracking records. Zero values are ignored.
type SLAQuery struct {
	CompanyRef  string
	Statuses    []SLAStatus
	Types       []SLAType
	EmployeeRef string
	ClientRef   string
	ClaimRef    string
	Breached    *bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time // exclusive
	DueFrom     *time.Time
	DueTo       *time.Time // exclusive
	ClosedFrom  *time.Time
	OnlyActive  bool
}

// Apply adds the query conditions to db
func (q SLAQuery) Apply(db *gorm.DB) *gorm.DB {
	if q.CompanyRef != "" {
		db = db.Where("company_ref = ?", q.CompanyRef)
	}
	if len(q.Statuses) > 0 {
		db = db.Where(ColumnCurrentStatus+" IN ?", q.Statuses)
	}
	if len(q.Types) > 0 {
		db = db.Where(ColumnSLAType+" IN ?", q.Types)
	}
	if q.EmployeeRef != "" {
		db = db.Where("assigned_employee_ref = ?", q.EmployeeRef)
	}
	if q.ClientRef != "" {
		db = db.Where("client_ref = ?", q.ClientRef)
	}
	if q.ClaimRef != "" {
		db = db.Where("claim_ref = ?", q.ClaimRef)
	}
	if q.Breached != nil {
		db = db.Where(ColumnIsBreached+" = ?", *q.Breached)
	}
	if q.CreatedFrom != nil {
		db = db.Where("created_at >= ?", *q.CreatedFrom)
	}
	if q.CreatedTo != nil {
		db = db.Where("created_at < ?", *q.CreatedTo)
	}
	if q.DueFrom != nil {
		db = db.Where(ColumnDueDateTime+" >= ?", *q.DueFrom)
	}
	if q.DueTo != nil {
		db = db.Where(ColumnDueDateTime+" < ?", *q.DueTo)
	}
	if q.ClosedFrom != nil {
		db = db.Where("closed_at >= ?", *q.ClosedFrom)
	}
	if q.OnlyActive {
		db = db.Where("is_active = ?", true)
	}
	return db
}

// CreateSLATracking inserts a new record, assigning a UUID and the first version
func CreateSLATracking(db *gorm.DB, rec *SLATracking) error {
	if rec.UUID == "" {
		rec.UUID = uuid.NewString()
	}
	rec.Version = 1
	rec.IsActive = true
	return db.Create(rec).Error
}

// GetSLATrackingByUUID loads one record, optionally scoped to a company.
// It returns gorm.ErrRecordNotFound when nothing matches.
func GetSLATrackingByUUID(db *gorm.DB, id, companyRef string) (*SLATracking, error) {
	var rec SLATracking
	q := db.Where("uuid = ?", id)
	if companyRef != "" {
		q = q.Where("company_ref = ?", companyRef)
	}
	if err := q.First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveSLATracking writes every column of rec if the stored version still
// matches rec.Version, then bumps the version. ErrStaleRecord means another
// writer got there first and rec should be reloaded.
func SaveSLATracking(db *gorm.DB, rec *SLATracking) error {
	prev := rec.Version
	rec.Version = prev + 1

	result := db.Model(rec).
		Where("version = ?", prev).
		Select("*").
		Omit("ID", "UUID", "CreatedAt").
		Updates(rec)
	if result.Error != nil {
		rec.Version = prev
		return result.Error
	}
	if result.RowsAffected == 0 {
		rec.Version = prev
		return ErrStaleRecord
	}
	return nil
}

// DeleteSLATracking permanently removes a record. It reports whether a row was deleted.
func DeleteSLATracking(db *gorm.DB, id, companyRef string) (bool, error) {
	q := db.Where("uuid = ?", id)
	if companyRef != "" {
		q = q.Where("company_ref = ?", companyRef)
	}
	result := q.Delete(&SLATracking{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListSLATrackings returns one page of records matching q, newest first, plus the total count
func ListSLATrackings(db *gorm.DB, q SLAQuery, offset, limit int) ([]SLATracking, int64, error) {
	var total int64
	if err := q.Apply(db.Model(&SLATracking{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []SLATracking
	err := q.Apply(db.Model(&SLATracking{})).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// FindSLATrackings returns every record matching q
func FindSLATrackings(db *gorm.DB, q SLAQuery) ([]SLATracking, error) {
	var records []SLATracking
	if err := q.Apply(db.Model(&SLATracking{})).Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpcomingSLATrackings returns up to limit records matching q, earliest due time first
func UpcomingSLATrackings(db *gorm.DB, q SLAQuery, limit int) ([]SLATracking, error) {
	var records []SLATracking
	err := q.Apply(db.Model(&SLATracking{})).
		Order(ColumnDueDateTime + " ASC").
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CountSLATrackings counts records matching q
func CountSLATrackings(db *gorm.DB, q SLAQuery) (int64, error) {
	var n int64
	err := q.Apply(db.Model(&SLATracking{})).Count(&n).Error
	return n, err
}

// SweepCandidateUUIDs returns the UUIDs of active records the breach sweep should evaluate
func SweepCandidateUUIDs(db *gorm.DB, companyRef string) ([]string, error) {
	q := SLAQuery{
		CompanyRef: companyRef,
		Statuses:   []SLAStatus{SLAStatusActive, SLAStatusAtRisk},
		OnlyActive: true,
	}
	var ids []string
	err := q.Apply(db.Model(&SLATracking{})).Order("id ASC").Pluck("uuid", &ids).Error
	return ids, err
}

// GetEmployeesByRefs loads employees keyed by reference. Unknown refs are absent from the map.
func GetEmployeesByRefs(db *gorm.DB, refs []string) (map[string]Employee, error) {
	result := make(map[string]Employee, len(refs))
	if len(refs) == 0 {
		return result, nil
	}
	var employees []Employee
	if err := db.Where("ref IN ?", refs).Find(&employees).Error; err != nil {
		return nil, err
	}
	for _, e := range employees {
		result[e.Ref] = e
	}
	return result, nil
}

// CreateNotification stores an in-app notification
func CreateNotification(db *gorm.DB, n *Notification) error {
	if n.UUID == "" {
		n.UUID = uuid.NewString()
	}
	return db.Create(n).Error
}

// ListNotifications returns the newest notifications of a company, optionally for one recipient
func ListNotifications(db *gorm.DB, companyRef, recipient string, limit int) ([]Notification, error) {
	var rows []Notification
	q := db.Order("created_at DESC").Order("id DESC")
	if companyRef != "" {
		q = q.Where("company_ref = ?", companyRef)
	}
	if recipient == "" {
		if err := q.Limit(limit).Find(&rows).Error; err != nil {
			return nil, err
		}
		return rows, nil
	}

	// Recipients is a JSON list; filter in memory to stay portable across dialects.
	if err := q.Limit(limit * 4).Find(&rows).Error; err != nil {
		return nil, err
	}
	filtered := rows[:0]
	for _, n := range rows {
		if n.HasRecipient(recipient) {
			filtered = append(filtered, n)
			if len(filtered) == limit {
				break
			}
		}
	}
	return filtered, nil
}
