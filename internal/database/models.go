package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SLAStatus represents the lifecycle status of an SLA tracking record
type SLAStatus string

const (
	SLAStatusActive    SLAStatus = "Active"
	SLAStatusPaused    SLAStatus = "Paused"
	SLAStatusOnHold    SLAStatus = "OnHold"
	SLAStatusAtRisk    SLAStatus = "AtRisk"
	SLAStatusCompleted SLAStatus = "Completed"
	SLAStatusCancelled SLAStatus = "Cancelled"
	SLAStatusBreached  SLAStatus = "Breached"

	// SLAStatusExpired is only accepted as caller input and maps to Breached.
	SLAStatusExpired SLAStatus = "Expired"
)

// ValidSLAStatuses returns the statuses a record can be stored with
func ValidSLAStatuses() []SLAStatus {
	return []SLAStatus{
		SLAStatusActive,
		SLAStatusPaused,
		SLAStatusOnHold,
		SLAStatusAtRisk,
		SLAStatusCompleted,
		SLAStatusCancelled,
		SLAStatusBreached,
	}
}

// ParseSLAStatus matches s case-insensitively against the known statuses,
// including the Expired input alias.
func ParseSLAStatus(s string) (SLAStatus, bool) {
	s = strings.TrimSpace(s)
	for _, st := range append(ValidSLAStatuses(), SLAStatusExpired) {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible
func (s SLAStatus) IsTerminal() bool {
	return s == SLAStatusCompleted || s == SLAStatusCancelled
}

// IsOpen reports whether the record still counts as in-flight work
func (s SLAStatus) IsOpen() bool {
	switch s {
	case SLAStatusActive, SLAStatusAtRisk, SLAStatusPaused, SLAStatusOnHold:
		return true
	}
	return false
}

// OpenSLAStatuses are the statuses reported as "active" in statistics
func OpenSLAStatuses() []SLAStatus {
	return []SLAStatus{SLAStatusActive, SLAStatusAtRisk, SLAStatusPaused, SLAStatusOnHold}
}

// SLAType is the kind of commitment being tracked
type SLAType string

const (
	SLATypeTaskCompletion      SLAType = "task_completion"
	SLATypeResponseTime        SLAType = "response_time"
	SLATypeResolutionTime      SLAType = "resolution_time"
	SLATypeQualityMetrics      SLAType = "quality_metrics"
	SLATypeClientCommunication SLAType = "client_communication"
	SLATypeEscalationTime      SLAType = "escalation_time"
)

// ValidSLATypes returns all supported SLA types
func ValidSLATypes() []SLAType {
	return []SLAType{
		SLATypeTaskCompletion,
		SLATypeResponseTime,
		SLATypeResolutionTime,
		SLATypeQualityMetrics,
		SLATypeClientCommunication,
		SLATypeEscalationTime,
	}
}

// IsValid checks if the SLA type is one of the supported values
func (t SLAType) IsValid() bool {
	for _, v := range ValidSLATypes() {
		if t == v {
			return true
		}
	}
	return false
}

// ResolutionType records how an SLA ended or was last extended
type ResolutionType string

const (
	ResolutionNone             ResolutionType = ""
	ResolutionCompletedOnTime  ResolutionType = "completed_on_time"
	ResolutionCompletedLate    ResolutionType = "completed_late"
	ResolutionEscalated        ResolutionType = "escalated"
	ResolutionCancelled        ResolutionType = "cancelled"
	ResolutionExceptionGranted ResolutionType = "exception_granted"
)

// PauseEntry is one pause interval of the SLA clock
type PauseEntry struct {
	PausedAt           time.Time  `json:"paused_at"`
	PausedBy           *string    `json:"paused_by,omitempty"`
	Reason             string     `json:"reason"`
	Notes              string     `json:"notes,omitempty"`
	ResumedAt          *time.Time `json:"resumed_at,omitempty"`
	ResumedBy          *string    `json:"resumed_by,omitempty"`
	ResumeNotes        string     `json:"resume_notes,omitempty"`
	PauseDurationHours float64    `json:"pause_duration_hours"`
}

// IsOpen reports whether the interval has not been resumed yet
func (p PauseEntry) IsOpen() bool {
	return p.ResumedAt == nil
}

// PauseHistory is stored as a JSON column
type PauseHistory []PauseEntry

// Scan implements the sql.Scanner interface
func (h *PauseHistory) Scan(value interface{}) error {
	return scanJSONList(value, h)
}

// Value implements the driver.Valuer interface
func (h PauseHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// StatusEntry is one row of the status change log
type StatusEntry struct {
	Status          SLAStatus `json:"status"`
	ChangedAt       time.Time `json:"changed_at"`
	ChangedBy       *string   `json:"changed_by,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	SystemGenerated bool      `json:"system_generated"`
}

// StatusHistory is stored as a JSON column
type StatusHistory []StatusEntry

// Scan implements the sql.Scanner interface
func (h *StatusHistory) Scan(value interface{}) error {
	return scanJSONList(value, h)
}

// Value implements the driver.Valuer interface
func (h StatusHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// StringList is a JSON encoded list of strings
type StringList []string

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	return scanJSONList(value, l)
}

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// scanJSONList decodes a JSON column; postgres hands back []byte, sqlite may return string.
func scanJSONList(value interface{}, dst interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// SLAConfig describes what is being measured
type SLAConfig struct {
	Type        SLAType `gorm:"size:32;index;not null" json:"type"`
	Description string  `gorm:"type:text" json:"description"`
	// TargetHours is the effective target including granted exceptions.
	TargetHours float64 `gorm:"not null" json:"target_hours"`
	// BaseTargetHours is the target resolved when the record was created.
	BaseTargetHours float64 `gorm:"not null" json:"base_target_hours"`
}

// TriggerInfo records what started the clock
type TriggerInfo struct {
	Event       string  `gorm:"size:128" json:"event"`
	TriggeredBy *string `gorm:"size:64" json:"triggered_by,omitempty"`
}

// TimerInfo holds the derived timing fields
type TimerInfo struct {
	StartDateTime     time.Time    `gorm:"not null" json:"start_date_time"`
	DueDateTime       time.Time    `gorm:"index;not null" json:"due_date_time"`
	TimeRemaining     float64      `json:"time_remaining"`
	TotalElapsedHours float64      `json:"total_elapsed_hours"`
	TotalPausedHours  float64      `json:"total_paused_hours"`
	PauseHistory      PauseHistory `gorm:"type:jsonb" json:"pause_history"`
}

// StatusInfo holds the current status and its append-only log
type StatusInfo struct {
	CurrentStatus SLAStatus     `gorm:"size:16;index;not null" json:"current_status"`
	History       StatusHistory `gorm:"type:jsonb" json:"status_history"`
}

// BreachInfo is set once the due time passes on open work
type BreachInfo struct {
	IsBreached    bool       `gorm:"default:false;index" json:"is_breached"`
	DetectedAt    *time.Time `json:"breach_detected_at,omitempty"`
	DurationHours float64    `json:"breach_duration_hours"`
}

// NotificationInfo carries the one-shot notification flags
type NotificationInfo struct {
	WarningSent       bool `gorm:"default:false" json:"warning_sent"`
	CriticalAlertSent bool `gorm:"default:false" json:"critical_alert_sent"`
}

// EscalationInfo records a hand-off to a higher authority
type EscalationInfo struct {
	IsEscalated bool       `gorm:"default:false" json:"is_escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	EscalatedTo *string    `gorm:"size:64" json:"escalated_to,omitempty"`
	EscalatedBy *string    `gorm:"size:64" json:"escalated_by,omitempty"`
	Reason      string     `gorm:"type:text" json:"escalation_reason,omitempty"`
}

// ExceptionInfo records granted extensions; AdditionalTimeHours is the sum of all grants
type ExceptionInfo struct {
	HasException        bool       `gorm:"default:false" json:"has_exception"`
	GrantedAt           *time.Time `json:"granted_at,omitempty"`
	GrantedBy           *string    `gorm:"size:64" json:"granted_by,omitempty"`
	Reason              string     `gorm:"type:text" json:"reason,omitempty"`
	AdditionalTimeHours float64    `json:"additional_time_hours"`
	Notes               string     `gorm:"type:text" json:"notes,omitempty"`
}

// ResolutionInfo records the outcome
type ResolutionInfo struct {
	Type ResolutionType `gorm:"size:32" json:"resolution_type,omitempty"`
}

// SLATracking is a time-bound commitment attached to a claim task
type SLATracking struct {
	ID                  uint    `gorm:"primaryKey" json:"-"`
	UUID                string  `gorm:"uniqueIndex;size:36;not null" json:"id"`
	CompanyRef          string  `gorm:"column:company_ref;index;size:64;not null" json:"company_ref"`
	ClientRef           string  `gorm:"column:client_ref;index;size:64;not null" json:"client_ref"`
	SOWRef              string  `gorm:"column:sow_ref;size:64;not null" json:"sow_ref"`
	ClaimRef            string  `gorm:"column:claim_ref;index;size:64;not null" json:"claim_ref"`
	AssignedEmployeeRef *string `gorm:"column:assigned_employee_ref;index;size:64" json:"assigned_employee_ref,omitempty"`
	Priority            string  `gorm:"size:16" json:"priority"`

	Config       SLAConfig        `gorm:"embedded;embeddedPrefix:config_" json:"sla_config"`
	Trigger      TriggerInfo      `gorm:"embedded;embeddedPrefix:trigger_" json:"trigger_info"`
	Timer        TimerInfo        `gorm:"embedded;embeddedPrefix:timer_" json:"timer_info"`
	Status       StatusInfo       `gorm:"embedded;embeddedPrefix:status_" json:"status_info"`
	Breach       BreachInfo       `gorm:"embedded;embeddedPrefix:breach_" json:"breach_info"`
	Notification NotificationInfo `gorm:"embedded;embeddedPrefix:notification_" json:"notification_info"`
	Escalation   EscalationInfo   `gorm:"embedded;embeddedPrefix:escalation_" json:"escalation"`
	Exception    ExceptionInfo    `gorm:"embedded;embeddedPrefix:exception_" json:"exception"`
	Resolution   ResolutionInfo   `gorm:"embedded;embeddedPrefix:resolution_" json:"resolution"`

	ClosedAt  *time.Time `gorm:"index" json:"closed_at,omitempty"`
	CreatedBy *string    `gorm:"size:64" json:"created_by,omitempty"`
	IsActive  bool       `gorm:"default:true;index" json:"is_active"`
	Version   int        `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the table name for SLATracking
func (SLATracking) TableName() string {
	return "sla_trackings"
}

// Column names used in queries against embedded fields
const (
	ColumnCurrentStatus = "status_current_status"
	ColumnDueDateTime   = "timer_due_date_time"
	ColumnSLAType       = "config_type"
	ColumnIsBreached    = "breach_is_breached"
)

// Employee is a read-only projection of the organization's employee directory
type Employee struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Ref         string    `gorm:"uniqueIndex;size:64;not null" json:"ref"`
	CompanyRef  string    `gorm:"column:company_ref;index;size:64;not null" json:"company_ref"`
	Name        string    `gorm:"size:255" json:"name"`
	Email       string    `gorm:"size:255" json:"email"`
	SlackUserID string    `gorm:"size:32" json:"slack_user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DisplayName returns the name, falling back to the reference
func (e Employee) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Ref
}

// Client is a read-only projection of the client registry
type Client struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Ref        string    `gorm:"uniqueIndex;size:64;not null" json:"ref"`
	CompanyRef string    `gorm:"column:company_ref;index;size:64;not null" json:"company_ref"`
	Name       string    `gorm:"size:255" json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NotificationPriority orders notifications for delivery channels
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityMedium NotificationPriority = "medium"
	NotificationPriorityHigh   NotificationPriority = "high"
	NotificationPriorityUrgent NotificationPriority = "urgent"
)

// Notification is an in-app notification produced by the SLA engine
type Notification struct {
	ID         uint                 `gorm:"primaryKey" json:"-"`
	UUID       string               `gorm:"uniqueIndex;size:36;not null" json:"id"`
	CompanyRef string               `gorm:"column:company_ref;index;size:64;not null" json:"company_ref"`
	Recipients StringList           `gorm:"type:jsonb" json:"recipients"`
	Title      string               `gorm:"size:255" json:"title"`
	Message    string               `gorm:"type:text" json:"message"`
	Type       string               `gorm:"size:32" json:"type"`
	Category   string               `gorm:"size:32" json:"category"`
	Priority   NotificationPriority `gorm:"size:16" json:"priority"`
	ActionURL  string               `gorm:"size:512" json:"action_url,omitempty"`
	SLAUUID    string               `gorm:"column:sla_uuid;index;size:36" json:"sla_id,omitempty"`
	Read       bool                 `gorm:"default:false" json:"read"`
	CreatedAt  time.Time            `gorm:"index" json:"created_at"`
}

// HasRecipient reports whether ref is one of the recipients
func (n Notification) HasRecipient(ref string) bool {
	for _, r := range n.Recipients {
		if r == ref {
			return true
		}
	}
	return false
}
