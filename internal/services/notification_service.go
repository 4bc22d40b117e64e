package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/metrics"
)

// Notification categories and types produced by the engine
const (
	NotificationCategorySLA = "sla"

	NotificationTypeWarning    = "sla_warning"
	NotificationTypeCritical   = "sla_critical"
	NotificationTypeBreach     = "sla_breach"
	NotificationTypeEscalation = "sla_escalation"
)

// Notifier dispatches notifications. Delivery is best effort; callers log
// failures and never undo the change that caused the notification.
type Notifier interface {
	Notify(ctx context.Context, n *database.Notification) error
}

// Sink is a delivery channel that receives every stored notification
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n database.Notification) error
}

// NotificationService stores notifications and fans them out to the sinks
type NotificationService struct {
	db      *gorm.DB
	sinks   []Sink
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewNotificationService creates a notification service
func NewNotificationService(db *gorm.DB, log *zap.Logger, m *metrics.Metrics, sinks ...Sink) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{
		db:      db,
		sinks:   sinks,
		log:     log.Named("notifications"),
		metrics: m,
		timeout: 10 * time.Second,
	}
}

// AddSink registers another delivery channel
func (s *NotificationService) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Notify persists n and pushes it to every sink. Only the persist step
// decides the returned error; sink failures are logged and counted.
func (s *NotificationService) Notify(ctx context.Context, n *database.Notification) error {
	if len(n.Recipients) == 0 {
		return fmt.Errorf("notification %q has no recipients", n.Title)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := database.CreateNotification(s.db.WithContext(storeCtx), n); err != nil {
		s.metrics.ObserveNotification("store", err)
		return fmt.Errorf("failed to store notification: %w", err)
	}
	s.metrics.ObserveNotification("store", nil)

	for _, sink := range s.sinks {
		sinkCtx, cancelSink := context.WithTimeout(ctx, s.timeout)
		err := sink.Deliver(sinkCtx, *n)
		cancelSink()
		s.metrics.ObserveNotification(sink.Name(), err)
		if err != nil {
			s.log.Warn("notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("notification_id", n.UUID),
				zap.Error(err))
		}
	}
	return nil
}

// List returns the newest notifications for a company, optionally for one recipient
func (s *NotificationService) List(ctx context.Context, recipient string, limit int) ([]database.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := database.ListNotifications(s.db.WithContext(storeCtx), companyScope(ctx), recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return rows, nil
}
