package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/claimops/slatracker/internal/lock"
	"github.com/claimops/slatracker/internal/metrics"
	"github.com/claimops/slatracker/internal/services"
)

const (
	defaultConcurrency = 4
	defaultSweepTTL    = 4 * time.Minute
)

// SweepResult summarizes one breach sweep
type SweepResult struct {
	Checked              int  `json:"checked"`
	Updated              int  `json:"updated"`
	WarningsIssued       int  `json:"warnings_issued"`
	CriticalAlertsIssued int  `json:"critical_alerts_issued"`
	BreachesDetected     int  `json:"breaches_detected"`
	Errors               int  `json:"errors"`
	NotificationFailures int  `json:"notification_failures"`
	Skipped              bool `json:"skipped,omitempty"`
}

func (r SweepResult) stats() metrics.SweepStats {
	return metrics.SweepStats{
		Checked:              r.Checked,
		Updated:              r.Updated,
		WarningsIssued:       r.WarningsIssued,
		CriticalAlertsIssued: r.CriticalAlertsIssued,
		BreachesDetected:     r.BreachesDetected,
		Errors:               r.Errors,
	}
}

// Evaluator is the part of the SLA service the sweep drives
type Evaluator interface {
	SweepCandidates(ctx context.Context, companyRef string) ([]string, error)
	Reevaluate(ctx context.Context, id string) (services.Evaluation, error)
}

// BreachMonitor re-evaluates open SLA records against the clock
type BreachMonitor struct {
	sla         Evaluator
	locker      lock.Locker
	metrics     *metrics.Metrics
	log         *zap.Logger
	concurrency int
	lockTTL     time.Duration
}

// MonitorOption configures a BreachMonitor
type MonitorOption func(*BreachMonitor)

// WithLocker replaces the in-process lock, typically with a Redis lock shared by replicas
func WithLocker(l lock.Locker) MonitorOption {
	return func(m *BreachMonitor) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithMetrics records every sweep on m
func WithMetrics(m *metrics.Metrics) MonitorOption {
	return func(b *BreachMonitor) {
		b.metrics = m
	}
}

// WithMonitorLogger sets the logger
func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(m *BreachMonitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithConcurrency bounds the number of records evaluated in parallel
func WithConcurrency(n int) MonitorOption {
	return func(m *BreachMonitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithLockTTL sets how long a sweep lock is held at most
func WithLockTTL(d time.Duration) MonitorOption {
	return func(m *BreachMonitor) {
		if d > 0 {
			m.lockTTL = d
		}
	}
}

// NewBreachMonitor creates a monitor over the SLA service
func NewBreachMonitor(svc Evaluator, opts ...MonitorOption) *BreachMonitor {
	m := &BreachMonitor{
		sla:         svc,
		locker:      lock.NewLocalLocker(),
		log:         zap.NewNop(),
		concurrency: defaultConcurrency,
		lockTTL:     defaultSweepTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("breach_monitor")
	return m
}

func sweepLockKey(companyRef string) string {
	if companyRef == "" {
		return "sweep:all"
	}
	return "sweep:" + companyRef
}

// MonitorSLAs runs one sweep over the Active and AtRisk records, optionally
// for one company. A record that fails is counted and the sweep moves on.
// When another sweep holds the lock for the same scope the call returns a
// result with Skipped set.
func (m *BreachMonitor) MonitorSLAs(ctx context.Context, companyRef string) (SweepResult, error) {
	started := time.Now()
	var result SweepResult

	release, ok, err := m.locker.TryLock(ctx, sweepLockKey(companyRef), m.lockTTL)
	if err != nil {
		m.metrics.ObserveSweep(result.stats(), metrics.OutcomeError, time.Since(started), time.Now())
		return result, err
	}
	if !ok {
		m.log.Info("sweep already running, skipping", zap.String("company_ref", companyRef))
		result.Skipped = true
		m.metrics.ObserveSweep(result.stats(), metrics.OutcomeSkipped, 0, time.Now())
		return result, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			m.log.Warn("failed to release sweep lock", zap.Error(err))
		}
	}()

	ids, err := m.sla.SweepCandidates(ctx, companyRef)
	if err != nil {
		m.metrics.ObserveSweep(result.stats(), metrics.OutcomeError, time.Since(started), time.Now())
		return result, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			// Per-record failures never cancel the group; only the parent context does.
			if err := gctx.Err(); err != nil {
				return err
			}
			eval, err := m.sla.Reevaluate(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			if err != nil {
				result.Errors++
				m.log.Warn("failed to evaluate sla",
					zap.String("sla_id", id),
					zap.Error(err))
				return nil
			}
			result.Updated++
			if eval.Changes.WarningSet {
				result.WarningsIssued++
			}
			if eval.Changes.CriticalSet {
				result.CriticalAlertsIssued++
			}
			if eval.Changes.BreachDetected {
				result.BreachesDetected++
			}
			if eval.NotifyErr != nil {
				result.NotificationFailures++
			}
			return nil
		})
	}

	err = g.Wait()
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.log.Warn("sweep interrupted", zap.Int("checked", result.Checked), zap.Error(err))
		}
	}
	took := time.Since(started)
	m.metrics.ObserveSweep(result.stats(), outcome, took, time.Now())

	m.log.Info("sweep finished",
		zap.String("company_ref", companyRef),
		zap.Int("candidates", len(ids)),
		zap.Int("checked", result.Checked),
		zap.Int("updated", result.Updated),
		zap.Int("warnings", result.WarningsIssued),
		zap.Int("critical", result.CriticalAlertsIssued),
		zap.Int("breaches", result.BreachesDetected),
		zap.Int("errors", result.Errors),
		zap.Duration("took", took))
	return result, err
}
