package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slatracker"

// Sweep outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	sweepRuns       *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepChecked    prometheus.Counter
	sweepUpdated    prometheus.Counter
	sweepErrors     prometheus.Counter
	slaEvents       *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	lastSweepUnixTs prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Breach sweeps by outcome",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of breach sweeps",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_records_checked_total",
			Help:      "Records evaluated by breach sweeps",
		}),
		sweepUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_records_updated_total",
			Help:      "Records persisted by breach sweeps",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_record_errors_total",
			Help:      "Per-record failures during breach sweeps",
		}),
		slaEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_events_total",
			Help:      "Time-driven SLA events by kind",
		}, []string{"event"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result",
		}, []string{"channel", "result"}),
		lastSweepUnixTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep",
		}),
	}

	reg.MustRegister(
		m.sweepRuns,
		m.sweepDuration,
		m.sweepChecked,
		m.sweepUpdated,
		m.sweepErrors,
		m.slaEvents,
		m.notifications,
		m.lastSweepUnixTs,
	)
	return m
}

// SweepStats is the subset of a sweep result that is exported
type SweepStats struct {
	Checked              int
	Updated              int
	WarningsIssued       int
	CriticalAlertsIssued int
	BreachesDetected     int
	Errors               int
}

// ObserveSweep records one finished sweep
func (m *Metrics) ObserveSweep(stats SweepStats, outcome string, took time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSkipped {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
	m.sweepChecked.Add(float64(stats.Checked))
	m.sweepUpdated.Add(float64(stats.Updated))
	m.sweepErrors.Add(float64(stats.Errors))
	m.slaEvents.WithLabelValues("warning").Add(float64(stats.WarningsIssued))
	m.slaEvents.WithLabelValues("critical").Add(float64(stats.CriticalAlertsIssued))
	m.slaEvents.WithLabelValues("breach").Add(float64(stats.BreachesDetected))
	m.lastSweepUnixTs.Set(float64(finishedAt.Unix()))
}

// ObserveNotification records one delivery attempt on a channel
func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// Registry exposes the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
