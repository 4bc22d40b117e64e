package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the breach sweep every five minutes
const DefaultSweepSchedule = "@every 5m"

// cronLogger adapts zap to the cron.Logger interface
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

type schedulerOptions struct {
	schedule string
	timeout  time.Duration
	location *time.Location
	log      *zap.Logger
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*schedulerOptions)

// WithSchedule sets the cron expression or descriptor of the sweep
func WithSchedule(spec string) SchedulerOption {
	return func(o *schedulerOptions) {
		if spec != "" {
			o.schedule = spec
		}
	}
}

// WithSweepTimeout bounds a single sweep
func WithSweepTimeout(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLocation sets the scheduler timezone
func WithLocation(loc *time.Location) SchedulerOption {
	return func(o *schedulerOptions) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithSchedulerLogger sets the logger
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// Scheduler runs the breach sweep on a cron schedule. A tick that fires
// while the previous sweep is still running is skipped.
type Scheduler struct {
	monitor  *BreachMonitor
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	rootCtx context.Context
	last    *RunStatus

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler validates the schedule and registers the sweep job
func NewScheduler(monitor *BreachMonitor, opts ...SchedulerOption) (*Scheduler, error) {
	o := schedulerOptions{
		schedule: DefaultSweepSchedule,
		timeout:  defaultSweepTTL,
		location: time.UTC,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log.Named("scheduler")
	cl := cronLogger{log: log.Sugar()}
	c := cron.New(
		cron.WithLocation(o.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{
		monitor:  monitor,
		cron:     c,
		schedule: o.schedule,
		timeout:  o.timeout,
		log:      log,
		rootCtx:  context.Background(),
	}
	if _, err := c.AddFunc(o.schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", o.schedule, err)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for a running sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.rootCtx = ctx
		s.mu.Unlock()
		s.cron.Start()
		s.log.Info("breach sweep scheduled", zap.String("schedule", s.schedule))
	})

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts the cron loop and waits for a running sweep
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.log.Info("breach sweep scheduler stopped")
	})
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	parent := s.rootCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce runs one sweep over all companies and remembers its outcome
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	result, err := s.monitor.MonitorSLAs(ctx, "")
	if err != nil {
		s.log.Error("breach sweep failed", zap.Error(err))
	}

	s.mu.Lock()
	s.last = &RunStatus{Result: result, FinishedAt: time.Now(), Err: err}
	s.mu.Unlock()
	return result, err
}

// RunStatus is the outcome of a finished sweep
type RunStatus struct {
	Result     SweepResult
	FinishedAt time.Time
	Err        error
}

// LastRun returns the most recent sweep; ok is false before the first one
func (s *Scheduler) LastRun() (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return RunStatus{}, false
	}
	return *s.last, true
}
