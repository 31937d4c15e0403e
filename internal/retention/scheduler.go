package retention

import (
	"fmt"
	"time"

	"footprint/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner deletes persisted rows older than a cutoff.
type Pruner interface {
	Prune(cutoff time.Time) bool
}

// Scheduler trims liquidity history to a fixed retention window on a cron schedule.
type Scheduler struct {
	pruner    Pruner
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduler(pruner Pruner, retention time.Duration, schedule string, logger *zap.Logger) *Scheduler {
	if schedule == "" {
		schedule = "@hourly"
	}
	logger = logger.Named("retention")
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		pruner:    pruner,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs one prune immediately and then on every tick of the schedule. A zero
// retention disables the scheduler.
func (s *Scheduler) Start() error {
	if s.retention <= 0 {
		s.logger.Info("retention disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("schedule retention %q: %w", s.schedule, err)
	}

	s.RunOnce()
	s.cron.Start()
	s.logger.Info("retention scheduled", zap.String("schedule", s.schedule), zap.Duration("retention", s.retention))
	return nil
}

// Stop halts the schedule and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) RunOnce() {
	cutoff := s.now().Add(-s.retention)
	if !s.pruner.Prune(cutoff) {
		s.logger.Warn("prune request not accepted", zap.Time("cutoff", cutoff))
		return
	}
	metrics.RetentionPruned.Inc()
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
